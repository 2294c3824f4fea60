package output

import (
	"fmt"
	"io"
	"time"

	"github.com/fbz-tec/pg2parquet/internal/logger"
	"github.com/klauspost/compress/gzip"
)

func newGzipWriter(w io.WriteCloser) io.WriteCloser {
	start := time.Now()
	logger.Debug("Staging with gzip compression")
	gzipWriter := gzip.NewWriter(w)
	return &compositeWriteCloser{
		Writer: gzipWriter,
		closeFunc: func() error {
			err := closeBoth(gzipWriter.Close, w)
			logger.Debug("gzip stream closed in %v", time.Since(start))
			return err
		},
	}
}

func newGzipReader(r io.ReadCloser) (io.ReadCloser, error) {
	gzipReader, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("error creating gzip reader: %w", err)
	}
	return &compositeReadCloser{
		Reader: gzipReader,
		closeFunc: func() error {
			return closeBoth(gzipReader.Close, r)
		},
	}, nil
}
