package output

import (
	"fmt"
	"io"
	"time"

	"github.com/fbz-tec/pg2parquet/internal/logger"
	"github.com/klauspost/compress/zstd"
)

func newZstdWriter(w io.WriteCloser) (io.WriteCloser, error) {
	start := time.Now()
	logger.Debug("Staging with Zstandard compression")
	zstdWriter, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("error creating zstd writer: %w", err)
	}
	return &compositeWriteCloser{
		Writer: zstdWriter,
		closeFunc: func() error {
			err := closeBoth(zstdWriter.Close, w)
			logger.Debug("zstd stream closed in %v", time.Since(start))
			return err
		},
	}, nil
}

func newZstdReader(r io.ReadCloser) (io.ReadCloser, error) {
	zstdReader, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("error creating zstd reader: %w", err)
	}
	return &compositeReadCloser{
		Reader: zstdReader,
		closeFunc: func() error {
			zstdReader.Close()
			return r.Close()
		},
	}, nil
}
