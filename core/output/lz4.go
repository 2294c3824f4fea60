package output

import (
	"io"
	"time"

	"github.com/fbz-tec/pg2parquet/internal/logger"
	"github.com/pierrec/lz4/v4"
)

func newLz4Writer(w io.WriteCloser) io.WriteCloser {
	start := time.Now()
	logger.Debug("Staging with lz4 compression")
	lz4Writer := lz4.NewWriter(w)
	return &compositeWriteCloser{
		Writer: lz4Writer,
		closeFunc: func() error {
			err := closeBoth(lz4Writer.Close, w)
			logger.Debug("lz4 stream closed in %v", time.Since(start))
			return err
		},
	}
}

func newLz4Reader(r io.ReadCloser) io.ReadCloser {
	return &compositeReadCloser{
		Reader:    lz4.NewReader(r),
		closeFunc: r.Close,
	}
}
