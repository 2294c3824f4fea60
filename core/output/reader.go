package output

import (
	"fmt"
	"io"
	"os"
)

// OpenReader opens cfg.Path as is and returns a reader that decompresses it
// with cfg.Compression.
func OpenReader(cfg OutputConfig) (io.ReadCloser, error) {
	file, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}
	r, err := WrapReader(file, cfg.Compression)
	if err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// WrapReader layers the codec decoder over an opened file. Closing the result
// closes f.
func WrapReader(f io.ReadCloser, compression string) (io.ReadCloser, error) {
	c, err := NormalizeCompression(compression)
	if err != nil {
		return nil, err
	}

	switch c {
	case GZIP:
		return newGzipReader(f)
	case ZSTD:
		return newZstdReader(f)
	case LZ4:
		return newLz4Reader(f), nil
	default:
		return f, nil
	}
}
