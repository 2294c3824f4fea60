// Package output creates and reopens the staging files that sit between the
// COPY extraction and the batch converter, optionally through a codec.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fbz-tec/pg2parquet/core/errs"
	"github.com/fbz-tec/pg2parquet/internal/logger"
)

const (
	None = "none"
	GZIP = "gzip"
	ZSTD = "zstd"
	LZ4  = "lz4"
)

// writeBufferSize is the buffer between codecs and the file.
const writeBufferSize = 256 * 1024

// OutputConfig describes one staging file.
type OutputConfig struct {
	Path        string
	Compression string
}

// NormalizeCompression lowercases a codec name and checks it is supported.
// Empty means None.
func NormalizeCompression(compression string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(compression))
	switch c {
	case "":
		return None, nil
	case None, GZIP, ZSTD, LZ4:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unsupported compression type %q (use none, gzip, zstd or lz4)", errs.ErrConfig, compression)
	}
}

// Extension returns the file suffix of a codec, "" for None.
func Extension(compression string) string {
	switch compression {
	case GZIP:
		return ".gz"
	case ZSTD:
		return ".zst"
	case LZ4:
		return ".lz4"
	default:
		return ""
	}
}

// ResolvePath appends the codec extension to cfg.Path unless it is there.
func ResolvePath(cfg OutputConfig) (string, error) {
	c, err := NormalizeCompression(cfg.Compression)
	if err != nil {
		return "", err
	}
	ext := Extension(c)
	if ext != "" && !strings.HasSuffix(strings.ToLower(cfg.Path), ext) {
		return cfg.Path + ext, nil
	}
	return cfg.Path, nil
}

// CreateWriter creates the file named by ResolvePath and returns a writer that
// compresses into it. Closing the writer finalizes the codec and the file.
func CreateWriter(cfg OutputConfig) (io.WriteCloser, error) {
	path, err := ResolvePath(cfg)
	if err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("error creating file: %w", err)
	}
	w, err := WrapWriter(file, cfg.Compression)
	if err != nil {
		file.Close()
		return nil, err
	}
	return w, nil
}

// WrapWriter layers the codec over an already opened file. Closing the result
// closes f.
func WrapWriter(f io.WriteCloser, compression string) (io.WriteCloser, error) {
	c, err := NormalizeCompression(compression)
	if err != nil {
		return nil, err
	}

	buffered := newBufferedWriteCloser(f, writeBufferSize)
	switch c {
	case GZIP:
		return newGzipWriter(buffered), nil
	case ZSTD:
		return newZstdWriter(buffered)
	case LZ4:
		return newLz4Writer(buffered), nil
	default:
		logger.Debug("Staging without compression")
		return buffered, nil
	}
}
