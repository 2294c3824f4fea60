// Package staging materializes a query result as a local CSV file through the
// server-side COPY fast path.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/fbz-tec/pg2parquet/core/errs"
	"github.com/fbz-tec/pg2parquet/core/output"
	"github.com/fbz-tec/pg2parquet/internal/logger"
)

// Copier runs a COPY ... TO STDOUT statement. db.Session satisfies it.
type Copier interface {
	CopyTo(ctx context.Context, w io.Writer, sql string) (int64, error)
}

// CopySQL is the statement that streams query as headerless CSV. NULL is
// written as the unquoted token NULL so a one-column row never becomes an
// empty line; a text value equal to the token is quoted by the server.
func CopySQL(query string) string {
	return "COPY (\n" + query + "\n) TO STDOUT WITH (FORMAT csv, HEADER false, NULL 'NULL')"
}

// Extractor writes staging files into Dir (the system temp dir when empty),
// compressed with Compression.
type Extractor struct {
	Dir         string
	Compression string
}

// File is one staging file, owned by a single export.
type File struct {
	Path        string
	Compression string
	Rows        int64
	kept        bool
}

// Extract streams the result of query into a new staging file. On any error
// the partial file is removed.
func (e Extractor) Extract(ctx context.Context, c Copier, query string) (*File, error) {
	codec, err := output.NormalizeCompression(e.Compression)
	if err != nil {
		return nil, err
	}

	dir := e.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "pg2parquet-*.csv"+output.Extension(codec))
	if err != nil {
		return nil, fmt.Errorf("%w: creating staging file: %w", errs.ErrExtraction, err)
	}
	path := f.Name()

	w, err := output.WrapWriter(f, codec)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w: %w", errs.ErrExtraction, err)
	}

	logger.Debug("Staging to %s (compression: %s)", path, codec)
	start := time.Now()
	rows, err := c.CopyTo(ctx, w, CopySQL(query))
	if cerr := w.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("finalizing staging file: %w", cerr)
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: %w", errs.ErrExtraction, err)
	}

	logger.Debug("Staged %d rows in %v", rows, time.Since(start))
	return &File{Path: path, Compression: codec, Rows: rows}, nil
}

// Keep marks the file to survive Discard.
func (f *File) Keep() { f.kept = true }

// Kept reports whether Keep was called.
func (f *File) Kept() bool { return f.kept }

// Discard removes the file unless it is kept. Removing a missing file is not
// an error.
func (f *File) Discard() error {
	if f == nil || f.kept {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing staging file: %w", err)
	}
	return nil
}

// Open returns a decompressing reader over the file.
func (f *File) Open() (io.ReadCloser, error) {
	return output.OpenReader(output.OutputConfig{Path: f.Path, Compression: f.Compression})
}
