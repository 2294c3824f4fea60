// Package sink writes record batches to one Parquet file, cutting row groups
// at a fixed row count.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/fbz-tec/pg2parquet/core/convert"
	"github.com/fbz-tec/pg2parquet/core/errs"
	"github.com/fbz-tec/pg2parquet/core/schema"
	"github.com/fbz-tec/pg2parquet/internal/logger"
	"github.com/fbz-tec/pg2parquet/internal/version"
)

// DefaultRowGroupSize is the row-group threshold when none is configured.
const DefaultRowGroupSize int64 = 1_000_000

// State is the position of a Sink in its lifecycle.
type State int

const (
	// Empty: no batch seen, no file on disk.
	Empty State = iota
	// Open: file created and writer bound to the first batch's schema.
	Open
	// Accumulating: rows buffered towards the next row group.
	Accumulating
	// Draining: input ended, remaining rows being written.
	Draining
	// Closed: footer written. Terminal.
	Closed
	// Aborted: partial file removed. Terminal.
	Aborted
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Open:
		return "open"
	case Accumulating:
		return "accumulating"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Sink.
type Options struct {
	RowGroupSize int64
	Allocator    memory.Allocator
	// Progress, when set, receives the row count of every accepted batch.
	Progress func(rows int64)
}

// Stats describes what a Sink has written.
type Stats struct {
	Path      string
	State     State
	Rows      int64
	RowGroups int
	GroupRows []int64
}

// Sink accumulates batches for one output file. It is not safe for
// concurrent use.
type Sink struct {
	path   string
	schema *arrow.Schema
	opts   Options

	state    State
	finished bool
	file     *os.File
	writer   *pqarrow.FileWriter

	buf      []arrow.Record
	buffered int64
	rows     int64
	groups   []int64
}

// New returns a Sink in state Empty. Nothing is created on disk until the
// first non-empty batch arrives.
func New(path string, cols schema.ColumnSchema, opts Options) (*Sink, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: output needs at least one column", errs.ErrSchema)
	}
	if opts.RowGroupSize == 0 {
		opts.RowGroupSize = DefaultRowGroupSize
	}
	if opts.RowGroupSize < 0 {
		return nil, fmt.Errorf("%w: row group size must be positive, got %d", errs.ErrConfig, opts.RowGroupSize)
	}
	if opts.Allocator == nil {
		opts.Allocator = memory.DefaultAllocator
	}
	return &Sink{path: path, schema: cols.Arrow(), opts: opts}, nil
}

// Write accepts one batch. Zero-row batches are ignored. The sink retains
// what it keeps; the caller still owns rec.
func (s *Sink) Write(rec arrow.Record) error {
	if s.finished || s.state == Closed || s.state == Aborted {
		return fmt.Errorf("sink for %s is %s", s.path, s.state)
	}
	if rec.NumRows() == 0 {
		return nil
	}
	if !rec.Schema().Equal(s.schema) {
		return fmt.Errorf("%w: batch schema does not match the introspected columns\nbatch: %s\nexpected: %s",
			errs.ErrSchema, rec.Schema(), s.schema)
	}

	if s.state == Empty {
		if err := s.open(rec.Schema()); err != nil {
			return err
		}
	}

	rec.Retain()
	s.buf = append(s.buf, rec)
	s.buffered += rec.NumRows()
	s.rows += rec.NumRows()
	s.state = Accumulating

	for s.buffered >= s.opts.RowGroupSize {
		if err := s.flush(s.opts.RowGroupSize); err != nil {
			return err
		}
	}
	if s.opts.Progress != nil {
		s.opts.Progress(rec.NumRows())
	}
	return nil
}

// Consume writes every batch of b. It stops at the first error, including
// one reported by b.
func (s *Sink) Consume(ctx context.Context, b convert.Batches) error {
	for b.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Write(b.Record()); err != nil {
			return err
		}
	}
	return b.Err()
}

// Close writes the remaining rows as a final row group and the footer. A sink
// that never received rows stays Empty and creates no file.
func (s *Sink) Close() error {
	switch {
	case s.state == Closed || s.state == Aborted:
		return nil
	case s.state == Empty:
		s.finished = true
		logger.Debug("No rows for %s, no file written", s.path)
		return RemoveStale(s.path)
	}

	s.state = Draining
	if s.buffered > 0 {
		if err := s.flush(s.buffered); err != nil {
			s.abortAfter(err)
			return err
		}
	}
	if err := s.writer.Close(); err != nil {
		s.abortAfter(err)
		return fmt.Errorf("finalizing %s: %w", s.path, err)
	}
	s.state = Closed
	logger.Debug("Closed %s: %d rows in %d row groups", s.path, s.rows, len(s.groups))
	return nil
}

// Abort discards buffered batches and removes a partially written file.
func (s *Sink) Abort() error {
	if s.state == Closed || s.state == Aborted {
		return nil
	}
	s.release()

	created := s.file != nil
	if s.writer != nil {
		s.writer.Close()
	} else if s.file != nil {
		s.file.Close()
	}
	s.state = Aborted

	if created {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing partial output %s: %w", s.path, err)
		}
		logger.Debug("Removed partial output %s", s.path)
	}
	return nil
}

// RemoveStale deletes a regular file left at path by an earlier run, so that
// an export that writes nothing leaves nothing behind. A missing file is not
// an error; a directory is left alone.
func RemoveStale(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking previous output %s: %w", path, err)
	}
	if info.IsDir() {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing previous output %s: %w", path, err)
	}
	logger.Debug("Removed previous output %s", path)
	return nil
}

// State returns the current state.
func (s *Sink) State() State { return s.state }

// Stats reports rows and row groups written so far.
func (s *Sink) Stats() Stats {
	return Stats{
		Path:      s.path,
		State:     s.state,
		Rows:      s.rows,
		RowGroups: len(s.groups),
		GroupRows: append([]int64(nil), s.groups...),
	}
}

func (s *Sink) open(sc *arrow.Schema) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}

	maxGroup := s.opts.RowGroupSize
	if maxGroup < parquet.DefaultMaxRowGroupLen {
		maxGroup = parquet.DefaultMaxRowGroupLen
	}
	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
		parquet.WithMaxRowGroupLength(maxGroup),
		parquet.WithAllocator(s.opts.Allocator),
		parquet.WithCreatedBy("pg2parquet "+version.AppVersion),
	)
	arrProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
		pqarrow.WithAllocator(s.opts.Allocator),
	)

	w, err := pqarrow.NewFileWriter(sc, f, props, arrProps)
	if err != nil {
		f.Close()
		os.Remove(s.path)
		return fmt.Errorf("%w: binding output schema: %w", errs.ErrSchema, err)
	}

	s.file = f
	s.writer = w
	s.state = Open
	logger.Debug("Opened %s (zstd, no dictionary, %d rows per group)", s.path, s.opts.RowGroupSize)
	return nil
}

// flush writes exactly n buffered rows as one row group. A batch that
// straddles the boundary is sliced; its tail starts the next group.
func (s *Sink) flush(n int64) error {
	parts := make([]arrow.Record, 0, len(s.buf))
	var taken int64
	i := 0
	for taken < n {
		rec := s.buf[i]
		need := n - taken
		if rec.NumRows() <= need {
			parts = append(parts, rec)
			taken += rec.NumRows()
			i++
			continue
		}
		parts = append(parts, rec.NewSlice(0, need))
		s.buf[i] = rec.NewSlice(need, rec.NumRows())
		rec.Release()
		taken += need
	}
	s.buf = append([]arrow.Record(nil), s.buf[i:]...)
	s.buffered -= n

	tbl := array.NewTableFromRecords(s.schema, parts)
	err := s.writer.WriteTable(tbl, n)
	tbl.Release()
	for _, p := range parts {
		p.Release()
	}
	if err != nil {
		return fmt.Errorf("writing row group %d of %s: %w", len(s.groups)+1, s.path, err)
	}

	s.groups = append(s.groups, n)
	logger.Debug("Wrote row group %d (%d rows) to %s", len(s.groups), n, s.path)
	return nil
}

// abortAfter aborts following cause; a failed cleanup is only logged so that
// cause stays the reported error.
func (s *Sink) abortAfter(cause error) {
	if err := s.Abort(); err != nil {
		logger.Warn("%v (after: %v)", err, cause)
	}
}

func (s *Sink) release() {
	for _, rec := range s.buf {
		rec.Release()
	}
	s.buf = nil
	s.buffered = 0
}
