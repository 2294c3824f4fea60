// Package convert re-parses a staging CSV file into Arrow record batches,
// typing every field by the column it belongs to.
package convert

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fbz-tec/pg2parquet/core/errs"
	"github.com/fbz-tec/pg2parquet/core/output"
	"github.com/fbz-tec/pg2parquet/core/schema"
)

const (
	DefaultBlockSize = 64 << 20
	DefaultBatchRows = 65536

	// NullToken is read as null in every column, as is an empty field. A text
	// value spelled NULL therefore comes back as null.
	NullToken = "NULL"
)

// Options tunes a Converter. Zero values take the defaults.
type Options struct {
	BlockSize   int
	BatchRows   int
	Compression string
	Allocator   memory.Allocator
}

func (o Options) withDefaults() Options {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.BatchRows <= 0 {
		o.BatchRows = DefaultBatchRows
	}
	if o.Allocator == nil {
		o.Allocator = memory.DefaultAllocator
	}
	return o
}

// Batches is a finite, single-pass sequence of record batches. A Record is
// only valid until the next call to Next; consumers that keep it must Retain
// it. Err reports why the sequence stopped early, if it did.
type Batches interface {
	Next() bool
	Record() arrow.Record
	Err() error
	Close() error
}

// Converter reads one staging file and implements Batches.
type Converter struct {
	cols      schema.ColumnSchema
	src       io.Closer
	reader    *csv.Reader
	builder   *array.RecordBuilder
	appenders []appendFunc
	batchRows int

	cur  arrow.Record
	rows int64
	err  error
	done bool
}

// Open opens the staging file at path, decompressing it with
// opts.Compression.
func Open(path string, cols schema.ColumnSchema, opts Options) (*Converter, error) {
	src, err := output.OpenReader(output.OutputConfig{Path: path, Compression: opts.Compression})
	if err != nil {
		return nil, fmt.Errorf("%w: opening staging file: %w", errs.ErrConversion, err)
	}
	c, err := New(src, cols, opts)
	if err != nil {
		src.Close()
		return nil, err
	}
	return c, nil
}

// New converts CSV read from r. Close closes r when it is an io.Closer.
func New(r io.Reader, cols schema.ColumnSchema, opts Options) (*Converter, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: converter needs at least one column", errs.ErrSchema)
	}
	opts = opts.withDefaults()

	appenders := make([]appendFunc, len(cols))
	for i, col := range cols {
		fn, err := appenderFor(col.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: column %q: %w", errs.ErrSchema, col.Name, err)
		}
		appenders[i] = fn
	}

	reader := csv.NewReader(bufio.NewReaderSize(r, opts.BlockSize))
	reader.FieldsPerRecord = len(cols)
	reader.ReuseRecord = true

	c := &Converter{
		cols:      cols,
		reader:    reader,
		builder:   array.NewRecordBuilder(opts.Allocator, cols.Arrow()),
		appenders: appenders,
		batchRows: opts.BatchRows,
	}
	if closer, ok := r.(io.Closer); ok {
		c.src = closer
	}
	return c, nil
}

// Next parses up to BatchRows records into the next batch.
func (c *Converter) Next() bool {
	c.releaseCurrent()
	if c.done || c.err != nil {
		return false
	}

	n := 0
	for n < c.batchRows {
		record, err := c.reader.Read()
		if errors.Is(err, io.EOF) {
			c.done = true
			break
		}
		if err != nil {
			c.err = fmt.Errorf("%w: row %d: %w", errs.ErrConversion, c.rows+int64(n)+1, err)
			return false
		}
		for i, field := range record {
			if err := c.appendField(i, field); err != nil {
				line, _ := c.reader.FieldPos(i)
				col := c.cols[i]
				c.err = fmt.Errorf("%w: line %d, column %q (%s): %w", errs.ErrConversion, line, col.Name, col.Type, err)
				return false
			}
		}
		n++
	}
	if n == 0 {
		return false
	}

	c.cur = c.builder.NewRecord()
	c.rows += int64(n)
	return true
}

func (c *Converter) appendField(i int, field string) error {
	b := c.builder.Field(i)
	if field == "" || field == NullToken {
		b.AppendNull()
		return nil
	}
	return c.appenders[i](b, field)
}

// Record returns the current batch.
func (c *Converter) Record() arrow.Record { return c.cur }

// Err returns the error that ended the sequence, nil at a clean end.
func (c *Converter) Err() error { return c.err }

// Rows returns the number of rows emitted so far.
func (c *Converter) Rows() int64 { return c.rows }

// Schema returns the Arrow schema of every batch.
func (c *Converter) Schema() *arrow.Schema { return c.builder.Schema() }

// Close releases the builders and closes the source.
func (c *Converter) Close() error {
	c.releaseCurrent()
	c.done = true
	if c.builder != nil {
		c.builder.Release()
		c.builder = nil
	}
	if c.src != nil {
		err := c.src.Close()
		c.src = nil
		return err
	}
	return nil
}

func (c *Converter) releaseCurrent() {
	if c.cur != nil {
		c.cur.Release()
		c.cur = nil
	}
}
