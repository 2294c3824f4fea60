// Package export runs one or more exports inside a single read-only
// transaction.
package export

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fbz-tec/pg2parquet/core/config"
	"github.com/fbz-tec/pg2parquet/core/convert"
	"github.com/fbz-tec/pg2parquet/core/db"
	"github.com/fbz-tec/pg2parquet/core/errs"
	"github.com/fbz-tec/pg2parquet/core/schema"
	"github.com/fbz-tec/pg2parquet/core/sink"
	"github.com/fbz-tec/pg2parquet/core/staging"
	"github.com/fbz-tec/pg2parquet/core/typemap"
	"github.com/fbz-tec/pg2parquet/core/validation"
	"github.com/fbz-tec/pg2parquet/internal/logger"
	"github.com/fbz-tec/pg2parquet/internal/ui"
	"github.com/jackc/pgx/v5"
)

// Mode selects the transaction an export run uses.
type Mode int

const (
	// ModeSingle runs at the server's default isolation level.
	ModeSingle Mode = iota
	// ModeBatch runs every export against one REPEATABLE READ snapshot.
	ModeBatch
)

func (m Mode) String() string {
	if m == ModeBatch {
		return "batch"
	}
	return "single"
}

// TxOptions returns the transaction options for m. Both modes are read-only.
func (m Mode) TxOptions() pgx.TxOptions {
	opts := pgx.TxOptions{AccessMode: pgx.ReadOnly}
	if m == ModeBatch {
		opts.IsoLevel = pgx.RepeatableRead
	}
	return opts
}

// sessionSettings pin the text formats the converter parses. They last until
// the transaction ends.
var sessionSettings = []string{
	"SET LOCAL DateStyle = 'ISO, MDY'",
	"SET LOCAL IntervalStyle = 'postgres'",
}

// Options configures a Runner. Zero values take the package defaults of the
// stage they belong to.
type Options struct {
	Mapper             *typemap.Mapper
	RowGroupSize       int64
	BlockSize          int
	BatchRows          int
	TempDir            string
	StagingCompression string
	KeepStaging        bool
	Progress           bool
	Allocator          memory.Allocator
}

// Result describes one export of a run.
type Result struct {
	Spec        config.ExportSpec
	Rows        int64
	RowGroups   int
	State       sink.State
	StagingPath string
	Fallbacks   []schema.Column
}

// Empty reports whether the export produced no file.
func (r Result) Empty() bool { return r.State == sink.Empty }

// Runner executes export specs sequentially on one connection.
type Runner struct {
	opts Options
}

// NewRunner checks opts and returns a Runner. A nil Mapper uses the default
// type table.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Mapper == nil {
		m, err := typemap.NewMapper(typemap.DefaultTable(), "")
		if err != nil {
			return nil, err
		}
		opts.Mapper = m
	}
	if opts.RowGroupSize < 0 {
		return nil, fmt.Errorf("%w: row group size must be positive, got %d", errs.ErrConfig, opts.RowGroupSize)
	}
	if opts.Allocator == nil {
		opts.Allocator = memory.DefaultAllocator
	}
	return &Runner{opts: opts}, nil
}

// Run executes specs in order inside one transaction and commits when all
// succeed. On the first failure the transaction is rolled back and the error
// names the failing spec; results of the exports finalized before it are
// returned alongside, and their files stay on disk.
func (r *Runner) Run(ctx context.Context, b db.TxBeginner, specs []config.ExportSpec, mode Mode) ([]Result, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: nothing to export", errs.ErrConfig)
	}
	for i, spec := range specs {
		if err := checkSpec(spec); err != nil {
			return nil, fmt.Errorf("export #%d (%s): %w", i+1, spec.Out, err)
		}
	}

	txOpts := mode.TxOptions()
	tx, err := b.Begin(ctx, txOpts)
	if err != nil {
		return nil, fmt.Errorf("beginning %s transaction: %w", mode, err)
	}
	for _, stmt := range sessionSettings {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			rollback(tx)
			return nil, fmt.Errorf("%w: %s: %w", errs.ErrConfig, stmt, err)
		}
	}
	logger.Debug("Running %d export(s) in %s mode (type table %s)", len(specs), mode, r.opts.Mapper.Version())

	results := make([]Result, 0, len(specs))
	for i, spec := range specs {
		res, err := r.runOne(ctx, tx, spec)
		if err != nil {
			rollback(tx)
			for _, done := range results {
				if !done.Empty() {
					logger.Warn("Kept finished output %s (%d rows)", done.Spec.Out, done.Rows)
				}
			}
			return results, fmt.Errorf("export #%d (%s): %w", i+1, spec.Out, err)
		}
		results = append(results, res)
	}

	if err := tx.Commit(ctx); err != nil {
		return results, fmt.Errorf("committing transaction: %w", err)
	}
	return results, nil
}

func checkSpec(spec config.ExportSpec) error {
	if err := validation.ValidateQuery(spec.SQL); err != nil {
		return err
	}
	if err := validation.ValidateOutputPath(spec.Out); err != nil {
		return err
	}
	if spec.RowGroupSize < 0 {
		return fmt.Errorf("%w: row group size must be positive, got %d", errs.ErrConfig, spec.RowGroupSize)
	}
	return nil
}

func (r *Runner) runOne(ctx context.Context, tx db.Session, spec config.ExportSpec) (Result, error) {
	start := time.Now()
	res := Result{Spec: spec}
	query := validation.NormalizeQuery(spec.SQL)

	// Output left by an earlier run goes first.
	if err := sink.RemoveStale(spec.Out); err != nil {
		return res, err
	}

	cols, err := schema.Introspect(ctx, tx, query, r.opts.Mapper)
	if err != nil {
		return res, err
	}
	res.Fallbacks = cols.Fallbacks()
	for _, c := range res.Fallbacks {
		logger.Warn("Column %q has type %s, not in type table %s: exported as %s",
			c.Name, c.TypeName(), r.opts.Mapper.Version(), c.Type)
	}
	logger.Debug("Schema for %s: %s", spec.Out, cols)

	var sp *ui.Spinner
	if r.showProgress() {
		sp = ui.StartSpinner(fmt.Sprintf("Staging %s", spec.Out))
	}
	ext := staging.Extractor{Dir: r.opts.TempDir, Compression: r.opts.StagingCompression}
	stg, err := ext.Extract(ctx, tx, query)
	if err != nil {
		sp.Stop(fmt.Sprintf("Staging %s failed", spec.Out))
		return res, err
	}
	sp.Stop(fmt.Sprintf("Staged %d rows for %s", stg.Rows, spec.Out))
	res.StagingPath = stg.Path
	if r.opts.KeepStaging {
		stg.Keep()
		logger.Info("Keeping staging file %s", stg.Path)
	}
	defer func() {
		if err := stg.Discard(); err != nil {
			logger.Warn("%v", err)
		}
	}()

	conv, err := convert.Open(stg.Path, cols, convert.Options{
		BlockSize:   r.opts.BlockSize,
		BatchRows:   r.opts.BatchRows,
		Compression: stg.Compression,
		Allocator:   r.opts.Allocator,
	})
	if err != nil {
		return res, err
	}
	defer conv.Close()

	groupSize := spec.RowGroupSize
	if groupSize == 0 {
		groupSize = r.opts.RowGroupSize
	}
	sinkOpts := sink.Options{RowGroupSize: groupSize, Allocator: r.opts.Allocator}
	var finish func()
	if r.showProgress() && stg.Rows > 0 {
		bar := ui.NewProgressBar(spec.Out, stg.Rows)
		sinkOpts.Progress = func(n int64) { _ = bar.Add64(n) }
		finish = func() { _ = bar.Finish() }
	}

	sk, err := sink.New(spec.Out, cols, sinkOpts)
	if err != nil {
		return res, err
	}
	if err := sk.Consume(ctx, conv); err != nil {
		if aerr := sk.Abort(); aerr != nil {
			logger.Warn("%v", aerr)
		}
		return res, err
	}
	if err := sk.Close(); err != nil {
		return res, err
	}
	if finish != nil {
		finish()
	}

	st := sk.Stats()
	res.Rows, res.RowGroups, res.State = st.Rows, st.RowGroups, st.State
	if res.Rows != stg.Rows {
		if res.State == sink.Closed {
			if rerr := os.Remove(spec.Out); rerr != nil {
				logger.Warn("Could not remove %s: %v", spec.Out, rerr)
			}
			res.State = sink.Aborted
		}
		return res, fmt.Errorf("%w: staged %d rows but converted %d", errs.ErrConversion, stg.Rows, res.Rows)
	}

	logger.Debug("Exported %s: %d rows, %d row groups in %v", spec.Out, res.Rows, res.RowGroups, time.Since(start))
	return res, nil
}

func (r *Runner) showProgress() bool {
	return r.opts.Progress && !logger.IsQuiet()
}

func rollback(tx db.Tx) {
	// Not derived from the run's context, which may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := tx.Rollback(ctx); err != nil {
		logger.Warn("Rollback failed: %v", err)
	}
}
