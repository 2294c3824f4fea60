package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/fbz-tec/pg2parquet/core/config"
	"github.com/fbz-tec/pg2parquet/core/db"
	"github.com/fbz-tec/pg2parquet/core/errs"
	"github.com/fbz-tec/pg2parquet/core/sink"
	"github.com/fbz-tec/pg2parquet/core/typemap"
	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRows struct {
	pgx.Rows
	fields []pgconn.FieldDescription
}

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *fakeRows) Next() bool                                   { return false }
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) Close()                                       {}

// fakeResult is what the fake server returns for one query.
type fakeResult struct {
	fields []pgconn.FieldDescription
	csv    string
	rows   int64
}

type fakeTx struct {
	results    map[string]fakeResult
	execs      []string
	copies     int
	committed  bool
	rolledBack bool
}

func (f *fakeTx) lookup(sql string) (fakeResult, error) {
	for q, r := range f.results {
		if strings.Contains(sql, "\n"+q+"\n") {
			return r, nil
		}
	}
	return fakeResult{}, fmt.Errorf("relation does not exist")
}

func (f *fakeTx) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	r, err := f.lookup(sql)
	if err != nil {
		return nil, err
	}
	return &fakeRows{fields: r.fields}, nil
}

func (f *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("SET"), nil
}

func (f *fakeTx) CopyTo(_ context.Context, w io.Writer, sql string) (int64, error) {
	f.copies++
	r, err := f.lookup(sql)
	if err != nil {
		return 0, err
	}
	if _, err := io.WriteString(w, r.csv); err != nil {
		return 0, err
	}
	return r.rows, nil
}

func (f *fakeTx) Commit(context.Context) error   { f.committed = true; return nil }
func (f *fakeTx) Rollback(context.Context) error { f.rolledBack = true; return nil }

type fakeBeginner struct {
	tx    *fakeTx
	opts  []pgx.TxOptions
	calls int
}

func (b *fakeBeginner) Begin(_ context.Context, opts pgx.TxOptions) (db.Tx, error) {
	b.calls++
	b.opts = append(b.opts, opts)
	return b.tx, nil
}

var (
	ordersFields = []pgconn.FieldDescription{
		{Name: "id", DataTypeOID: typemap.OIDInt4},
		{Name: "name", DataTypeOID: typemap.OIDText},
	}
	spanFields = []pgconn.FieldDescription{
		{Name: "id", DataTypeOID: typemap.OIDInt8},
		{Name: "span", DataTypeOID: 1186},
	}
)

func newFixture() *fakeBeginner {
	return &fakeBeginner{tx: &fakeTx{results: map[string]fakeResult{
		"SELECT id, name FROM orders": {fields: ordersFields, csv: "1,a\n2,NULL\n3,c\n", rows: 3},
		"SELECT id, span FROM jobs":   {fields: spanFields, csv: "7,1 day 02:00:00\n", rows: 1},
		"SELECT id, name FROM none":   {fields: ordersFields, csv: "", rows: 0},
		"SELECT id, name FROM broken": {fields: ordersFields, csv: "1,a\nx,b\n", rows: 2},
		"SELECT id, name FROM short":  {fields: ordersFields, csv: "1,a\n", rows: 2},
	}}}
}

func newRunner(t *testing.T, tempDir string, keep bool) *Runner {
	t.Helper()
	r, err := NewRunner(Options{TempDir: tempDir, KeepStaging: keep, RowGroupSize: 2, StagingCompression: "zstd"})
	require.NoError(t, err)
	return r
}

func parquetRows(t *testing.T, path string) int64 {
	t.Helper()
	rdr, err := file.OpenParquetFile(path, false)
	require.NoError(t, err)
	defer rdr.Close()
	return rdr.NumRows()
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging files left in %s", dir)
}

func TestRunBatch(t *testing.T) {
	out, tmp := t.TempDir(), t.TempDir()
	b := newFixture()
	specs := []config.ExportSpec{
		{SQL: "SELECT id, name FROM orders;", Out: filepath.Join(out, "orders.parquet")},
		{SQL: "SELECT id, span FROM jobs", Out: filepath.Join(out, "jobs.parquet"), RowGroupSize: 10},
	}

	results, err := newRunner(t, tmp, false).Run(context.Background(), b, specs, ModeBatch)
	require.NoError(t, err)

	assert.Equal(t, 1, b.calls)
	assert.Equal(t, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, b.opts[0])
	if diff := cmp.Diff(sessionSettings, b.tx.execs); diff != "" {
		t.Errorf("session settings mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, b.tx.committed)
	assert.False(t, b.tx.rolledBack)

	require.Len(t, results, 2)
	assert.Equal(t, int64(3), results[0].Rows)
	assert.Equal(t, 2, results[0].RowGroups)
	assert.Equal(t, sink.Closed, results[0].State)
	assert.Empty(t, results[0].Fallbacks)
	assert.Equal(t, int64(1), results[1].Rows)
	assert.Equal(t, 1, results[1].RowGroups)
	require.Len(t, results[1].Fallbacks, 1)
	assert.Equal(t, "span", results[1].Fallbacks[0].Name)

	assert.Equal(t, int64(3), parquetRows(t, specs[0].Out))
	assert.Equal(t, int64(1), parquetRows(t, specs[1].Out))
	assertDirEmpty(t, tmp)
}

func TestRunSingleMode(t *testing.T) {
	b := newFixture()
	specs := []config.ExportSpec{{SQL: "SELECT id, name FROM orders", Out: filepath.Join(t.TempDir(), "o.parquet")}}

	_, err := newRunner(t, t.TempDir(), false).Run(context.Background(), b, specs, ModeSingle)
	require.NoError(t, err)
	assert.Equal(t, pgx.TxOptions{AccessMode: pgx.ReadOnly}, b.opts[0])
}

func TestRunZeroRows(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(t.TempDir(), "none.parquet")
	b := newFixture()

	results, err := newRunner(t, tmp, false).Run(context.Background(), b,
		[]config.ExportSpec{{SQL: "SELECT id, name FROM none", Out: path}}, ModeSingle)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.True(t, results[0].Empty())
	assert.Zero(t, results[0].Rows)
	assert.NoFileExists(t, path)
	assert.True(t, b.tx.committed)
	assertDirEmpty(t, tmp)
}

func TestRunReplacesPreviousOutput(t *testing.T) {
	out := t.TempDir()
	path := filepath.Join(out, "orders.parquet")
	b := newFixture()
	r := newRunner(t, t.TempDir(), false)

	_, err := r.Run(context.Background(), b,
		[]config.ExportSpec{{SQL: "SELECT id, name FROM orders", Out: path}}, ModeSingle)
	require.NoError(t, err)
	require.Equal(t, int64(3), parquetRows(t, path))

	t.Run("zero rows", func(t *testing.T) {
		results, err := r.Run(context.Background(), newFixture(),
			[]config.ExportSpec{{SQL: "SELECT id, name FROM none", Out: path}}, ModeSingle)
		require.NoError(t, err)
		assert.True(t, results[0].Empty())
		assert.NoFileExists(t, path)
	})

	t.Run("failure before the sink opens", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("earlier output"), 0o644))
		_, err := r.Run(context.Background(), newFixture(),
			[]config.ExportSpec{{SQL: "SELECT * FROM missing", Out: path}}, ModeSingle)
		assert.ErrorIs(t, err, errs.ErrSchema)
		assert.NoFileExists(t, path)
	})
}

func TestRunQueryWithTrailingComment(t *testing.T) {
	for _, q := range []string{
		"SELECT id, name FROM orders; -- done",
		"SELECT id, name FROM orders;\n-- trailing",
		"SELECT id, name FROM orders; /* end */",
	} {
		t.Run(q, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "orders.parquet")
			results, err := newRunner(t, t.TempDir(), false).Run(context.Background(), newFixture(),
				[]config.ExportSpec{{SQL: q, Out: path}}, ModeSingle)
			require.NoError(t, err)
			assert.Equal(t, int64(3), results[0].Rows)
		})
	}
}

func TestRunFailureKeepsEarlierOutputs(t *testing.T) {
	out, tmp := t.TempDir(), t.TempDir()
	b := newFixture()
	specs := []config.ExportSpec{
		{SQL: "SELECT id, name FROM orders", Out: filepath.Join(out, "orders.parquet")},
		{SQL: "SELECT id, name FROM broken", Out: filepath.Join(out, "broken.parquet")},
		{SQL: "SELECT id, span FROM jobs", Out: filepath.Join(out, "jobs.parquet")},
	}

	results, err := newRunner(t, tmp, false).Run(context.Background(), b, specs, ModeBatch)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConversion)
	assert.Contains(t, err.Error(), "export #2")
	assert.Contains(t, err.Error(), "broken.parquet")

	assert.True(t, b.tx.rolledBack)
	assert.False(t, b.tx.committed)
	assert.Equal(t, 2, b.tx.copies, "third export must not start")

	require.Len(t, results, 1)
	assert.Equal(t, specs[0], results[0].Spec)
	assert.FileExists(t, specs[0].Out)
	assert.NoFileExists(t, specs[1].Out)
	assert.NoFileExists(t, specs[2].Out)
	assertDirEmpty(t, tmp)
}

func TestRunIntrospectionFailure(t *testing.T) {
	b := newFixture()
	_, err := newRunner(t, t.TempDir(), false).Run(context.Background(), b,
		[]config.ExportSpec{{SQL: "SELECT * FROM missing", Out: filepath.Join(t.TempDir(), "m.parquet")}}, ModeSingle)
	assert.ErrorIs(t, err, errs.ErrSchema)
	assert.Zero(t, b.tx.copies)
	assert.True(t, b.tx.rolledBack)
}

func TestRunRowCountMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.parquet")
	b := newFixture()

	results, err := newRunner(t, t.TempDir(), false).Run(context.Background(), b,
		[]config.ExportSpec{{SQL: "SELECT id, name FROM short", Out: path}}, ModeSingle)
	assert.ErrorIs(t, err, errs.ErrConversion)
	assert.Empty(t, results)
	assert.NoFileExists(t, path)
}

func TestRunKeepStaging(t *testing.T) {
	tmp := t.TempDir()
	b := newFixture()

	results, err := newRunner(t, tmp, true).Run(context.Background(), b,
		[]config.ExportSpec{{SQL: "SELECT id, name FROM orders", Out: filepath.Join(t.TempDir(), "o.parquet")}}, ModeSingle)
	require.NoError(t, err)

	staged := results[0].StagingPath
	assert.Equal(t, tmp, filepath.Dir(staged))
	assert.True(t, strings.HasSuffix(staged, ".csv.zst"), staged)
	assert.FileExists(t, staged)
}

func TestRunRejectsBeforeAnyIO(t *testing.T) {
	tests := []struct {
		name string
		spec config.ExportSpec
	}{
		{"write statement", config.ExportSpec{SQL: "DELETE FROM orders", Out: "o.parquet"}},
		{"two statements", config.ExportSpec{SQL: "SELECT 1; SELECT 2", Out: "o.parquet"}},
		{"no output", config.ExportSpec{SQL: "SELECT 1"}},
		{"negative row group", config.ExportSpec{SQL: "SELECT 1", Out: "o.parquet", RowGroupSize: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFixture()
			_, err := newRunner(t, t.TempDir(), false).Run(context.Background(), b,
				[]config.ExportSpec{tt.spec}, ModeBatch)
			assert.ErrorIs(t, err, errs.ErrConfig)
			assert.Zero(t, b.calls)
		})
	}

	_, err := newRunner(t, t.TempDir(), false).Run(context.Background(), newFixture(), nil, ModeBatch)
	assert.ErrorIs(t, err, errs.ErrConfig)
}

func TestNewRunnerDefaults(t *testing.T) {
	r, err := NewRunner(Options{})
	require.NoError(t, err)
	assert.Equal(t, "pg-arrow/v1", r.opts.Mapper.Version())

	_, err = NewRunner(Options{RowGroupSize: -1})
	assert.ErrorIs(t, err, errs.ErrConfig)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "batch", ModeBatch.String())
	assert.Equal(t, "single", ModeSingle.String())
}

// insertingTx inserts into the shared table from another connection right
// after the first COPY of the run.
type insertingTx struct {
	db.Tx
	other  *pgx.Conn
	done   bool
	insert string
}

func (t *insertingTx) CopyTo(ctx context.Context, w io.Writer, sql string) (int64, error) {
	n, err := t.Tx.CopyTo(ctx, w, sql)
	if err == nil && !t.done {
		t.done = true
		_, err = t.other.Exec(ctx, t.insert)
	}
	return n, err
}

type insertingBeginner struct {
	store  *db.PgStore
	other  *pgx.Conn
	insert string
}

func (b *insertingBeginner) Begin(ctx context.Context, opts pgx.TxOptions) (db.Tx, error) {
	tx, err := b.store.Begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &insertingTx{Tx: tx, other: b.other, insert: b.insert}, nil
}

func countIn(t *testing.T, path string) int64 {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	tbl, err := pqarrow.ReadTable(context.Background(), f, parquet.NewReaderProperties(nil),
		pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	require.NoError(t, err)
	defer tbl.Release()

	rdr := array.NewTableReader(tbl, -1)
	defer rdr.Release()
	require.True(t, rdr.Next())
	return rdr.Record().Column(0).(*array.Int64).Value(0)
}

func TestRepeatableReadAcrossSpecs(t *testing.T) {
	dsn := os.Getenv("DB_TEST_URL")
	if dsn == "" {
		t.Skip("DB_TEST_URL not set")
	}
	ctx := context.Background()

	other, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	defer other.Close(ctx)

	_, err = other.Exec(ctx, "CREATE TABLE IF NOT EXISTS pg2parquet_rr_test (n int8)")
	require.NoError(t, err)
	defer other.Exec(ctx, "DROP TABLE IF EXISTS pg2parquet_rr_test")
	_, err = other.Exec(ctx, "TRUNCATE pg2parquet_rr_test; INSERT INTO pg2parquet_rr_test SELECT generate_series(1, 10)")
	require.NoError(t, err)

	store := db.NewPgStore(dsn)
	require.NoError(t, store.Connect())
	defer store.Close()

	run := func(mode Mode) int64 {
		out := t.TempDir()
		specs := []config.ExportSpec{
			{SQL: "SELECT count(*) AS n FROM pg2parquet_rr_test", Out: filepath.Join(out, "before.parquet")},
			{SQL: "SELECT count(*) AS n FROM pg2parquet_rr_test", Out: filepath.Join(out, "after.parquet")},
		}
		b := &insertingBeginner{store: store, other: other, insert: "INSERT INTO pg2parquet_rr_test VALUES (0)"}
		_, err := newRunner(t, t.TempDir(), false).Run(ctx, b, specs, mode)
		require.NoError(t, err)

		before, after := countIn(t, specs[0].Out), countIn(t, specs[1].Out)
		return after - before
	}

	assert.Zero(t, run(ModeBatch), "batch mode must read one snapshot")
	assert.Equal(t, int64(1), run(ModeSingle), "single mode sees concurrent commits")
}
