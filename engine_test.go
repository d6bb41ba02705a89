package metagdb

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*Engine, sqlmock.Sqlmock, func(opts ...Option) *Engine) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	build := func(opts ...Option) *Engine {
		return New(db, opts...)
	}
	return build(), mock, build
}

func testSchema(t *testing.T) *Schema {
	t.Helper()
	schema, err := NewSchema("read", []string{"a", "b", "c", AuditColumn}, []string{"a", "b"})
	require.NoError(t, err)
	return schema
}

func TestUpsertValidationBeforeIO(t *testing.T) {
	engine, mock, build := newMock(t)
	schema := testSchema(t)
	ctx := context.Background()

	_, _, err := engine.Upsert(ctx, nil, []any{1}, []any{1}, false, "")
	var argErr *ArgumentError
	assert.ErrorAs(t, err, &argErr)

	_, _, err = engine.Upsert(ctx, schema, nil, []any{1}, false, "")
	assert.ErrorIs(t, err, ErrEmptyValues)

	_, _, err = engine.Upsert(ctx, schema, []any{1}, nil, false, "")
	assert.ErrorIs(t, err, ErrEmptyKeyValues)

	// Value count not a multiple of the field count.
	_, _, err = engine.Upsert(ctx, schema, []any{1, 2, 3}, []any{1, 2}, false, "")
	var arityErr *ArityError
	require.ErrorAs(t, err, &arityErr)
	assert.Equal(t, 3, arityErr.Values)
	assert.Equal(t, 4, arityErr.Fields)

	// Row counts derived from values and keys disagree.
	_, _, err = engine.Upsert(ctx, schema,
		[]any{1, 2, 3, 1, 11, 22, 33, 1}, []any{1, 2}, false, "")
	var rowErr *RowCountError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, 2, rowErr.ValueRows)
	assert.Equal(t, 1, rowErr.KeyRows)

	// Misconfigured batch size fails the same way, before any I/O.
	broken := build(WithBatchSize(0))
	_, _, err = broken.Upsert(ctx, schema, []any{1, 2, 3, 1}, []any{1, 2}, false, "")
	assert.ErrorAs(t, err, &argErr)

	// Seed flag is passed back unchanged on validation failure.
	_, seeded, _ := engine.Upsert(ctx, schema, nil, []any{1}, true, "")
	assert.True(t, seeded)

	// None of the above may have touched the store.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSingleBatch(t *testing.T) {
	_, mock, build := newMock(t)
	engine := build(WithBatchSize(2))
	schema := testSchema(t)

	upsertSQL, err := buildUpsertSQL(schema, 2)
	require.NoError(t, err)
	lookupSQL := "SELECT id FROM read WHERE (a = $1 AND b = $2) OR (a = $3 AND b = $4)"

	mock.ExpectPrepare(upsertSQL)
	mock.ExpectQuery(upsertSQL).
		WithArgs(1, 2, 3, 1, 11, 22, nil, 1).
		WillReturnRows(sqlmock.NewRows([]string{AuditColumn}).AddRow(1).AddRow(1))
	mock.ExpectPrepare(lookupSQL)
	mock.ExpectQuery(lookupSQL).
		WithArgs(1, 2, 11, 22).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(101)).AddRow(int64(102)))

	// Second record's c is NULL on the wire.
	keys, changed, err := engine.Upsert(context.Background(), schema,
		[]any{1, 2, 3, 1, 11, 22, nil, 1},
		[]any{1, 2, 11, 22},
		false, "")
	require.NoError(t, err)

	assert.True(t, changed)
	assert.Equal(t, KeyMap{"101": int64(101), "102": int64(102)}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertUnchangedRun(t *testing.T) {
	// The same records again: the conflict guard filters every row, so
	// RETURNING yields nothing and the flag stays at its seed, but the
	// lookup still resolves every record.
	_, mock, build := newMock(t)
	engine := build(WithBatchSize(2))
	schema := testSchema(t)

	upsertSQL, err := buildUpsertSQL(schema, 2)
	require.NoError(t, err)
	lookupSQL := "SELECT id FROM read WHERE (a = $1 AND b = $2) OR (a = $3 AND b = $4)"

	mock.ExpectPrepare(upsertSQL)
	mock.ExpectQuery(upsertSQL).
		WithArgs(1, 2, 3, 1, 11, 22, nil, 1).
		WillReturnRows(sqlmock.NewRows([]string{AuditColumn}))
	mock.ExpectPrepare(lookupSQL)
	mock.ExpectQuery(lookupSQL).
		WithArgs(1, 2, 11, 22).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(101)).AddRow(int64(102)))

	keys, changed, err := engine.Upsert(context.Background(), schema,
		[]any{1, 2, 3, 1, 11, 22, nil, 1},
		[]any{1, 2, 11, 22},
		false, "")
	require.NoError(t, err)

	assert.False(t, changed)
	assert.Len(t, keys, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSeedChangedSticky(t *testing.T) {
	_, mock, build := newMock(t)
	engine := build(WithBatchSize(1))
	schema := testSchema(t)

	upsertSQL, err := buildUpsertSQL(schema, 1)
	require.NoError(t, err)
	lookupSQL := "SELECT id FROM read WHERE (a = $1 AND b = $2)"

	mock.ExpectPrepare(upsertSQL)
	mock.ExpectQuery(upsertSQL).
		WithArgs(1, 2, 3, 1).
		WillReturnRows(sqlmock.NewRows([]string{AuditColumn}))
	mock.ExpectPrepare(lookupSQL)
	mock.ExpectQuery(lookupSQL).
		WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101))

	// Nothing written, yet the seed survives: the flag is never reset.
	_, changed, err := engine.Upsert(context.Background(), schema,
		[]any{1, 2, 3, 1}, []any{1, 2}, true, "")
	require.NoError(t, err)

	assert.True(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchingWithRemainder(t *testing.T) {
	_, mock, build := newMock(t)
	engine := build(WithBatchSize(2))

	schema, err := NewSchema("tag", []string{"a", AuditColumn}, []string{"a"})
	require.NoError(t, err)

	fullSQL, err := buildUpsertSQL(schema, 2)
	require.NoError(t, err)
	remainderSQL, err := buildUpsertSQL(schema, 1)
	require.NoError(t, err)
	pairLookup := "SELECT id FROM tag WHERE (a = $1) OR (a = $2)"
	singleLookup := "SELECT id FROM tag WHERE (a = $1)"

	// The full-size statement is prepared once and reused; only the
	// remainder gets its own statement.
	mock.ExpectPrepare(fullSQL)
	mock.ExpectQuery(fullSQL).WithArgs(1, 7, 2, 7).
		WillReturnRows(sqlmock.NewRows([]string{AuditColumn}).AddRow(7).AddRow(7))
	mock.ExpectPrepare(pairLookup)
	mock.ExpectQuery(pairLookup).WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	mock.ExpectQuery(fullSQL).WithArgs(3, 7, 4, 7).
		WillReturnRows(sqlmock.NewRows([]string{AuditColumn}))
	mock.ExpectPrepare(pairLookup)
	mock.ExpectQuery(pairLookup).WithArgs(3, 4).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3).AddRow(4))

	mock.ExpectPrepare(remainderSQL)
	mock.ExpectQuery(remainderSQL).WithArgs(5, 7).
		WillReturnRows(sqlmock.NewRows([]string{AuditColumn}).AddRow(7))
	mock.ExpectPrepare(singleLookup)
	mock.ExpectQuery(singleLookup).WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))

	keys, changed, err := engine.Upsert(context.Background(), schema,
		[]any{1, 7, 2, 7, 3, 7, 4, 7, 5, 7},
		[]any{1, 2, 3, 4, 5},
		false, "")
	require.NoError(t, err)

	assert.True(t, changed)
	assert.Len(t, keys, 5)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertExactDivisionReusesStatement(t *testing.T) {
	// 4 records at batch size 2: the last batch is a full batch executed
	// on the already prepared statement, never a zero-row statement.
	_, mock, build := newMock(t)
	engine := build(WithBatchSize(2))

	schema, err := NewSchema("tag", []string{"a", AuditColumn}, []string{"a"})
	require.NoError(t, err)

	fullSQL, err := buildUpsertSQL(schema, 2)
	require.NoError(t, err)
	pairLookup := "SELECT id FROM tag WHERE (a = $1) OR (a = $2)"

	mock.ExpectPrepare(fullSQL)
	mock.ExpectQuery(fullSQL).WithArgs(1, 7, 2, 7).
		WillReturnRows(sqlmock.NewRows([]string{AuditColumn}).AddRow(7))
	mock.ExpectPrepare(pairLookup)
	mock.ExpectQuery(pairLookup).WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	mock.ExpectQuery(fullSQL).WithArgs(3, 7, 4, 7).
		WillReturnRows(sqlmock.NewRows([]string{AuditColumn}).AddRow(7))
	mock.ExpectPrepare(pairLookup)
	mock.ExpectQuery(pairLookup).WithArgs(3, 4).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3).AddRow(4))

	keys, changed, err := engine.Upsert(context.Background(), schema,
		[]any{1, 7, 2, 7, 3, 7, 4, 7},
		[]any{1, 2, 3, 4},
		false, "")
	require.NoError(t, err)

	assert.True(t, changed)
	assert.Len(t, keys, 4)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertMultiColumnProjection(t *testing.T) {
	_, mock, build := newMock(t)
	engine := build(WithBatchSize(1))
	schema := testSchema(t)

	upsertSQL, err := buildUpsertSQL(schema, 1)
	require.NoError(t, err)
	lookupSQL := "SELECT read_id, id FROM read WHERE (a = $1 AND b = $2)"

	mock.ExpectPrepare(upsertSQL)
	mock.ExpectQuery(upsertSQL).
		WithArgs(1, 2, 3, 1).
		WillReturnRows(sqlmock.NewRows([]string{AuditColumn}).AddRow(1))
	mock.ExpectPrepare(lookupSQL)
	mock.ExpectQuery(lookupSQL).
		WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"read_id", "id"}).AddRow("r1", int64(101)))

	keys, _, err := engine.Upsert(context.Background(), schema,
		[]any{1, 2, 3, 1}, []any{1, 2}, false, "read_id, id")
	require.NoError(t, err)

	// First projection column keys the map, last one is the value.
	assert.Equal(t, KeyMap{"r1": int64(101)}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertNormalizesBoundValues(t *testing.T) {
	_, mock, build := newMock(t)
	engine := build(WithBatchSize(1))
	schema := testSchema(t)

	upsertSQL, err := buildUpsertSQL(schema, 1)
	require.NoError(t, err)
	lookupSQL := "SELECT id FROM read WHERE (a = $1 AND b = $2)"

	// The whitespace-only c binds as NULL; the padded b keeps its spaces.
	mock.ExpectPrepare(upsertSQL)
	mock.ExpectQuery(upsertSQL).
		WithArgs(0, " x ", nil, 1).
		WillReturnRows(sqlmock.NewRows([]string{AuditColumn}).AddRow(1))
	mock.ExpectPrepare(lookupSQL)
	mock.ExpectQuery(lookupSQL).
		WithArgs(0, " x ").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101))

	_, _, err = engine.Upsert(context.Background(), schema,
		[]any{0, " x ", "   ", 1}, []any{0, " x "}, false, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertStoreErrorKeepsStatement(t *testing.T) {
	_, mock, build := newMock(t)
	engine := build(WithBatchSize(1))
	schema := testSchema(t)

	upsertSQL, err := buildUpsertSQL(schema, 1)
	require.NoError(t, err)

	boom := errors.New("relation \"read\" does not exist")
	mock.ExpectPrepare(upsertSQL)
	mock.ExpectQuery(upsertSQL).WillReturnError(boom)

	_, changed, err := engine.Upsert(context.Background(), schema,
		[]any{1, 2, 3, 1}, []any{1, 2}, false, "")

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, upsertSQL, storeErr.Statement)
	assert.ErrorIs(t, err, boom)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type recordingReporter struct {
	metrics []BatchMetrics
}

func (r *recordingReporter) ReportBatchExecution(_ context.Context, m BatchMetrics) {
	r.metrics = append(r.metrics, m)
}

func TestUpsertReportsBatchMetrics(t *testing.T) {
	_, mock, build := newMock(t)
	reporter := &recordingReporter{}
	engine := build(WithBatchSize(2), WithMetricsReporter(reporter))

	schema, err := NewSchema("tag", []string{"a", AuditColumn}, []string{"a"})
	require.NoError(t, err)

	fullSQL, err := buildUpsertSQL(schema, 2)
	require.NoError(t, err)
	remainderSQL, err := buildUpsertSQL(schema, 1)
	require.NoError(t, err)

	mock.ExpectPrepare(fullSQL)
	mock.ExpectQuery(fullSQL).
		WillReturnRows(sqlmock.NewRows([]string{AuditColumn}).AddRow(7))
	mock.ExpectPrepare("SELECT id FROM tag WHERE (a = $1) OR (a = $2)")
	mock.ExpectQuery("SELECT id FROM tag WHERE (a = $1) OR (a = $2)").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	mock.ExpectPrepare(remainderSQL)
	mock.ExpectQuery(remainderSQL).
		WillReturnRows(sqlmock.NewRows([]string{AuditColumn}))
	mock.ExpectPrepare("SELECT id FROM tag WHERE (a = $1)")
	mock.ExpectQuery("SELECT id FROM tag WHERE (a = $1)").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

	_, _, err = engine.Upsert(context.Background(), schema,
		[]any{1, 7, 2, 7, 3, 7}, []any{1, 2, 3}, false, "")
	require.NoError(t, err)

	require.Len(t, reporter.metrics, 2)
	assert.Equal(t, "tag", reporter.metrics[0].Table)
	assert.Equal(t, 2, reporter.metrics[0].BatchSize)
	assert.True(t, reporter.metrics[0].Changed)
	assert.Equal(t, 1, reporter.metrics[1].BatchSize)
	assert.False(t, reporter.metrics[1].Changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
