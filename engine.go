package metagdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultBatchSize is the number of records per INSERT when no batch
// size is configured.
const DefaultBatchSize = 1

// Preparer is the connection capability the engine consumes. Both
// *sql.Tx and *sql.DB satisfy it. The engine never begins, commits or
// rolls back: transaction state belongs to the caller, and any error
// leaves the transaction eligible only for rollback.
type Preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// KeyMap maps the first projection column of the identifier lookup,
// stringified, to the value of the last projection column. It covers
// every record submitted in one Upsert call, whether newly inserted,
// updated, or already present unchanged. A single-column projection maps
// each key to itself.
type KeyMap map[string]any

// Engine drives batched idempotent upserts over a single connection.
// Execution is strictly sequential in the caller-supplied record order:
// later batches may legitimately observe rows written by earlier batches
// within the same transaction.
type Engine struct {
	db        Preparer
	logger    *zap.Logger
	reporter  MetricsReporter
	batchSize int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetricsReporter sets an optional per-batch metrics reporter.
func WithMetricsReporter(reporter MetricsReporter) Option {
	return func(e *Engine) {
		e.reporter = reporter
	}
}

// WithBatchSize sets how many records each INSERT statement carries.
func WithBatchSize(batchSize int) Option {
	return func(e *Engine) {
		e.batchSize = batchSize
	}
}

// New creates an Engine bound to one open connection or transaction.
func New(db Preparer, opts ...Option) *Engine {
	e := &Engine{
		db:        db,
		logger:    zap.NewNop(),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Upsert writes the flattened record batch into the schema's relation in
// fixed-size batches and resolves the identifiers of every submitted
// record.
//
// values holds len(schema.Fields()) values per record; keyValues holds
// the matching len(schema.UniqueFields()) values per record, in the same
// record order. seedChanged seeds the returned changed flag: it becomes
// true the first time any batch actually writes a row and is never reset
// to false. projection is the identifier-lookup projection ("" selects
// the surrogate id).
//
// Validation happens before any statement is prepared or executed, so a
// malformed call has no side effects. Any store error aborts the whole
// call; nothing is retried.
func (e *Engine) Upsert(ctx context.Context, schema *Schema, values, keyValues []any, seedChanged bool, projection string) (KeyMap, bool, error) {
	if err := validateBatch(schema, values, keyValues, e.batchSize); err != nil {
		return nil, seedChanged, err
	}
	if projection == "" {
		projection = DefaultProjection
	}

	fieldCount := len(schema.Fields())
	keyCount := len(schema.UniqueFields())
	total := len(values) / fieldCount

	changed := seedChanged
	keys := make(KeyMap, total)

	// A fixed-arity multi-row INSERT is reusable across full batches, so
	// the statement is prepared once and rebuilt only for a smaller
	// remainder.
	var (
		fullStmt *sql.Stmt
		fullSQL  string
	)
	defer func() {
		if fullStmt != nil {
			_ = fullStmt.Close()
		}
	}()

	offset := 0
	remaining := total
	for remaining > e.batchSize {
		if fullStmt == nil {
			var err error
			fullSQL, err = buildUpsertSQL(schema, e.batchSize)
			if err != nil {
				return nil, changed, err
			}
			fullStmt, err = e.db.PrepareContext(ctx, fullSQL)
			if err != nil {
				return nil, changed, &StoreError{Statement: fullSQL, Err: err}
			}
		}

		batchValues := values[offset*fieldCount : (offset+e.batchSize)*fieldCount]
		batchKeys := keyValues[offset*keyCount : (offset+e.batchSize)*keyCount]

		wrote, err := e.executeUpsert(ctx, fullStmt, fullSQL, schema, e.batchSize, batchValues)
		if err != nil {
			return nil, changed, err
		}
		if wrote {
			changed = true
		}
		if err := e.resolveKeys(ctx, schema, batchKeys, projection, keys); err != nil {
			return nil, changed, err
		}

		offset += e.batchSize
		remaining -= e.batchSize
	}

	// Final batch of 1..batchSize records. An exact division lands here
	// as one more full batch; a zero-row statement is never built.
	stmt := fullStmt
	sqlText := fullSQL
	if remaining != e.batchSize || stmt == nil {
		var err error
		sqlText, err = buildUpsertSQL(schema, remaining)
		if err != nil {
			return nil, changed, err
		}
		stmt, err = e.db.PrepareContext(ctx, sqlText)
		if err != nil {
			return nil, changed, &StoreError{Statement: sqlText, Err: err}
		}
		defer stmt.Close()
	}

	batchValues := values[offset*fieldCount:]
	batchKeys := keyValues[offset*keyCount:]

	wrote, err := e.executeUpsert(ctx, stmt, sqlText, schema, remaining, batchValues)
	if err != nil {
		return nil, changed, err
	}
	if wrote {
		changed = true
	}
	if err := e.resolveKeys(ctx, schema, batchKeys, projection, keys); err != nil {
		return nil, changed, err
	}

	e.logger.Debug("upsert finished",
		zap.String("table", schema.Table()),
		zap.Int("records", total),
		zap.Int("resolved_keys", len(keys)),
		zap.Bool("changed", changed),
	)
	return keys, changed, nil
}

// validateBatch runs every argument check before any I/O happens.
func validateBatch(schema *Schema, values, keyValues []any, batchSize int) error {
	if schema == nil {
		return &ArgumentError{Field: "schema", Message: "cannot be nil"}
	}
	if len(values) == 0 {
		return ErrEmptyValues
	}
	if len(keyValues) == 0 {
		return ErrEmptyKeyValues
	}
	if batchSize < 1 {
		return &ArgumentError{Field: "batchSize", Message: fmt.Sprintf("must be a positive integer, got %d", batchSize)}
	}
	if len(values)%len(schema.Fields()) != 0 {
		return &ArityError{Values: len(values), Fields: len(schema.Fields())}
	}
	if len(keyValues)%len(schema.UniqueFields()) != 0 {
		return &ArityError{Values: len(keyValues), Fields: len(schema.UniqueFields())}
	}
	valueRows := len(values) / len(schema.Fields())
	keyRows := len(keyValues) / len(schema.UniqueFields())
	if valueRows != keyRows {
		return &RowCountError{ValueRows: valueRows, KeyRows: keyRows}
	}
	return nil
}

// executeUpsert binds the normalized batch values, runs the prepared
// statement and reports whether any RETURNING row came back, which is
// the sole change-detection signal: conflicting records that fail the
// update guard return no row.
func (e *Engine) executeUpsert(ctx context.Context, stmt *sql.Stmt, sqlText string, schema *Schema, batchSize int, values []any) (bool, error) {
	start := time.Now()

	wrote := false
	rows, err := stmt.QueryContext(ctx, NormalizeValues(values)...)
	if err == nil {
		wrote = rows.Next()
		for rows.Next() {
			// drain
		}
		err = rows.Err()
		if closeErr := rows.Close(); err == nil {
			err = closeErr
		}
	}

	if e.reporter != nil {
		e.reporter.ReportBatchExecution(ctx, BatchMetrics{
			Table:     schema.Table(),
			BatchSize: batchSize,
			Duration:  time.Since(start),
			Changed:   wrote,
			Err:       err,
			StartTime: start,
		})
	}
	if err != nil {
		return false, &StoreError{Statement: sqlText, Err: err}
	}

	e.logger.Debug("batch executed",
		zap.String("table", schema.Table()),
		zap.Int("batch_size", batchSize),
		zap.Bool("wrote", wrote),
	)
	return wrote, nil
}

// resolveKeys looks up the projection for one batch of unique-key tuples
// and merges every returned row into out. RETURNING cannot provide this
// mapping: records that conflicted without differing never yield a row,
// yet the caller needs identifiers for all submitted records.
func (e *Engine) resolveKeys(ctx context.Context, schema *Schema, keyValues []any, projection string, out KeyMap) error {
	sqlText, args, err := buildLookupSQL(schema.Table(), schema.UniqueFields(), keyValues, projection)
	if err != nil {
		return err
	}

	stmt, err := e.db.PrepareContext(ctx, sqlText)
	if err != nil {
		return &StoreError{Statement: sqlText, Err: err}
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return &StoreError{Statement: sqlText, Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return &StoreError{Statement: sqlText, Err: err}
	}

	scanned := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range scanned {
		pointers[i] = &scanned[i]
	}
	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return &StoreError{Statement: sqlText, Err: err}
		}
		out[keyString(scanned[0])] = driverValue(scanned[len(scanned)-1])
	}
	if err := rows.Err(); err != nil {
		return &StoreError{Statement: sqlText, Err: err}
	}
	return nil
}

// driverValue keeps scanned values caller-friendly: lib/pq hands text
// back as []byte, which becomes string; everything else is kept as-is.
func driverValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func keyString(v any) string {
	switch t := driverValue(v).(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
