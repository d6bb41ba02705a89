package metagdb

import (
	"fmt"
	"strings"
)

// buildUpsertSQL builds the multi-row INSERT ... ON CONFLICT statement
// for batchSize records of the given schema.
//
// Every non-key column, audit column included, is rewritten from
// EXCLUDED on conflict, but the update only fires when at least one
// non-key, non-audit column differs from the stored row. The comparison
// casts both sides to text and coalesces NULL to the empty string, so
// NULL-vs-NULL never counts as a difference and the guard works for any
// column type. When no such column exists the statement degenerates to
// DO NOTHING: there is nothing meaningful to compare, so updates are
// structurally impossible.
//
// RETURNING yields the audit column for every record actually written;
// a conflicting record that fails the guard returns no row.
func buildUpsertSQL(schema *Schema, batchSize int) (string, error) {
	if batchSize < 1 {
		return "", &ArgumentError{Field: "batchSize", Message: fmt.Sprintf("must be a positive integer, got %d", batchSize)}
	}

	fields := schema.Fields()
	columnsStr := strings.Join(fields, ", ")
	placeholders := generatePlaceholders(len(fields), batchSize)
	baseSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", schema.Table(), columnsStr, placeholders)
	target := strings.Join(schema.UniqueFields(), ", ")

	predicates := schema.predicateFields()
	if len(predicates) == 0 {
		return fmt.Sprintf("%s ON CONFLICT (%s) DO NOTHING RETURNING %s", baseSQL, target, AuditColumn), nil
	}

	updates := schema.updateFields()
	updatePairs := make([]string, len(updates))
	for i, f := range updates {
		updatePairs[i] = fmt.Sprintf("%s = EXCLUDED.%s", f, f)
	}

	guards := make([]string, len(predicates))
	for i, f := range predicates {
		guards[i] = fmt.Sprintf("COALESCE(%s.%s::text, '') != COALESCE(EXCLUDED.%s::text, '')", schema.Table(), f, f)
	}

	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s WHERE %s RETURNING %s",
		baseSQL, target, strings.Join(updatePairs, ", "), strings.Join(guards, " OR "), AuditColumn), nil
}

// generatePlaceholders emits batchSize parenthesized rows of columnCount
// PostgreSQL placeholders, numbered row-major.
func generatePlaceholders(columnCount, batchSize int) string {
	rows := make([]string, batchSize)
	for i := 0; i < batchSize; i++ {
		placeholders := make([]string, columnCount)
		for j := 0; j < columnCount; j++ {
			placeholders[j] = fmt.Sprintf("$%d", i*columnCount+j+1)
		}
		rows[i] = "(" + strings.Join(placeholders, ", ") + ")"
	}
	return strings.Join(rows, ", ")
}
