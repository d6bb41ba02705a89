// Package metagdb implements idempotent batch upserts for the
// metagenomics classification store: multi-row INSERT ... ON CONFLICT
// statements that only update rows whose payload actually changed, plus
// the follow-up identifier lookup that resolves surrogate keys for every
// submitted record.
package metagdb

import "fmt"

// AuditColumn is the reserved change-tracking column. It is always
// written and always returned, but never used as a conflict key or as a
// lookup predicate.
const AuditColumn = "id_change"

// Schema describes one target relation: the full ordered column list and
// the ordered unique-key subset used as the conflict target.
type Schema struct {
	table        string
	fields       []string
	uniqueFields []string
}

// NewSchema creates a validated Schema. The unique fields must be a
// subset of fields and may not include the audit column.
func NewSchema(table string, fields, uniqueFields []string) (*Schema, error) {
	if table == "" {
		return nil, ErrEmptyTable
	}
	if len(fields) == 0 {
		return nil, ErrEmptyFields
	}
	if len(uniqueFields) == 0 {
		return nil, ErrEmptyUniqueFields
	}
	for _, f := range uniqueFields {
		if f == AuditColumn {
			return nil, &ArgumentError{Field: f, Message: "audit column cannot be a unique key"}
		}
		if !contains(fields, f) {
			return nil, &ArgumentError{Field: f, Message: "unique key is not part of the field set"}
		}
	}
	return &Schema{
		table:        table,
		fields:       fields,
		uniqueFields: uniqueFields,
	}, nil
}

// Table returns the relation name.
func (s *Schema) Table() string {
	return s.table
}

// Fields returns the ordered column list.
func (s *Schema) Fields() []string {
	return s.fields
}

// UniqueFields returns the ordered unique-key columns.
func (s *Schema) UniqueFields() []string {
	return s.uniqueFields
}

// updateFields returns the columns rewritten on conflict: the field set
// minus the unique keys, in field-set order. The audit column stays in.
func (s *Schema) updateFields() []string {
	updates := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		if contains(s.uniqueFields, f) {
			continue
		}
		updates = append(updates, f)
	}
	return updates
}

// predicateFields returns the columns compared by the conflict guard:
// the update fields minus the audit column. An empty result degenerates
// the statement to insert-only.
func (s *Schema) predicateFields() []string {
	predicates := make([]string, 0, len(s.fields))
	for _, f := range s.updateFields() {
		if f == AuditColumn {
			continue
		}
		predicates = append(predicates, f)
	}
	return predicates
}

// String returns a string representation of the schema.
func (s *Schema) String() string {
	return fmt.Sprintf("Schema{table=%s, fields=%v, uniqueFields=%v}", s.table, s.fields, s.uniqueFields)
}

func contains(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}

// RecordSet accumulates map-shaped rows for one Schema into the
// flattened value and unique-key slices the engine consumes. Columns
// missing from a row become NULL.
type RecordSet struct {
	schema *Schema
	values []any
	keys   []any
	rows   int
}

// NewRecordSet creates an empty RecordSet for the given schema.
func NewRecordSet(schema *Schema) *RecordSet {
	return &RecordSet{schema: schema}
}

// Append adds one record, ordering its values by the schema columns.
func (rs *RecordSet) Append(row map[string]any) {
	for _, f := range rs.schema.fields {
		rs.values = append(rs.values, row[f])
	}
	for _, f := range rs.schema.uniqueFields {
		rs.keys = append(rs.keys, row[f])
	}
	rs.rows++
}

// Len returns the number of appended records.
func (rs *RecordSet) Len() int {
	return rs.rows
}

// Values returns the flattened record values in schema order.
func (rs *RecordSet) Values() []any {
	return rs.values
}

// KeyValues returns the flattened unique-key values in unique-key order.
func (rs *RecordSet) KeyValues() []any {
	return rs.keys
}
