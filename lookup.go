package metagdb

import (
	"fmt"
	"strings"
)

// DefaultProjection is selected by identifier lookups when the caller
// does not request a projection of their own.
const DefaultProjection = "id"

// buildLookupSQL builds the SELECT that maps a batch of unique-key
// tuples to the requested projection. values is the flattened batch,
// grouped into tuples of len(fields). The audit column is never used as
// a predicate; NULL-normalized values become IS NULL predicates instead
// of placeholders. Returns the statement and the bound values in tuple
// and field order, NULLs excluded.
//
// The projection is an opaque caller-controlled expression and may name
// several columns, e.g. "name, id".
func buildLookupSQL(table string, fields []string, values []any, projection string) (string, []any, error) {
	if table == "" {
		return "", nil, ErrEmptyTable
	}
	if len(fields) == 0 {
		return "", nil, ErrEmptyFields
	}
	if len(values) == 0 {
		return "", nil, ErrEmptyValues
	}
	if len(values)%len(fields) != 0 {
		return "", nil, &ArityError{Values: len(values), Fields: len(fields)}
	}
	if projection == "" {
		projection = DefaultProjection
	}

	tuples := len(values) / len(fields)
	conditions := make([]string, 0, tuples)
	args := make([]any, 0, len(values))
	placeholder := 0

	for t := 0; t < tuples; t++ {
		predicates := make([]string, 0, len(fields))
		for i, f := range fields {
			if f == AuditColumn {
				continue
			}
			v := normalizeValue(values[t*len(fields)+i])
			if v == nil {
				predicates = append(predicates, f+" IS NULL")
				continue
			}
			placeholder++
			predicates = append(predicates, fmt.Sprintf("%s = $%d", f, placeholder))
			args = append(args, v)
		}
		conditions = append(conditions, "("+strings.Join(predicates, " AND ")+")")
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s", projection, table, strings.Join(conditions, " OR "))
	return sql, args, nil
}
