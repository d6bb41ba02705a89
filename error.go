package metagdb

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyTable reports a missing table name.
	ErrEmptyTable = errors.New("table name cannot be empty")

	// ErrEmptyFields reports an empty field set.
	ErrEmptyFields = errors.New("field set cannot be empty")

	// ErrEmptyUniqueFields reports an empty unique-key field set.
	ErrEmptyUniqueFields = errors.New("unique field set cannot be empty")

	// ErrEmptyValues reports an empty record value batch.
	ErrEmptyValues = errors.New("value batch cannot be empty")

	// ErrEmptyKeyValues reports an empty unique-key value batch.
	ErrEmptyKeyValues = errors.New("unique-key value batch cannot be empty")
)

// ArgumentError reports an argument that is present but unusable.
type ArgumentError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Message)
}

// ArityError reports a flattened value batch whose length is not an
// exact multiple of its field-set length.
type ArityError struct {
	Values int `json:"values"`
	Fields int `json:"fields"`
}

// Error implements the error interface
func (e *ArityError) Error() string {
	return fmt.Sprintf("value count %d is not a multiple of field count %d", e.Values, e.Fields)
}

// RowCountError reports value and unique-key batches that describe a
// different number of records.
type RowCountError struct {
	ValueRows int `json:"value_rows"`
	KeyRows   int `json:"key_rows"`
}

// Error implements the error interface
func (e *RowCountError) Error() string {
	return fmt.Sprintf("value batch has %d records but unique-key batch has %d", e.ValueRows, e.KeyRows)
}

// StoreError wraps a database error together with the statement that
// failed, keeping the offending SQL inspectable for diagnosis.
type StoreError struct {
	Statement string `json:"statement"`
	Err       error  `json:"-"`
}

// Error implements the error interface
func (e *StoreError) Error() string {
	return fmt.Sprintf("statement failed: %v (statement: %s)", e.Err, e.Statement)
}

// Unwrap returns the underlying store error.
func (e *StoreError) Unwrap() error {
	return e.Err
}
