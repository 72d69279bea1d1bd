package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind names an error class in the audit log.
type ErrorKind string

const (
	KindParse          ErrorKind = "parse"
	KindValidation     ErrorKind = "validation"
	KindTransform      ErrorKind = "transform"
	KindBatchPersist   ErrorKind = "batch_persist"
	KindTransaction    ErrorKind = "transaction"
	KindSchemaMismatch ErrorKind = "schema_mismatch"
	KindLock           ErrorKind = "lock"
	KindInternal       ErrorKind = "internal"
)

// ErrRunInProgress is returned when another run holds the ingest lock for
// the same destination and source.
var ErrRunInProgress = errors.New("ingest run already in progress")

// ParseError means the feed could not be read or has an unsupported shape.
// Fatal to the run.
type ParseError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *ParseError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("parse %s (after %d attempts): %v", e.Path, e.Attempts, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError is a field-level problem in one record. The record either
// proceeds with the field nulled or, when the natural key itself is bad, is
// skipped.
type ValidationError struct {
	Record  string // product code, empty when missing
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Record != "" {
		b.WriteString("record ")
		b.WriteString(e.Record)
		b.WriteString(": ")
	}
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Value != "" {
		fmt.Fprintf(&b, " (%q)", e.Value)
	}
	return b.String()
}

// TransformError is an unexpected failure while mapping one record.
// The record is skipped.
type TransformError struct {
	Record string
	Index  int
	Err    error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform record %d (%s): %v", e.Index, e.Record, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// BatchPersistError is a database error while writing one batch, after the
// batch retries were exhausted.
type BatchPersistError struct {
	Table    string
	Batch    int
	Size     int
	Attempts int
	Err      error
}

func (e *BatchPersistError) Error() string {
	return fmt.Sprintf("persist %s batch %d (%d rows, %d attempts): %v",
		e.Table, e.Batch, e.Size, e.Attempts, e.Err)
}

func (e *BatchPersistError) Unwrap() error { return e.Err }

// TransactionError aborts the load phase; the run's transaction is rolled back.
type TransactionError struct {
	Attempts int
	Err      error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("load transaction failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// SchemaMismatchError means the destination lacks a table or column that
// cannot be added automatically. Raised before parsing.
type SchemaMismatchError struct {
	Table   string
	Missing []string
	Err     error
}

func (e *SchemaMismatchError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("schema mismatch on %s: %v", e.Table, e.Err)
	case len(e.Missing) == 0:
		return fmt.Sprintf("schema mismatch: table %s does not exist", e.Table)
	default:
		return fmt.Sprintf("schema mismatch on %s: missing columns %s",
			e.Table, strings.Join(e.Missing, ", "))
	}
}

func (e *SchemaMismatchError) Unwrap() error { return e.Err }

// KindOf classifies err for the audit log.
func KindOf(err error) ErrorKind {
	var (
		parseErr  *ParseError
		valErr    *ValidationError
		trErr     *TransformError
		txErr     *TransactionError
		batchErr  *BatchPersistError
		schemaErr *SchemaMismatchError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &parseErr):
		return KindParse
	case errors.As(err, &schemaErr):
		return KindSchemaMismatch
	case errors.As(err, &txErr):
		return KindTransaction
	case errors.As(err, &batchErr):
		return KindBatchPersist
	case errors.As(err, &trErr):
		return KindTransform
	case errors.As(err, &valErr):
		return KindValidation
	case errors.Is(err, ErrRunInProgress):
		return KindLock
	default:
		return KindInternal
	}
}
