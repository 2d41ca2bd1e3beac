package core

import (
	"errors"
	"strings"
)

// Pipeline outcomes. Every fatal import error matches at most one of these
// with errors.Is; errors matching none are unexpected faults (I/O, database).
var (
	ErrInvalidRequest    = errors.New("invalid import request")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrEmptyResult       = errors.New("import produced an empty table")
	ErrConversionFailure = errors.New("conversion failed")
	ErrNameCollision     = errors.New("table name already claimed")
)

// ErrTableExists is returned by a Store when a table it was asked to create
// already exists.
var ErrTableExists = errors.New("table already exists")

// ImportError is the error returned by a failed import. It records where the
// pipeline stopped and carries the run log collected up to that point.
type ImportError struct {
	Kind   error  // one of the Err* sentinels, nil for unexpected faults
	Stage  Stage  // stage the failure happened in
	Op     string // operation, e.g. "load shapefile"
	Detail string // offending file, table or command
	Err    error  // underlying cause, may be nil
	RunLog RunLog
}

func (e *ImportError) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString(string(e.Stage))
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Kind != nil && e.Err != nil:
		b.WriteString(e.Kind.Error())
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case e.Kind != nil:
		b.WriteString(e.Kind.Error())
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString("import failed")
	}
	if e.Detail != "" {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	return b.String()
}

func (e *ImportError) Unwrap() error { return e.Err }

// Is reports whether target is the error's kind.
func (e *ImportError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// newError builds an *ImportError of the given kind.
func newError(kind error, op, detail string, err error) *ImportError {
	return &ImportError{Kind: kind, Op: op, Detail: detail, Err: err}
}

// KindOf returns the pipeline outcome err matches, or nil for faults.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrInvalidRequest, ErrUnsupportedFormat, ErrEmptyResult,
		ErrConversionFailure, ErrNameCollision,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
