package csvimport

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an import failure.
type Kind int

const (
	KindParse Kind = iota + 1
	KindValidation
	KindResolutionMiss
	KindCeiling
	KindBackend
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse_error"
	case KindValidation:
		return "validation_error"
	case KindResolutionMiss:
		return "resolution_miss"
	case KindCeiling:
		return "ceiling_violation"
	case KindBackend:
		return "backend_error"
	default:
		return "unknown"
	}
}

// Code is the public error code used in API responses.
func (k Kind) Code() string {
	switch k {
	case KindParse:
		return "invalid_csv"
	case KindValidation:
		return "validation_error"
	case KindResolutionMiss:
		return "reference_not_found"
	case KindCeiling:
		return "quantity_ceiling_exceeded"
	default:
		return "backend_error"
	}
}

// Error is a classified import failure. Row is the 1-based data row, 0 for file-level errors.
type Error struct {
	Kind    Kind
	File    string
	Row     int
	Field   string
	Product string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.File != "" {
		fmt.Fprintf(&b, " in %s", e.File)
	}
	if e.Row > 0 {
		fmt.Fprintf(&b, " row %d", e.Row)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of err, treating unclassified errors as backend failures.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindBackend
}

// Backend wraps a collaborator failure.
func Backend(file string, row int, err error) *Error {
	return &Error{Kind: KindBackend, File: file, Row: row, Message: "backend request failed", Err: err}
}
