// Package lakeerr defines the closed set of failure kinds reported by the
// ingestion and query pipeline.
package lakeerr

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindConfig            Kind = "ConfigError"
	KindSourceUnavailable Kind = "SourceUnavailable"
	KindSchema            Kind = "SchemaError"
	KindDuplicateName     Kind = "DuplicateName"
	KindNotFound          Kind = "NotFound"
	KindSyntax            Kind = "SyntaxError"
	KindUnknownTable      Kind = "UnknownTable"
	KindExecution         Kind = "ExecutionError"
	KindCancelled         Kind = "Cancelled"
)

var (
	ErrConfig            = &Error{Kind: KindConfig}
	ErrSourceUnavailable = &Error{Kind: KindSourceUnavailable}
	ErrSchema            = &Error{Kind: KindSchema}
	ErrDuplicateName     = &Error{Kind: KindDuplicateName}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrSyntax            = &Error{Kind: KindSyntax}
	ErrUnknownTable      = &Error{Kind: KindUnknownTable}
	ErrExecution         = &Error{Kind: KindExecution}
	ErrCancelled         = &Error{Kind: KindCancelled}
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the package sentinels work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in the chain.
// Context cancellation and deadlines classify as Cancelled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func Retryable(err error) bool {
	return KindOf(err) == KindSourceUnavailable
}

func FromContext(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return E(KindCancelled, op, err)
	}
	return err
}
