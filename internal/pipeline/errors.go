package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline errors so each layer can apply its own policy:
// state errors are caller-correctable, infra errors are retry-later, timeout
// and unexpected errors mark the document failed.
type Kind int

const (
	KindUnexpected Kind = iota
	KindState
	KindInfra
	KindTimeout
)

// Expected state-guard conditions at the pipeline entry point. They signal
// races against concurrent invocation, not processing failures.
var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrAlreadyProcessed  = errors.New("document already processed")
	ErrAlreadyProcessing = errors.New("document is currently being processed")
	ErrEmptyText         = errors.New("no text could be extracted from document")
)

func (k Kind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindInfra:
		return "infra"
	case KindTimeout:
		return "timeout"
	default:
		return "unexpected"
	}
}

// Error tags an underlying error with its Kind.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string { return e.cause.Error() }
func (e *Error) Unwrap() error { return e.cause }

func stateErr(format string, args ...interface{}) error {
	return &Error{Kind: KindState, cause: fmt.Errorf(format, args...)}
}

func infraErr(format string, args ...interface{}) error {
	return &Error{Kind: KindInfra, cause: fmt.Errorf(format, args...)}
}

func timeoutErr(format string, args ...interface{}) error {
	return &Error{Kind: KindTimeout, cause: fmt.Errorf(format, args...)}
}

func unexpectedErr(format string, args ...interface{}) error {
	return &Error{Kind: KindUnexpected, cause: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, defaulting to KindUnexpected.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnexpected
}

// IsStateError reports whether err is an expected state-guard condition.
func IsStateError(err error) bool {
	return KindOf(err) == KindState
}
