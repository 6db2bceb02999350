// Package errs provides the shared error taxonomy used by every backend
// component: target manager, job controller, draft store, module store,
// and artifact store. Call sites use the per-component constructors so
// error types remain distinguishable via errors.As, while the facade
// maps every one of them into the same wire envelope.
package errs

import (
	"errors"
	"fmt"
)

// Code is one of the six error codes the facade envelope may report.
type Code string

// Error codes per spec §7.
const (
	CodeNotFound        Code = "NOT_FOUND"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeUnavailable      Code = "UNAVAILABLE"
	CodeTimeout          Code = "TIMEOUT"
	CodeNotImplemented   Code = "NOT_IMPLEMENTED"
	CodeInternal         Code = "INTERNAL"
)

// retryableCodes holds the codes that are safe for a caller to retry
// without side effects beyond the original attempt.
var retryableCodes = map[Code]bool{
	CodeTimeout:     true,
	CodeUnavailable: true,
}

// suggestions gives a one-line actionable hint per code, attached by the
// facade when no component-specific suggestion was set.
var suggestions = map[Code]string{
	CodeNotFound:        "Verify the identifier exists using the matching list/status tool.",
	CodeInvalidArgument: "Check the request arguments against the tool's schema.",
	CodeUnavailable:     "Retry shortly; the device or session may be reconnecting.",
	CodeTimeout:         "Retry the call; it may succeed on a subsequent attempt.",
	CodeNotImplemented:  "This operation is reserved and not yet available.",
	CodeInternal:        "This is an unexpected failure; check host logs for detail.",
}

// Error is the shared error type returned by every backend component.
// Component is the component that raised it (e.g. "target_manager",
// "job_controller"),
// matching spec.md's TargetManagerError / JobControllerError naming by
// convention (see the per-component constructors below).
type Error struct {
	Component  string
	Code       Code
	Message    string
	Suggestion string
	Details    map[string]any
	cause      error
}

func (e *Error) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("%s: %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the facade should mark this error retryable.
func (e *Error) Retryable() bool { return retryableCodes[e.Code] }

// SuggestionOrDefault returns the component-supplied suggestion, falling
// back to the per-code default.
func (e *Error) SuggestionOrDefault() string {
	if e.Suggestion != "" {
		return e.Suggestion
	}
	return suggestions[e.Code]
}

// New builds a component-scoped error.
func New(component string, code Code, format string, args ...any) *Error {
	return &Error{Component: component, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a component-scoped error that chains an underlying cause.
func Wrap(component string, code Code, cause error, format string, args ...any) *Error {
	return &Error{Component: component, Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithSuggestion attaches an actionable suggestion and returns the receiver,
// for chaining at the construction site.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithDetails attaches structured detail fields and returns the receiver.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// As reports whether err is (or wraps) an *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the Code carried by err, or CodeInternal if err does not
// carry a typed Error.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// Per-component constructors preserve spec.md's named error-type surface
// while sharing one implementation and one wire mapping.

// TargetManagerError builds an error raised by pkg/target.
func TargetManagerError(code Code, format string, args ...any) *Error {
	return New("target_manager", code, format, args...)
}

// JobControllerError builds an error raised by pkg/job.
func JobControllerError(code Code, format string, args ...any) *Error {
	return New("job_controller", code, format, args...)
}

// DraftError builds an error raised by pkg/draft.
func DraftError(code Code, format string, args ...any) *Error {
	return New("draft_store", code, format, args...)
}

// ModuleStoreError builds an error raised by pkg/module.
func ModuleStoreError(code Code, format string, args ...any) *Error {
	return New("module_store", code, format, args...)
}

// ArtifactError builds an error raised by pkg/artifact.
func ArtifactError(code Code, format string, args ...any) *Error {
	return New("artifact_store", code, format, args...)
}
