// Package errors provides structured error types for autoform.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for autoform.
const (
	// Session errors
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodeNoCheckpoint    Code = "NO_CHECKPOINT"
	CodeSessionTerminal Code = "SESSION_TERMINAL"
	CodeSessionBusy     Code = "SESSION_BUSY"
	CodeInvalidInput    Code = "INVALID_INPUT"

	// Run errors
	CodeBrowserInit     Code = "BROWSER_INIT_FAILED"
	CodeRetryExhausted  Code = "RETRY_EXHAUSTED"
	CodeCycleLimit      Code = "CYCLE_LIMIT"
	CodeDecisionFailure Code = "DECISION_UNAVAILABLE"

	// Infrastructure errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
	CodeStorage       Code = "STORAGE_FAILED"
	CodeBatchNotFound Code = "BATCH_NOT_FOUND"
	CodeInternal      Code = "INTERNAL"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryTimeout
	CategoryUnavailable
)

var codeCategories = map[Code]Category{
	CodeSessionNotFound: CategoryNotFound,
	CodeNoCheckpoint:    CategoryNotFound,
	CodeSessionTerminal: CategoryConflict,
	CodeSessionBusy:     CategoryConflict,
	CodeInvalidInput:    CategoryBadRequest,
	CodeBrowserInit:     CategoryUnavailable,
	CodeRetryExhausted:  CategoryInternal,
	CodeCycleLimit:      CategoryInternal,
	CodeDecisionFailure: CategoryUnavailable,
	CodeConfigInvalid:   CategoryBadRequest,
	CodeStorage:         CategoryInternal,
	CodeBatchNotFound:   CategoryNotFound,
	CodeInternal:        CategoryInternal,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryTimeout:
		return 504
	case CategoryUnavailable:
		return 503
	default:
		return 500
	}
}

// AutoformError is the structured error type returned across package boundaries.
type AutoformError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *AutoformError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *AutoformError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *AutoformError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category for HTTP status mapping.
func (e *AutoformError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *AutoformError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// MarshalJSON implements json.Marshaler.
func (e *AutoformError) MarshalJSON() ([]byte, error) {
	type alias AutoformError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is an AutoformError with the same code.
func (e *AutoformError) Is(target error) bool {
	t, ok := target.(*AutoformError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *AutoformError) WithCause(err error) *AutoformError {
	return &AutoformError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// ErrSessionNotFound is returned when no active or persisted session matches the ID.
func ErrSessionNotFound(id string) *AutoformError {
	return &AutoformError{
		Code: CodeSessionNotFound,
		What: fmt.Sprintf("session %s not found", id),
		Fix:  "Start a new session or check the session ID",
	}
}

// ErrNoCheckpoint is returned by resume when nothing was persisted for the session.
func ErrNoCheckpoint(id string) *AutoformError {
	return &AutoformError{
		Code: CodeNoCheckpoint,
		What: fmt.Sprintf("no checkpoint for session %s", id),
		Why:  "The session never suspended or its checkpoint was not persisted",
		Fix:  "Start the session again instead of resuming it",
	}
}

// ErrSessionTerminal is returned when a completed or failed session is resumed.
func ErrSessionTerminal(id, status string) *AutoformError {
	return &AutoformError{
		Code: CodeSessionTerminal,
		What: fmt.Sprintf("session %s is %s", id, status),
		Why:  "Terminal sessions accept no further input",
	}
}

// ErrSessionBusy is returned when a second invocation targets a session that is already running.
func ErrSessionBusy(id string) *AutoformError {
	return &AutoformError{
		Code: CodeSessionBusy,
		What: fmt.Sprintf("session %s is already running", id),
		Fix:  "Cancel the running invocation or wait for it to suspend",
	}
}

// ErrInvalidInput wraps a request validation failure.
func ErrInvalidInput(why string) *AutoformError {
	return &AutoformError{
		Code: CodeInvalidInput,
		What: "invalid input",
		Why:  why,
	}
}

// ErrBrowserInit is returned when the remote browser session cannot be created.
func ErrBrowserInit(attempts int, cause error) *AutoformError {
	return &AutoformError{
		Code:  CodeBrowserInit,
		What:  "browser initialization failed",
		Why:   fmt.Sprintf("gave up after %d attempts", attempts),
		Fix:   "Check that the browser executor service is reachable",
		Cause: cause,
	}
}

// ErrRetryExhausted marks a run that used up its retry budget.
func ErrRetryExhausted(limit int) *AutoformError {
	return &AutoformError{
		Code: CodeRetryExhausted,
		What: "retry budget exhausted",
		Why:  fmt.Sprintf("%d consecutive retries without a successful action", limit),
	}
}

// ErrCycleLimit marks a run that hit the per-invocation cycle ceiling.
func ErrCycleLimit(limit int) *AutoformError {
	return &AutoformError{
		Code: CodeCycleLimit,
		What: "cycle limit exceeded",
		Why:  fmt.Sprintf("%d decision cycles in one invocation", limit),
	}
}

// ErrConfigInvalid is returned when configuration validation fails.
func ErrConfigInvalid(field, reason string) *AutoformError {
	return &AutoformError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check autoform.yaml or the AUTOFORM_* environment variables",
	}
}

// ErrStorage wraps a persistence failure.
func ErrStorage(op string, cause error) *AutoformError {
	return &AutoformError{
		Code:  CodeStorage,
		What:  fmt.Sprintf("storage %s failed", op),
		Cause: cause,
	}
}

// ErrBatchNotFound is returned for unknown batch IDs.
func ErrBatchNotFound(id string) *AutoformError {
	return &AutoformError{
		Code: CodeBatchNotFound,
		What: fmt.Sprintf("batch %s not found", id),
	}
}

// AsAutoformError extracts an *AutoformError from err, wrapping unknown errors as internal.
func AsAutoformError(err error) *AutoformError {
	if err == nil {
		return nil
	}
	var ae *AutoformError
	if stderrors.As(err, &ae) {
		return ae
	}
	return &AutoformError{Code: CodeInternal, What: "internal error", Cause: err}
}
