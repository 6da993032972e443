package directory

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies backend failures. The executor uses the
// category to decide between retrying and writing a tenant off for the
// rest of the request.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryThrottling     ErrorCategory = "throttling"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// Error wraps a backend failure with its category and retryability.
type Error struct {
	Operation string
	Category  ErrorCategory
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("directory ")
	b.WriteString(e.Operation)
	b.WriteString(" failed")
	if e.Category != "" && e.Category != ErrorCategoryUnknown {
		fmt.Fprintf(&b, " (%s)", e.Category)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable reports whether retrying the operation may succeed.
func (e *Error) IsRetryable() bool { return e.Retryable }

// NewError builds a categorized backend error.
func NewError(operation string, category ErrorCategory, retryable bool, cause error) *Error {
	return &Error{Operation: operation, Category: category, Retryable: retryable, Cause: cause}
}

// retryableError is satisfied by errors that carry their own
// retryability decision.
type retryableError interface {
	error
	IsRetryable() bool
}

// IsRetryable reports whether an error is worth retrying. Errors that
// don't classify themselves fall back to message inspection, matching
// the transient failure modes directory servers actually produce.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re retryableError
	if errors.As(err, &re) {
		return re.IsRetryable()
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection", "timeout", "network", "broken pipe",
		"connection reset", "busy", "unavailable", "temporarily",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Category returns the classification of an error, ErrorCategoryUnknown
// when it carries none.
func Category(err error) ErrorCategory {
	var de *Error
	if errors.As(err, &de) {
		return de.Category
	}
	return ErrorCategoryUnknown
}
