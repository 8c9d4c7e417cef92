package layout

import (
	"errors"
	"fmt"
)

// ErrorKind classifies layout errors so callers can branch on them.
type ErrorKind string

const (
	// ErrorKindSetup is raised while composing a layout: registering after
	// finalization, duplicate section names, invalid section options.
	// It is fatal to process startup.
	ErrorKindSetup ErrorKind = "setup"

	// ErrorKindBindingConflict is raised during a render when a stage
	// produces a value for a pool key that already holds one.
	ErrorKindBindingConflict ErrorKind = "binding_conflict"

	// ErrorKindMissingInput is raised during a render when a stage declares
	// a required parameter that no earlier stage or the caller supplied.
	ErrorKindMissingInput ErrorKind = "missing_input"

	// ErrorKindStageFailed wraps an error returned by section or page code.
	ErrorKindStageFailed ErrorKind = "stage_failed"
)

// Error is a classified layout error.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind

	// Message is the human-readable error message.
	Message string

	// Section is the stage (section name or "body") involved, if any.
	Section string

	// Param is the parameter or pool key involved, if any.
	Param string

	// Err is the underlying error.
	Err error
}

// Sentinels for errors.Is.
var (
	ErrSetup           = &Error{Kind: ErrorKindSetup}
	ErrBindingConflict = &Error{Kind: ErrorKindBindingConflict}
	ErrMissingInput    = &Error{Kind: ErrorKindMissingInput}
	ErrStageFailed     = &Error{Kind: ErrorKindStageFailed}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Section != "" {
		msg += fmt.Sprintf(" (stage=%s)", e.Section)
	}
	if e.Param != "" {
		msg += fmt.Sprintf(" (param=%s)", e.Param)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newSetupError(section, format string, args ...any) *Error {
	return &Error{
		Kind:    ErrorKindSetup,
		Message: fmt.Sprintf(format, args...),
		Section: section,
	}
}

func newBindingConflict(stage, key string) *Error {
	return &Error{
		Kind:    ErrorKindBindingConflict,
		Message: "stage returned a value but the pool key is already set",
		Section: stage,
		Param:   key,
	}
}

func newMissingInput(stage, param string) *Error {
	return &Error{
		Kind:    ErrorKindMissingInput,
		Message: "required parameter has no value and no default",
		Section: stage,
		Param:   param,
	}
}

func newStageFailed(stage string, err error) *Error {
	return &Error{
		Kind:    ErrorKindStageFailed,
		Message: "stage returned an error",
		Section: stage,
		Err:     err,
	}
}

// IsSetupError reports whether err is a setup error.
func IsSetupError(err error) bool {
	return errors.Is(err, ErrSetup)
}

// IsBindingConflict reports whether err is a binding conflict.
func IsBindingConflict(err error) bool {
	return errors.Is(err, ErrBindingConflict)
}

// IsMissingInput reports whether err is a missing input error.
func IsMissingInput(err error) bool {
	return errors.Is(err, ErrMissingInput)
}

// IsStageFailed reports whether err wraps an error returned by a stage.
func IsStageFailed(err error) bool {
	return errors.Is(err, ErrStageFailed)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
