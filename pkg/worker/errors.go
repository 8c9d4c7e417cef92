package worker

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a task failure for retry logic.
type ErrorClass string

const (
	// ErrorClassTransient failures are retried until the task runs out of attempts.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent failures are never retried.
	ErrorClassPermanent ErrorClass = "permanent"
)

// ErrUnknownTask is returned when a task name has no registered handler.
var ErrUnknownTask = errors.New("unknown task")

// TaskError is a classified task failure.
type TaskError struct {
	Class ErrorClass
	Task  string
	Err   error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	if e.Task != "" {
		return fmt.Sprintf("[%s] task %s: %v", e.Class, e.Task, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Class, e.Err)
}

// Unwrap returns the underlying error.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// Permanent marks err so the worker fails the task without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &TaskError{Class: ErrorClassPermanent, Err: err}
}

// Transient marks err as retryable. Unclassified errors are treated the same way.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TaskError{Class: ErrorClassTransient, Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is a permanent failure.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrUnknownTask) {
		return true
	}
	var te *TaskError
	if errors.As(err, &te) {
		return te.Class == ErrorClassPermanent
	}
	return false
}
