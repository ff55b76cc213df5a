// Package errors provides error classification for the node's components.
//
// Every failure that crosses a component boundary is wrapped into a
// ClassifiedError carrying the component and operation it came from plus a
// class that tells the caller how to react: transient failures are retried,
// invalid input is dropped or reported, conflicts and not-found conditions
// map onto API status codes, and fatal errors stop the worker.
package errors

import (
	"errors"
	"fmt"
)

// Class describes how a caller should react to an error.
type Class int

const (
	// ClassTransient marks failures that may succeed on retry, such as an
	// unreachable queue or storage backend.
	ClassTransient Class = iota
	// ClassInvalid marks malformed or semantically invalid input. Retrying
	// with the same input will fail again.
	ClassInvalid
	// ClassConflict marks optimistic-concurrency losses and attempts to
	// modify records that are already in a final state.
	ClassConflict
	// ClassNotFound marks lookups for records that do not exist.
	ClassNotFound
	// ClassFatal marks unrecoverable failures such as broken configuration.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassInvalid:
		return "invalid"
	case ClassConflict:
		return "conflict"
	case ClassNotFound:
		return "not_found"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel errors shared across components. Wrap them with one of the
// constructors below so the origin is preserved.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrDuplicate          = errors.New("duplicate record")
	ErrFinalStatus        = errors.New("message status is final")
	ErrNoChangesDetected  = errors.New("no changes detected")
	ErrBadParameters      = errors.New("bad parameters")
	ErrInvalidData        = errors.New("invalid data")
	ErrParsingFailed      = errors.New("parsing failed")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrQueueUnavailable   = errors.New("queue unavailable")
	ErrDeliveryFailed     = errors.New("delivery failed")
	ErrNoRoute            = errors.New("no route for message")
	ErrMissingConfig      = errors.New("missing configuration")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// ClassifiedError attaches a Class and an origin to an underlying error.
type ClassifiedError struct {
	Class     Class
	Err       error
	Component string
	Operation string
	Message   string
}

func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Component, e.Operation, e.Message)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

func wrap(class Class, err error, component, operation, message string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Component: component,
		Operation: operation,
		Message:   message,
	}
}

// WrapTransient wraps err as a retryable failure.
func WrapTransient(err error, component, operation, message string) error {
	return wrap(ClassTransient, err, component, operation, message)
}

// WrapInvalid wraps err as an input failure that retrying cannot fix.
func WrapInvalid(err error, component, operation, message string) error {
	return wrap(ClassInvalid, err, component, operation, message)
}

// WrapConflict wraps err as a concurrency or state-machine conflict.
func WrapConflict(err error, component, operation, message string) error {
	return wrap(ClassConflict, err, component, operation, message)
}

// WrapNotFound wraps err as a missing-record condition.
func WrapNotFound(err error, component, operation, message string) error {
	return wrap(ClassNotFound, err, component, operation, message)
}

// WrapFatal wraps err as unrecoverable.
func WrapFatal(err error, component, operation, message string) error {
	return wrap(ClassFatal, err, component, operation, message)
}

// Classify reports the Class of err. Unclassified errors default to
// ClassTransient so that unknown infrastructure failures get retried rather
// than silently dropped.
func Classify(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrDuplicate), errors.Is(err, ErrFinalStatus):
		return ClassConflict
	case errors.Is(err, ErrInvalidData), errors.Is(err, ErrParsingFailed), errors.Is(err, ErrBadParameters):
		return ClassInvalid
	case errors.Is(err, ErrMissingConfig), errors.Is(err, ErrInvalidConfig):
		return ClassFatal
	}
	return ClassTransient
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == ClassTransient
}

// IsInvalid reports whether err stems from bad input.
func IsInvalid(err error) bool {
	return err != nil && Classify(err) == ClassInvalid
}

// IsConflict reports whether err is a concurrency or state conflict.
func IsConflict(err error) bool {
	return err != nil && Classify(err) == ClassConflict
}

// IsNotFound reports whether err is a missing-record condition.
func IsNotFound(err error) bool {
	return err != nil && Classify(err) == ClassNotFound
}

// IsFatal reports whether err is unrecoverable.
func IsFatal(err error) bool {
	return err != nil && Classify(err) == ClassFatal
}

// New returns a plain error. It exists so packages importing this one do not
// also need the standard errors package for simple cases.
func New(text string) error {
	return errors.New(text)
}

// Is, As and Unwrap re-export the standard helpers.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func Unwrap(err error) error { return errors.Unwrap(err) }
