package engine

import "fmt"

// ValidationError indicates bad or missing input.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) ValidationError {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError indicates a transition that is already satisfied or exclusive.
type ConflictError struct {
	Msg string
}

func (e ConflictError) Error() string { return e.Msg }

func conflictf(format string, args ...any) ConflictError {
	return ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidStateError indicates an operation not valid in the current lifecycle
// state.
type InvalidStateError struct {
	Msg string
}

func (e InvalidStateError) Error() string { return e.Msg }

func invalidStatef(format string, args ...any) InvalidStateError {
	return InvalidStateError{Msg: fmt.Sprintf(format, args...)}
}
