package spec

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDocument   = errors.New("invalid job protocol")
	ErrRender            = errors.New("render failed")
	ErrUnknownDeployment = errors.New("unknown deployment")
)

// ValidationFailure is returned by the compiler when a document is rejected.
type ValidationFailure struct {
	Errors []ValidationError
}

func (e *ValidationFailure) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return ErrInvalidDocument.Error()
	}
	msg := fmt.Sprintf("%s: %s", ErrInvalidDocument.Error(), e.Errors[0].Error())
	if n := len(e.Errors) - 1; n > 0 {
		msg += fmt.Sprintf(" (and %d more)", n)
	}
	return msg
}

func (e *ValidationFailure) Unwrap() error { return ErrInvalidDocument }

// RenderError reports a field that could not be rendered.
type RenderError struct {
	Field string
	Msg   string
}

func (e *RenderError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s: %s", ErrRender.Error(), e.Field, e.Msg)
}

func (e *RenderError) Unwrap() error { return ErrRender }
