package loop

import (
	"errors"
	"fmt"

	"text2sql/internal/prompts"
)

var (
	// ErrNoQuery means the loop finished without any extractable SQL.
	ErrNoQuery = errors.New("no usable query produced")
	// ErrInvalidRevisionLimit is returned for a revision limit below one.
	ErrInvalidRevisionLimit = errors.New("revision limit must be at least 1")
)

// ModelInvocationError is fatal to a loop run.
type ModelInvocationError struct {
	Role prompts.Role
	Err  error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("%s model call failed: %v", e.Role, e.Err)
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }
