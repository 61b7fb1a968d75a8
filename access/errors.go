package access

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when no usable session is present.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnknownAction is the sentinel behind UnknownActionError.
	ErrUnknownAction = errors.New("unknown action")
)

// UnknownActionError names the action the matrix does not define.
// A typo in a route or handler surfaces here instead of as a silent deny.
type UnknownActionError struct {
	Action Action
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", string(e.Action))
}

func (e *UnknownActionError) Unwrap() error { return ErrUnknownAction }

// IncompleteMatrixError is returned by NewMatrix when a role has no entry.
type IncompleteMatrixError struct {
	Role Role
}

func (e *IncompleteMatrixError) Error() string {
	return fmt.Sprintf("access matrix has no entry for role %q", string(e.Role))
}

// MalformedSessionError explains why a session could not be classified.
// It unwraps to ErrUnauthenticated.
type MalformedSessionError struct {
	Kind   Kind
	Reason string
}

func (e *MalformedSessionError) Error() string {
	return fmt.Sprintf("unauthenticated: malformed %s session: %s", e.Kind, e.Reason)
}

func (e *MalformedSessionError) Unwrap() error { return ErrUnauthenticated }
