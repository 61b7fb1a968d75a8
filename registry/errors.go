package registry

import (
	"errors"
	"fmt"
)

var (
	ErrGroupNotFound     = errors.New("group not found")
	ErrMemberNotFound    = errors.New("member not found")
	ErrStaffUserNotFound = errors.New("staff user not found")
	ErrInvalidRecord     = errors.New("invalid record")
	ErrDuplicateRecord   = errors.New("record already exists")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRecord }

func IsNotFound(err error) bool {
	return errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrStaffUserNotFound)
}
