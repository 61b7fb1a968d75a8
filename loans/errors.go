package loans

import (
	"errors"
	"fmt"
)

var (
	ErrLoanNotFound     = errors.New("loan not found")
	ErrMemberNotInGroup = errors.New("member does not belong to group")
	ErrOverpayment      = errors.New("repayment exceeds amount outstanding")
	ErrInvalidAmount    = errors.New("amount must be greater than zero")
)

// TransitionError is returned when an operation is not allowed from the
// loan's current status.
type TransitionError struct {
	LoanID LoanID
	From   Status
	Op     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s loan %s in status %s", e.Op, e.LoanID, e.From)
}

func IsClientError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te) ||
		errors.Is(err, ErrMemberNotInGroup) ||
		errors.Is(err, ErrOverpayment) ||
		errors.Is(err, ErrInvalidAmount)
}
