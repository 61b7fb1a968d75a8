package amortization

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidLoanTerms is the sentinel behind every validation failure.
var ErrInvalidLoanTerms = errors.New("invalid loan terms")

// Field names reported in InvalidLoanTermsError.
const (
	FieldPrincipal  = "principal"
	FieldAnnualRate = "annual_rate_percent"
	FieldTermMonths = "term_months"
)

// InvalidLoanTermsError identifies which input was rejected and why.
type InvalidLoanTermsError struct {
	Field  string
	Reason string
	Value  string
}

func (e *InvalidLoanTermsError) Error() string {
	return fmt.Sprintf("invalid loan terms: %s %s (got %s)", e.Field, e.Reason, e.Value)
}

func (e *InvalidLoanTermsError) Unwrap() error {
	return ErrInvalidLoanTerms
}

func invalid(field, reason, value string) error {
	return &InvalidLoanTermsError{Field: field, Reason: reason, Value: value}
}

func itoa(n int) string { return strconv.Itoa(n) }
