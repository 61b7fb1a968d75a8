/*
Package amortization computes fixed-payment loan schedules.

PURPOSE:
  Given a principal, an annual interest rate and a term in months, produce the
  month-by-month repayment schedule a VSLA member follows: how much of each
  installment is interest, how much retires principal, and what is still owed.

FORMULA:
  r = annualRatePercent / 100 / 12

  r == 0:  payment = principal / n, rounded down        (straight line)
  r  > 0:  payment = P * r * (1+r)^n / ((1+r)^n - 1)    (annuity)

  Each month: interest = balance * r, principal = payment - interest.
  The final installment absorbs the rounding remainder so the sum of the
  principal components equals the original principal exactly and the last
  remaining balance is exactly zero.

  totalAmount = payment * n and totalInterest = totalAmount - principal,
  always. A straight-line payment rounded down can make totalInterest a few
  minor units negative; the final installment carries those units.

PRECISION:
  All arithmetic is decimal.Decimal. Intermediate powers are kept at
  workingPrecision places; amounts are rounded to the currency minor unit
  (Engine.Places, default 2).

CONCURRENCY:
  Everything here is a pure function over values. Safe to call from any
  number of goroutines.

SEE ALSO:
  - errors.go: InvalidLoanTermsError
  - loans/service.go: Loan lifecycle built on the schedule
*/
package amortization

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// LIMITS
// =============================================================================

const (
	MaxTermMonths = 600 // 50 years
	MinTermMonths = 1

	// workingPrecision is the number of places kept for the monthly rate and
	// the compounding factor before amounts are rounded to the minor unit.
	workingPrecision = 24
)

var (
	MaxPrincipal       = decimal.New(1, 12) // 1,000,000,000,000
	MaxAnnualRatePct   = decimal.NewFromInt(1000)
	hundred            = decimal.NewFromInt(100)
	monthsPerYear      = decimal.NewFromInt(12)
	defaultMinorPlaces = int32(2)
)

// =============================================================================
// TYPES
// =============================================================================

// LoanTerms is the input to the engine.
type LoanTerms struct {
	Principal         decimal.Decimal
	AnnualRatePercent decimal.Decimal
	TermMonths        int
}

// Entry is one installment of a schedule.
type Entry struct {
	Month            int
	Payment          decimal.Decimal
	Principal        decimal.Decimal
	Interest         decimal.Decimal
	RemainingBalance decimal.Decimal
}

// Schedule is the computed repayment plan. Immutable once returned.
type Schedule struct {
	Terms          LoanTerms
	MonthlyPayment decimal.Decimal
	TotalInterest  decimal.Decimal
	TotalAmount    decimal.Decimal
	Entries        []Entry
}

// Engine computes schedules rounded to Places decimal places.
// UGX and other zero-minor-unit currencies use Places: 0.
type Engine struct {
	Places int32
}

// Default rounds to two decimal places.
var Default = Engine{Places: defaultMinorPlaces}

// ForCurrency returns an engine rounding to the currency's minor unit.
func ForCurrency(currency string) Engine {
	return Engine{Places: MinorUnits(currency)}
}

// MinorUnits returns the number of decimal places used by a currency.
// Shillings are quoted in whole units; everything else defaults to cents.
func MinorUnits(currency string) int32 {
	switch currency {
	case "UGX", "RWF", "BIF", "XAF", "XOF":
		return 0
	default:
		return defaultMinorPlaces
	}
}

// ComputeSchedule builds a schedule with the default engine.
func ComputeSchedule(principal, annualRatePercent decimal.Decimal, termMonths int) (Schedule, error) {
	return Default.Compute(LoanTerms{
		Principal:         principal,
		AnnualRatePercent: annualRatePercent,
		TermMonths:        termMonths,
	})
}

// Schedule is shorthand for Default.Compute(t).
func (t LoanTerms) Schedule() (Schedule, error) {
	return Default.Compute(t)
}

// Validate reports the first field that makes the terms unusable.
func (t LoanTerms) Validate() error {
	switch {
	case !t.Principal.IsPositive():
		return invalid(FieldPrincipal, "must be greater than zero", t.Principal.String())
	case t.Principal.GreaterThan(MaxPrincipal):
		return invalid(FieldPrincipal, "exceeds maximum of "+MaxPrincipal.String(), t.Principal.String())
	case t.TermMonths < MinTermMonths:
		return invalid(FieldTermMonths, "must be at least 1", itoa(t.TermMonths))
	case t.TermMonths > MaxTermMonths:
		return invalid(FieldTermMonths, "exceeds maximum of 600", itoa(t.TermMonths))
	case t.AnnualRatePercent.IsNegative():
		return invalid(FieldAnnualRate, "must not be negative", t.AnnualRatePercent.String())
	case t.AnnualRatePercent.GreaterThan(MaxAnnualRatePct):
		return invalid(FieldAnnualRate, "exceeds maximum of 1000%", t.AnnualRatePercent.String())
	}
	return nil
}

// MonthlyRate returns annualRatePercent / 100 / 12 at working precision.
func (t LoanTerms) MonthlyRate() decimal.Decimal {
	return t.AnnualRatePercent.
		DivRound(hundred, workingPrecision).
		DivRound(monthsPerYear, workingPrecision)
}

// =============================================================================
// COMPUTATION
// =============================================================================

// Compute validates the terms and returns the full schedule.
func (e Engine) Compute(t LoanTerms) (Schedule, error) {
	if err := t.Validate(); err != nil {
		return Schedule{}, err
	}

	r := t.MonthlyRate()
	payment := e.monthlyPayment(t.Principal, r, t.TermMonths)
	totalAmount := payment.Mul(decimal.NewFromInt(int64(t.TermMonths)))

	return Schedule{
		Terms:          t,
		MonthlyPayment: payment,
		TotalAmount:    totalAmount,
		TotalInterest:  totalAmount.Sub(t.Principal),
		Entries:        e.entries(t.Principal, r, payment, t.TermMonths),
	}, nil
}

// MonthlyPayment returns only the installment amount.
func (e Engine) MonthlyPayment(t LoanTerms) (decimal.Decimal, error) {
	if err := t.Validate(); err != nil {
		return decimal.Zero, err
	}
	return e.monthlyPayment(t.Principal, t.MonthlyRate(), t.TermMonths), nil
}

func (e Engine) monthlyPayment(principal, r decimal.Decimal, n int) decimal.Decimal {
	// Rounded down: only the final month may differ.
	if r.IsZero() {
		return principal.DivRound(decimal.NewFromInt(int64(n)), workingPrecision).RoundFloor(e.Places)
	}

	factor := compound(r, n)
	numerator := principal.Mul(r).Mul(factor)
	denominator := factor.Sub(decimal.NewFromInt(1))
	return numerator.DivRound(denominator, workingPrecision).Round(e.Places)
}

func (e Engine) entries(principal, r, payment decimal.Decimal, n int) []Entry {
	entries := make([]Entry, 0, n)
	balance := principal

	for month := 1; month <= n; month++ {
		interest := balance.Mul(r).Round(e.Places)
		principalPart := payment.Sub(interest)

		// Last month, or the balance ran out early: retire what is left.
		if month == n || principalPart.GreaterThan(balance) {
			principalPart = balance
		}
		if principalPart.IsNegative() {
			principalPart = decimal.Zero
		}

		balance = balance.Sub(principalPart)
		if balance.IsNegative() {
			balance = decimal.Zero
		}

		entries = append(entries, Entry{
			Month:            month,
			Payment:          principalPart.Add(interest),
			Principal:        principalPart,
			Interest:         interest,
			RemainingBalance: balance,
		})
	}
	return entries
}

// compound returns (1+r)^n, rounding each step to working precision so the
// digit count stays bounded for long terms.
func compound(r decimal.Decimal, n int) decimal.Decimal {
	base := decimal.NewFromInt(1).Add(r)
	result := decimal.NewFromInt(1)
	for n > 0 {
		if n&1 == 1 {
			result = result.Mul(base).Round(workingPrecision)
		}
		base = base.Mul(base).Round(workingPrecision)
		n >>= 1
	}
	return result
}

// =============================================================================
// SCHEDULE HELPERS
// =============================================================================

// PrincipalPaid sums the principal components of every entry.
func (s Schedule) PrincipalPaid() decimal.Decimal {
	sum := decimal.Zero
	for _, e := range s.Entries {
		sum = sum.Add(e.Principal)
	}
	return sum
}

// ScheduledThrough returns the cumulative payment due by the end of month m.
// Months past the term return the full schedule total.
func (s Schedule) ScheduledThrough(m int) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range s.Entries {
		if e.Month > m {
			break
		}
		sum = sum.Add(e.Payment)
	}
	return sum
}

// AmountDue returns the sum of all entry payments, which may differ from
// TotalAmount by the final rounding adjustment.
func (s Schedule) AmountDue() decimal.Decimal {
	return s.ScheduledThrough(len(s.Entries))
}
