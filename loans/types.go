/*
Package loans runs a VSLA loan from request to final repayment.

LIFECYCLE:
  ┌─────────┐  approve   ┌──────────┐  disburse  ┌───────────┐  repay in full  ┌────────┐
  │ pending │ ─────────▶ │ approved │ ─────────▶ │ disbursed │ ──────────────▶ │ repaid │
  └─────────┘            └──────────┘            └───────────┘                 └────────┘
       │                                           ▲      │
       │ reject                          catch up  │      │ falls behind schedule
       ▼                                           │      ▼
  ┌──────────┐                                   ┌────────────┐
  │ rejected │                                   │ in_arrears │
  └──────────┘                                   └────────────┘

MONEY:
  Disbursement and every repayment are ledger transactions. The loan record
  only tracks status; what has been repaid is always read back from the ledger.

SEE ALSO:
  - service.go: the lifecycle operations
  - amortization: schedule computation
  - ledger: loan_disbursement and loan_repayment transactions
*/
package loans

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/vsla-engine/amortization"
	"github.com/warp/vsla-engine/ledger"
)

type LoanID string

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusDisbursed Status = "disbursed"
	StatusInArrears Status = "in_arrears"
	StatusRepaid    Status = "repaid"
)

// IsActive reports whether money is out with the borrower.
func (s Status) IsActive() bool {
	return s == StatusDisbursed || s == StatusInArrears
}

// Loan is a member's loan from their group.
type Loan struct {
	ID       LoanID
	GroupID  string
	MemberID string
	Currency string

	Principal         decimal.Decimal
	AnnualRatePercent decimal.Decimal
	TermMonths        int
	Purpose           string

	// Computed at submission
	MonthlyPayment decimal.Decimal
	TotalInterest  decimal.Decimal
	AmountDue      decimal.Decimal

	Status Status

	RequestedBy     string
	DecidedBy       string
	DecidedAt       *time.Time
	RejectionReason string
	DisbursedAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terms returns the inputs to the amortization engine.
func (l Loan) Terms() amortization.LoanTerms {
	return amortization.LoanTerms{
		Principal:         l.Principal,
		AnnualRatePercent: l.AnnualRatePercent,
		TermMonths:        l.TermMonths,
	}
}

// Filter narrows ListLoans. Empty fields match everything.
type Filter struct {
	GroupID  string
	MemberID string
	Statuses []Status
}

// Store persists loan records. GetLoan returns nil, nil when absent.
type Store interface {
	CreateLoan(ctx context.Context, l Loan) error
	GetLoan(ctx context.Context, id LoanID) (*Loan, error)
	UpdateLoan(ctx context.Context, l Loan) error
	ListLoans(ctx context.Context, f Filter) ([]Loan, error)

	// AppendForLoan appends tx and updates the loan returned by apply as a
	// single unit. apply sees the borrower's ledger history as of the write;
	// an error from apply, the update or the append leaves both untouched.
	AppendForLoan(ctx context.Context, tx ledger.Transaction, apply func(history []ledger.Transaction) (Loan, error)) error
}

// Position is a loan's standing at a point in time.
type Position struct {
	Loan          Loan
	Repaid        decimal.Decimal
	Outstanding   decimal.Decimal
	MonthsElapsed int
	ScheduledDue  decimal.Decimal
	Arrears       decimal.Decimal
}
