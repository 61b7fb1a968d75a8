/*
Package ledger records every shilling that moves through a VSLA group.

PURPOSE:
  Savings (share purchases), social fund contributions, fines, loan
  disbursements and loan repayments are all transactions in one append-only
  log. Member and group balances are derived by replaying that log; there is
  no stored balance that can drift.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: a decimal amount in a currency
  - Transaction: an immutable ledger entry
  - TransactionType: what the movement means for member and group balances

DESIGN PRINCIPLES:
  1. Immutability: transactions are never modified, only reversed
  2. Precision: decimal.Decimal, never float64, for money
  3. Idempotency: every client-submitted entry carries a key, so a queued
     offline batch can be replayed safely

SEE ALSO:
  - ledger.go: Append, Reverse, Replay and balance calculation
  - store.go: persistence interface
  - store/sqlite/sqlite.go: production store
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Money is an amount in a single currency.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// MustParseMoney parses s or panics. Intended for fixtures and tests.
func MustParseMoney(s, currency string) Money {
	return Money{Amount: decimal.RequireFromString(s), Currency: currency}
}

func (m Money) Add(o Money) Money { return Money{Amount: m.Amount.Add(o.Amount), Currency: m.Currency} }
func (m Money) Sub(o Money) Money { return Money{Amount: m.Amount.Sub(o.Amount), Currency: m.Currency} }
func (m Money) Neg() Money { return Money{Amount: m.Amount.Neg(), Currency: m.Currency} }
func (m Money) IsZero() bool { return m.Amount.IsZero() }
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }
func (m Money) GreaterThan(o Money) bool { return m.Amount.GreaterThan(o.Amount) }
func (m Money) String() string { return m.Amount.String() + " " + m.Currency }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TransactionID string

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionType string

const (
	TxSavings          TransactionType = "savings"           // share purchase at a meeting
	TxWithdrawal       TransactionType = "withdrawal"        // share-out or early withdrawal
	TxSocialFund       TransactionType = "social_fund"       // welfare contribution
	TxFine             TransactionType = "fine"              // penalty paid to the group
	TxLoanDisbursement TransactionType = "loan_disbursement" // group cash paid out to a borrower
	TxLoanRepayment    TransactionType = "loan_repayment"    // borrower pays back
	TxReversal         TransactionType = "reversal"          // undo a previous transaction
)

// IsValid reports whether t is a defined type.
func (t TransactionType) IsValid() bool {
	switch t {
	case TxSavings, TxWithdrawal, TxSocialFund, TxFine,
		TxLoanDisbursement, TxLoanRepayment, TxReversal:
		return true
	}
	return false
}

// RequiresLoan reports whether a transaction of this type must reference a loan.
func (t TransactionType) RequiresLoan() bool {
	return t == TxLoanDisbursement || t == TxLoanRepayment
}

// Transaction is one immutable movement of money.
// Amount is always positive; Type decides its direction. Reversals carry the
// reversed type in ReversedType and the original ID in ReferenceID.
type Transaction struct {
	ID             TransactionID
	GroupID        string
	MemberID       string
	LoanID         string
	Type           TransactionType
	ReversedType   TransactionType
	Amount         Money
	EffectiveAt    time.Time
	ReferenceID    string
	Reason         string
	IdempotencyKey string

	// Audit
	RecordedBy string
	CreatedAt  time.Time
}

// =============================================================================
// BALANCES
// =============================================================================

// MemberBalance is a member's position in their group, derived from the ledger.
type MemberBalance struct {
	GroupID        string
	MemberID       string
	Savings        Money
	SocialFund     Money
	Fines          Money
	LoansDisbursed Money
	LoansRepaid    Money
}

// LoanPrincipalOutstanding is disbursed minus repaid, floored at zero.
func (b MemberBalance) LoanPrincipalOutstanding() Money {
	out := b.LoansDisbursed.Sub(b.LoansRepaid)
	if out.IsNegative() {
		return Zero(out.Currency)
	}
	return out
}

// GroupBalance is the group's cash position.
type GroupBalance struct {
	GroupID        string
	Savings        Money
	SocialFund     Money
	Fines          Money
	LoansDisbursed Money
	LoansRepaid    Money
	Withdrawals    Money
}

// CashOnHand is what the group box should hold.
func (b GroupBalance) CashOnHand() Money {
	return b.Savings.Add(b.SocialFund).Add(b.Fines).Add(b.LoansRepaid).
		Sub(b.LoansDisbursed).Sub(b.Withdrawals)
}
