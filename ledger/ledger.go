/*
ledger.go - Append-only VSLA transaction log

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IMMUTABLE: Once written, transactions cannot be modified
  3. IDEMPOTENT: Same idempotency key = same transaction (no duplicates)

CORRECTIONS:
  A mistaken entry is reversed, not edited. The reversal carries the same
  amount with Type=reversal and ReversedType set to the original type, so
  replaying the log cancels the original out.

OFFLINE QUEUE:
  Field staff record savings at meetings without connectivity. The client
  queues entries (each with an idempotency key) and posts the batch when it
  reconnects. Replay appends each entry and treats a duplicate key as
  "already applied". There is no conflict resolution beyond that.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ledger is the source of truth for all VSLA money movements.
type Ledger struct {
	Store Store
	Now   func() time.Time
}

func New(store Store) *Ledger {
	return &Ledger{Store: store, Now: time.Now}
}

// Validate checks a transaction before it reaches the store.
func Validate(tx Transaction) error {
	switch {
	case tx.GroupID == "":
		return &ValidationError{Field: "group_id", Reason: "is required"}
	case !tx.Type.IsValid():
		return &ValidationError{Field: "type", Reason: "is not a known transaction type"}
	case tx.Type != TxReversal && tx.MemberID == "":
		return &ValidationError{Field: "member_id", Reason: "is required"}
	case tx.Type.RequiresLoan() && tx.LoanID == "":
		return &ValidationError{Field: "loan_id", Reason: "is required for " + string(tx.Type)}
	case !tx.Amount.IsPositive():
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	case tx.Amount.Currency == "":
		return &ValidationError{Field: "currency", Reason: "is required"}
	case tx.EffectiveAt.IsZero():
		return &ValidationError{Field: "effective_at", Reason: "is required"}
	}
	return nil
}

// Append validates and records a single transaction. Missing IDs are assigned.
func (l *Ledger) Append(ctx context.Context, tx Transaction) (Transaction, error) {
	tx = l.prepare(tx)
	if err := Validate(tx); err != nil {
		return Transaction{}, err
	}
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return Transaction{}, err
		}
		if exists {
			return Transaction{}, ErrDuplicateIdempotencyKey
		}
	}
	if err := l.Store.Append(ctx, tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Prepare assigns a missing ID and CreatedAt and validates the result.
// Callers that write through a store method other than Append use it to get
// the same checks.
func (l *Ledger) Prepare(tx Transaction) (Transaction, error) {
	tx = l.prepare(tx)
	if err := Validate(tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Withdraw records a withdrawal when the member's savings cover it. The
// balance is read and the entry written in one store transaction.
func (l *Ledger) Withdraw(ctx context.Context, tx Transaction) (Transaction, error) {
	if tx.Type != TxWithdrawal {
		return Transaction{}, &ValidationError{Field: "type", Reason: "must be withdrawal"}
	}
	tx, err := l.Prepare(tx)
	if err != nil {
		return Transaction{}, err
	}
	err = l.Store.AppendChecked(ctx, tx, func(history []Transaction) error {
		bal := ComputeMemberBalance(tx.GroupID, tx.MemberID, tx.Amount.Currency, history)
		if tx.Amount.Amount.GreaterThan(bal.Savings.Amount) {
			return fmt.Errorf("%w: savings are %s", ErrInsufficientSavings, bal.Savings.Amount)
		}
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// AppendBatch records all transactions or none.
func (l *Ledger) AppendBatch(ctx context.Context, txs []Transaction) ([]Transaction, error) {
	prepared := make([]Transaction, len(txs))
	for i, tx := range txs {
		tx = l.prepare(tx)
		if err := Validate(tx); err != nil {
			return nil, err
		}
		if tx.IdempotencyKey != "" {
			exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, ErrDuplicateIdempotencyKey
			}
		}
		prepared[i] = tx
	}
	if err := l.Store.AppendBatch(ctx, prepared); err != nil {
		return nil, err
	}
	return prepared, nil
}

// Reverse appends a reversal for id. A transaction can be reversed once and
// reversals themselves cannot be reversed.
func (l *Ledger) Reverse(ctx context.Context, id TransactionID, actor, reason string) (Transaction, error) {
	orig, err := l.Store.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if orig == nil {
		return Transaction{}, ErrTransactionNotFound
	}
	if orig.Type == TxReversal {
		return Transaction{}, &ValidationError{Field: "id", Reason: "is itself a reversal"}
	}
	reversed, err := l.Store.IsReversed(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if reversed {
		return Transaction{}, ErrAlreadyReversed
	}

	return l.Append(ctx, Transaction{
		GroupID:        orig.GroupID,
		MemberID:       orig.MemberID,
		LoanID:         orig.LoanID,
		Type:           TxReversal,
		ReversedType:   orig.Type,
		Amount:         orig.Amount,
		EffectiveAt:    l.Now().UTC(),
		ReferenceID:    string(orig.ID),
		Reason:         reason,
		IdempotencyKey: "reversal-" + string(orig.ID),
		RecordedBy:     actor,
	})
}

// ReplayResult summarises a replayed offline batch.
type ReplayResult struct {
	Applied    []Transaction
	Duplicates []string // idempotency keys already present
	Failed     []ReplayFailure
}

// ReplayFailure is an entry the ledger rejected.
type ReplayFailure struct {
	IdempotencyKey string
	Err            error
}

// Replay appends queued entries one by one. Entries already recorded are
// reported as duplicates; invalid entries are reported and skipped.
// Only store failures abort the replay.
func (l *Ledger) Replay(ctx context.Context, txs []Transaction) (ReplayResult, error) {
	var res ReplayResult
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			res.Failed = append(res.Failed, ReplayFailure{Err: &ValidationError{Field: "idempotency_key", Reason: "is required for replay"}})
			continue
		}
		applied, err := l.Append(ctx, tx)
		switch {
		case err == nil:
			res.Applied = append(res.Applied, applied)
		case errors.Is(err, ErrDuplicateIdempotencyKey):
			res.Duplicates = append(res.Duplicates, tx.IdempotencyKey)
		case IsClientError(err):
			res.Failed = append(res.Failed, ReplayFailure{IdempotencyKey: tx.IdempotencyKey, Err: err})
		default:
			return res, err
		}
	}
	return res, nil
}

func (l *Ledger) prepare(tx Transaction) Transaction {
	if tx.ID == "" {
		tx.ID = TransactionID(uuid.NewString())
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = l.Now().UTC()
	}
	return tx
}

// =============================================================================
// BALANCES - derived by replay
// =============================================================================

// MemberBalance replays a member's transactions.
func (l *Ledger) MemberBalance(ctx context.Context, groupID, memberID, currency string) (MemberBalance, error) {
	txs, err := l.Store.LoadByMember(ctx, groupID, memberID)
	if err != nil {
		return MemberBalance{}, err
	}
	return ComputeMemberBalance(groupID, memberID, currency, txs), nil
}

// GroupBalance replays a group's transactions up to asOf (zero = everything).
func (l *Ledger) GroupBalance(ctx context.Context, groupID, currency string, asOf time.Time) (GroupBalance, error) {
	txs, err := l.Store.LoadByGroup(ctx, groupID, time.Time{}, asOf)
	if err != nil {
		return GroupBalance{}, err
	}
	return ComputeGroupBalance(groupID, currency, txs), nil
}

// LoanRepaid sums repayments against a loan net of reversals.
func (l *Ledger) LoanRepaid(ctx context.Context, loanID, currency string) (Money, error) {
	txs, err := l.Store.LoadByLoan(ctx, loanID)
	if err != nil {
		return Money{}, err
	}
	return SumLoanRepaid(loanID, currency, txs), nil
}

// SumLoanRepaid is the pure replay behind LoanRepaid. Entries for other
// loans are ignored.
func SumLoanRepaid(loanID, currency string, txs []Transaction) Money {
	repaid := Zero(currency)
	for _, tx := range txs {
		if tx.LoanID != loanID {
			continue
		}
		typ, sign := effect(tx)
		if typ == TxLoanRepayment {
			repaid = addSigned(repaid, tx.Amount, sign)
		}
	}
	return repaid
}

// ComputeMemberBalance is the pure replay behind MemberBalance.
func ComputeMemberBalance(groupID, memberID, currency string, txs []Transaction) MemberBalance {
	b := MemberBalance{
		GroupID:        groupID,
		MemberID:       memberID,
		Savings:        Zero(currency),
		SocialFund:     Zero(currency),
		Fines:          Zero(currency),
		LoansDisbursed: Zero(currency),
		LoansRepaid:    Zero(currency),
	}
	for _, tx := range txs {
		typ, sign := effect(tx)
		switch typ {
		case TxSavings:
			b.Savings = addSigned(b.Savings, tx.Amount, sign)
		case TxWithdrawal:
			b.Savings = addSigned(b.Savings, tx.Amount, -sign)
		case TxSocialFund:
			b.SocialFund = addSigned(b.SocialFund, tx.Amount, sign)
		case TxFine:
			b.Fines = addSigned(b.Fines, tx.Amount, sign)
		case TxLoanDisbursement:
			b.LoansDisbursed = addSigned(b.LoansDisbursed, tx.Amount, sign)
		case TxLoanRepayment:
			b.LoansRepaid = addSigned(b.LoansRepaid, tx.Amount, sign)
		}
	}
	return b
}

// ComputeGroupBalance is the pure replay behind GroupBalance.
func ComputeGroupBalance(groupID, currency string, txs []Transaction) GroupBalance {
	b := GroupBalance{
		GroupID:        groupID,
		Savings:        Zero(currency),
		SocialFund:     Zero(currency),
		Fines:          Zero(currency),
		LoansDisbursed: Zero(currency),
		LoansRepaid:    Zero(currency),
		Withdrawals:    Zero(currency),
	}
	for _, tx := range txs {
		typ, sign := effect(tx)
		switch typ {
		case TxSavings:
			b.Savings = addSigned(b.Savings, tx.Amount, sign)
		case TxWithdrawal:
			b.Withdrawals = addSigned(b.Withdrawals, tx.Amount, sign)
		case TxSocialFund:
			b.SocialFund = addSigned(b.SocialFund, tx.Amount, sign)
		case TxFine:
			b.Fines = addSigned(b.Fines, tx.Amount, sign)
		case TxLoanDisbursement:
			b.LoansDisbursed = addSigned(b.LoansDisbursed, tx.Amount, sign)
		case TxLoanRepayment:
			b.LoansRepaid = addSigned(b.LoansRepaid, tx.Amount, sign)
		}
	}
	return b
}

// effect returns the type a transaction counts toward and its sign.
// A reversal counts negatively toward the type it reversed.
func effect(tx Transaction) (TransactionType, int) {
	if tx.Type == TxReversal {
		return tx.ReversedType, -1
	}
	return tx.Type, 1
}

func addSigned(total, amount Money, sign int) Money {
	if sign < 0 {
		return total.Sub(amount)
	}
	return total.Add(amount)
}
