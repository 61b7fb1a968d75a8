package ledger

import (
	"context"
	"time"
)

// Store persists transactions.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete.
// Corrections are made via reversal transactions.
type Store interface {
	// Append persists a transaction. Returns ErrDuplicateIdempotencyKey if
	// the key already exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// AppendChecked loads tx's member history, runs check over it and
	// appends tx only when check returns nil. No other write can land
	// between the read and the insert.
	AppendChecked(ctx context.Context, tx Transaction, check func(history []Transaction) error) error

	// GetTransaction returns nil, nil when id does not exist.
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// IsReversed reports whether a reversal references id.
	IsReversed(ctx context.Context, id TransactionID) (bool, error)

	// LoadByMember returns a member's transactions ordered by EffectiveAt.
	LoadByMember(ctx context.Context, groupID, memberID string) ([]Transaction, error)

	// LoadByGroup returns transactions in [from, to], ordered by EffectiveAt.
	// Zero times leave that side of the range open.
	LoadByGroup(ctx context.Context, groupID string, from, to time.Time) ([]Transaction, error)

	// LoadByLoan returns a loan's transactions ordered by EffectiveAt.
	LoadByLoan(ctx context.Context, loanID string) ([]Transaction, error)

	// Exists checks if an idempotency key was already recorded.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}
