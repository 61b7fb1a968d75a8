package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/warp/vsla-engine/ledger"
)

// =============================================================================
// TRANSACTION STORE (ledger.Store interface)
// =============================================================================

const transactionColumns = `id, group_id, member_id, loan_id, tx_type, reversed_type, amount, currency,
	effective_at, reference_id, reason, idempotency_key, recorded_by, created_at`

// Append adds a transaction to the ledger.
func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendTx(ctx, s.db, tx)
}

func (s *Store) appendTx(ctx context.Context, db execer, tx ledger.Transaction) error {
	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := db.ExecContext(ctx, query,
		tx.ID,
		tx.GroupID,
		nullString(tx.MemberID),
		nullString(tx.LoanID),
		tx.Type,
		nullString(string(tx.ReversedType)),
		tx.Amount.Amount.String(),
		tx.Amount.Currency,
		formatTime(tx.EffectiveAt),
		nullString(tx.ReferenceID),
		nullString(tx.Reason),
		nullString(tx.IdempotencyKey),
		nullString(tx.RecordedBy),
		formatTime(createdAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if tx.Type == ledger.TxReversal && strings.Contains(err.Error(), "reference_id") {
				return ledger.ErrAlreadyReversed
			}
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// AppendBatch adds multiple transactions atomically.
func (s *Store) AppendBatch(ctx context.Context, txs []ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey != "" {
			if seen[tx.IdempotencyKey] {
				return ledger.ErrDuplicateIdempotencyKey
			}
			seen[tx.IdempotencyKey] = true
		}
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, tx := range txs {
		if err := s.appendTx(ctx, sqlTx, tx); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

// AppendChecked reads the member's history, runs check and inserts tx inside
// one immediate transaction. check errors are returned unchanged.
func (s *Store) AppendChecked(ctx context.Context, tx ledger.Transaction, check func([]ledger.Transaction) error) error {
	return s.appendGuarded(ctx, tx, func(_ *sql.Tx, history []ledger.Transaction) error {
		return check(history)
	})
}

// appendGuarded is the shared body of AppendChecked and AppendForLoan. guard
// may write through sqlTx; any error rolls back both its writes and tx.
func (s *Store) appendGuarded(ctx context.Context, tx ledger.Transaction, guard func(sqlTx *sql.Tx, history []ledger.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	history, err := queryTransactions(ctx, sqlTx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE group_id = ? AND member_id = ?
		ORDER BY effective_at ASC, rowid ASC`,
		tx.GroupID, tx.MemberID)
	if err != nil {
		return err
	}
	if err := guard(sqlTx, history); err != nil {
		return err
	}
	if err := s.appendTx(ctx, sqlTx, tx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// GetTransaction returns a specific transaction by ID.
func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs, err := queryTransactions(ctx, s.db,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

// IsReversed checks if a transaction has already been reversed.
func (s *Store) IsReversed(ctx context.Context, id ledger.TransactionID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE reference_id = ? AND tx_type = 'reversal'`,
		string(id),
	).Scan(&count)
	return count > 0, err
}

func (s *Store) LoadByMember(ctx context.Context, groupID, memberID string) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryTransactions(ctx, s.db, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE group_id = ? AND member_id = ?
		ORDER BY effective_at ASC, rowid ASC`,
		groupID, memberID)
}

func (s *Store) LoadByGroup(ctx context.Context, groupID string, from, to time.Time) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE group_id = ?`
	args := []any{groupID}
	if !from.IsZero() {
		query += ` AND effective_at >= ?`
		args = append(args, formatTime(from))
	}
	if !to.IsZero() {
		query += ` AND effective_at <= ?`
		args = append(args, formatTime(to))
	}
	query += ` ORDER BY effective_at ASC, rowid ASC`

	return queryTransactions(ctx, s.db, query, args...)
}

func (s *Store) LoadByLoan(ctx context.Context, loanID string) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryTransactions(ctx, s.db, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE loan_id = ?
		ORDER BY effective_at ASC, rowid ASC`,
		loanID)
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

// RecentTransactions returns the newest transactions first (for admin view).
func (s *Store) RecentTransactions(ctx context.Context, limit int) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryTransactions(ctx, s.db, `
		SELECT `+transactionColumns+`
		FROM transactions
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`,
		limit)
}

func queryTransactions(ctx context.Context, db querier, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx             ledger.Transaction
		memberID       sql.NullString
		loanID         sql.NullString
		reversedType   sql.NullString
		amount         string
		currency       string
		effectiveAt    string
		referenceID    sql.NullString
		reason         sql.NullString
		idempotencyKey sql.NullString
		recordedBy     sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&tx.ID, &tx.GroupID, &memberID, &loanID, &tx.Type, &reversedType,
		&amount, &currency, &effectiveAt, &referenceID, &reason,
		&idempotencyKey, &recordedBy, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	value, err := parseDecimal(amount)
	if err != nil {
		return tx, err
	}
	tx.Amount = ledger.NewMoney(value, currency)
	tx.MemberID = memberID.String
	tx.LoanID = loanID.String
	tx.ReversedType = ledger.TransactionType(reversedType.String)
	tx.EffectiveAt = parseTime(effectiveAt)
	tx.ReferenceID = referenceID.String
	tx.Reason = reason.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.RecordedBy = recordedBy.String
	tx.CreatedAt = parseTime(createdAt)
	return tx, nil
}

var _ ledger.Store = (*Store)(nil)
