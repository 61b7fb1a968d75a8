package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/vsla-engine/ledger"
	"github.com/warp/vsla-engine/loans"
)

// =============================================================================
// LOAN STORE (loans.Store interface)
// =============================================================================

const loanColumns = `id, group_id, member_id, currency, principal, annual_rate_percent, term_months,
	purpose, monthly_payment, total_interest, amount_due, status, requested_by, decided_by,
	decided_at, rejection_reason, disbursed_at, created_at, updated_at`

func (s *Store) CreateLoan(ctx context.Context, l loans.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.GroupID, l.MemberID, l.Currency,
		l.Principal.String(), l.AnnualRatePercent.String(), l.TermMonths,
		nullString(l.Purpose), l.MonthlyPayment.String(), l.TotalInterest.String(), l.AmountDue.String(),
		l.Status, nullString(l.RequestedBy), nullString(l.DecidedBy), nullTime(l.DecidedAt),
		nullString(l.RejectionReason), nullTime(l.DisbursedAt),
		formatTime(orNow(l.CreatedAt)), formatTime(orNow(l.UpdatedAt)),
	)
	if err != nil {
		return fmt.Errorf("failed to insert loan: %w", err)
	}
	return nil
}

// UpdateLoan writes the mutable lifecycle columns. Terms never change.
func (s *Store) UpdateLoan(ctx context.Context, l loans.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return updateLoan(ctx, s.db, l)
}

// AppendForLoan runs apply, the loan update and the ledger insert in one
// database transaction.
func (s *Store) AppendForLoan(ctx context.Context, tx ledger.Transaction, apply func([]ledger.Transaction) (loans.Loan, error)) error {
	return s.appendGuarded(ctx, tx, func(sqlTx *sql.Tx, history []ledger.Transaction) error {
		l, err := apply(history)
		if err != nil {
			return err
		}
		return updateLoan(ctx, sqlTx, l)
	})
}

func updateLoan(ctx context.Context, db execer, l loans.Loan) error {
	res, err := db.ExecContext(ctx, `
		UPDATE loans SET
			status = ?, decided_by = ?, decided_at = ?, rejection_reason = ?,
			disbursed_at = ?, updated_at = ?
		WHERE id = ?`,
		l.Status, nullString(l.DecidedBy), nullTime(l.DecidedAt), nullString(l.RejectionReason),
		nullTime(l.DisbursedAt), formatTime(orNow(l.UpdatedAt)), l.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return loans.ErrLoanNotFound
	}
	return nil
}

func (s *Store) GetLoan(ctx context.Context, id loans.LoanID) (*loans.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, err := s.queryLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s *Store) ListLoans(ctx context.Context, f loans.Filter) ([]loans.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + loanColumns + ` FROM loans WHERE 1 = 1`
	var args []any
	if f.GroupID != "" {
		query += ` AND group_id = ?`
		args = append(args, f.GroupID)
	}
	if f.MemberID != "" {
		query += ` AND member_id = ?`
		args = append(args, f.MemberID)
	}
	if len(f.Statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(f.Statuses)-1) + `)`
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_at DESC`

	return s.queryLoans(ctx, query, args...)
}

func (s *Store) queryLoans(ctx context.Context, query string, args ...any) ([]loans.Loan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var list []loans.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, l)
	}
	return list, rows.Err()
}

func scanLoan(rows *sql.Rows) (loans.Loan, error) {
	var (
		l                                               loans.Loan
		principal, rate, monthly, interest, due, status string
		purpose, requestedBy, decidedBy, reason         sql.NullString
		decidedAt, disbursedAt                          sql.NullString
		createdAt, updatedAt                            string
	)
	err := rows.Scan(
		&l.ID, &l.GroupID, &l.MemberID, &l.Currency, &principal, &rate, &l.TermMonths,
		&purpose, &monthly, &interest, &due, &status, &requestedBy, &decidedBy,
		&decidedAt, &reason, &disbursedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return l, fmt.Errorf("failed to scan loan: %w", err)
	}

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&l.Principal, principal},
		{&l.AnnualRatePercent, rate},
		{&l.MonthlyPayment, monthly},
		{&l.TotalInterest, interest},
		{&l.AmountDue, due},
	} {
		if *f.dst, err = parseDecimal(f.src); err != nil {
			return l, err
		}
	}

	l.Status = loans.Status(status)
	l.Purpose = purpose.String
	l.RequestedBy = requestedBy.String
	l.DecidedBy = decidedBy.String
	l.DecidedAt = parseNullTime(decidedAt)
	l.RejectionReason = reason.String
	l.DisbursedAt = parseNullTime(disbursedAt)
	l.CreatedAt = parseTime(createdAt)
	l.UpdatedAt = parseTime(updatedAt)
	return l, nil
}

var _ loans.Store = (*Store)(nil)
