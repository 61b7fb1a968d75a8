/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

INTERFACES IMPLEMENTED:
  ledger.Store:   Transaction persistence (transactions.go)
  registry.Store: Groups, members, staff users, meetings (registry.go)
  loans.Store:    Loan records (loans.go)

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on transactions table
  - No DELETE statements on transactions table
  - Corrections via reversal transactions only

KEY TABLES:
  transactions: Immutable ledger of every money movement
  loans:        Loan records and their status
  groups:       VSLA groups, with field-staff scoping columns
  members:      Group members and their group role
  staff_users:  Programme staff (admin, field monitor, field attendant)
  meetings:     Scheduled group meetings

FORMATS:
  Money and rates are stored as decimal TEXT, never REAL. Times are UTC in a
  fixed-width layout so that string order is time order.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. SQLite is opened in WAL mode with
  immediate transactions. Checked appends (withdrawals, loan disbursement and
  repayment) read the member's history and write in a single transaction.

USAGE:
  store, err := sqlite.New("./data/vsla.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.New(store)

SEE ALSO:
  - ledger/store.go, registry/types.go, loans/types.go: interface definitions
  - ledger/store/memory.go: in-memory ledger store for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// timeLayout sorts lexicographically for UTC times.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	// Immediate transactions take the write lock at BEGIN, so a guarded
	// append never reads a history that another connection is about to change.
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		member_id TEXT,
		loan_id TEXT,
		tx_type TEXT NOT NULL,
		reversed_type TEXT,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		recorded_by TEXT,
		created_at TEXT NOT NULL
	);

	-- Group balance and reports (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_group_date
		ON transactions(group_id, effective_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_member
		ON transactions(group_id, member_id, effective_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_loan
		ON transactions(loan_id) WHERE loan_id IS NOT NULL;

	-- A transaction can be reversed once
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_reversal
		ON transactions(reference_id) WHERE tx_type = 'reversal';

	-- Groups
	CREATE TABLE IF NOT EXISTS groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		location TEXT,
		currency TEXT NOT NULL,
		loan_rate_percent TEXT,
		share_value TEXT NOT NULL DEFAULT '0',
		meeting_day TEXT,
		field_officer_id TEXT,
		enrolled_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_groups_field_officer
		ON groups(field_officer_id);
	CREATE INDEX IF NOT EXISTS idx_groups_enrolled_by
		ON groups(enrolled_by);

	-- Members
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES groups(id),
		name TEXT NOT NULL,
		phone TEXT,
		role TEXT NOT NULL,
		joined_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_members_group
		ON members(group_id);

	-- Staff users
	CREATE TABLE IF NOT EXISTS staff_users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- Loans
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES groups(id),
		member_id TEXT NOT NULL REFERENCES members(id),
		currency TEXT NOT NULL,
		principal TEXT NOT NULL,
		annual_rate_percent TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		purpose TEXT,
		monthly_payment TEXT NOT NULL,
		total_interest TEXT NOT NULL,
		amount_due TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		requested_by TEXT,
		decided_by TEXT,
		decided_at TEXT,
		rejection_reason TEXT,
		disbursed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loans_group
		ON loans(group_id);
	CREATE INDEX IF NOT EXISTS idx_loans_member
		ON loans(member_id);
	CREATE INDEX IF NOT EXISTS idx_loans_status
		ON loans(status);

	-- Meetings
	CREATE TABLE IF NOT EXISTS meetings (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES groups(id),
		scheduled_at TEXT NOT NULL,
		location TEXT,
		agenda TEXT,
		scheduled_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_meetings_group_date
		ON meetings(group_id, scheduled_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"transactions", "loans", "meetings", "members", "staff_users", "groups"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt decimal %q: %w", s, err)
	}
	return d, nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}
