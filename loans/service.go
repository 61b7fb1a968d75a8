package loans

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/vsla-engine/amortization"
	"github.com/warp/vsla-engine/ledger"
	"github.com/warp/vsla-engine/registry"
)

// DefaultFallbackRatePercent applies when a group has not set its own rate.
var DefaultFallbackRatePercent = decimal.NewFromInt(10)

// Policy holds programme-wide lending settings.
type Policy struct {
	FallbackRatePercent decimal.Decimal
	// AutoApprove moves new loans straight to approved. Groups that vote on
	// loans at meetings turn this off and use Approve/Reject.
	AutoApprove bool
}

func DefaultPolicy() Policy {
	return Policy{FallbackRatePercent: DefaultFallbackRatePercent, AutoApprove: true}
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Loans    Store
	Registry registry.Store
	Ledger   *ledger.Ledger
	Policy   Policy
	Log      zerolog.Logger
	Now      func() time.Time
}

func NewService(loans Store, reg registry.Store, l *ledger.Ledger, policy Policy, log zerolog.Logger) *Service {
	return &Service{
		Loans:    loans,
		Registry: reg,
		Ledger:   l,
		Policy:   policy,
		Log:      log,
		Now:      time.Now,
	}
}

// SubmitRequest is a member's loan application.
type SubmitRequest struct {
	GroupID     string
	MemberID    string
	Principal   decimal.Decimal
	TermMonths  int
	Purpose     string
	RequestedBy string
}

// Submit validates the terms against the group's rate and records the loan.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Loan, error) {
	group, err := s.Registry.GetGroup(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, registry.ErrGroupNotFound
	}
	member, err := s.Registry.GetMember(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, registry.ErrMemberNotFound
	}
	if member.GroupID != group.ID {
		return nil, ErrMemberNotInGroup
	}

	rate := s.Policy.FallbackRatePercent
	if group.LoanRatePercent.Valid {
		rate = group.LoanRatePercent.Decimal
	}

	terms := amortization.LoanTerms{
		Principal:         req.Principal,
		AnnualRatePercent: rate,
		TermMonths:        req.TermMonths,
	}
	sched, err := amortization.ForCurrency(group.Currency).Compute(terms)
	if err != nil {
		return nil, err
	}

	now := s.Now().UTC()
	loan := Loan{
		ID:                LoanID(uuid.NewString()),
		GroupID:           group.ID,
		MemberID:          member.ID,
		Currency:          group.Currency,
		Principal:         req.Principal,
		AnnualRatePercent: rate,
		TermMonths:        req.TermMonths,
		Purpose:           req.Purpose,
		MonthlyPayment:    sched.MonthlyPayment,
		TotalInterest:     sched.TotalInterest,
		AmountDue:         sched.AmountDue(),
		Status:            StatusPending,
		RequestedBy:       req.RequestedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if s.Policy.AutoApprove {
		loan.Status = StatusApproved
		loan.DecidedBy = "auto"
		loan.DecidedAt = &now
	}

	if err := s.Loans.CreateLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to save loan: %w", err)
	}
	s.Log.Info().
		Str("loan_id", string(loan.ID)).
		Str("group_id", loan.GroupID).
		Str("status", string(loan.Status)).
		Msg("loan submitted")
	return &loan, nil
}

// Get returns a loan or ErrLoanNotFound.
func (s *Service) Get(ctx context.Context, id LoanID) (*Loan, error) {
	loan, err := s.Loans.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	return loan, nil
}

// Approve moves a pending loan to approved.
func (s *Service) Approve(ctx context.Context, id LoanID, actor string) (*Loan, error) {
	return s.decide(ctx, id, actor, StatusApproved, "")
}

// Reject closes a pending loan.
func (s *Service) Reject(ctx context.Context, id LoanID, actor, reason string) (*Loan, error) {
	return s.decide(ctx, id, actor, StatusRejected, reason)
}

func (s *Service) decide(ctx context.Context, id LoanID, actor string, to Status, reason string) (*Loan, error) {
	loan, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if loan.Status != StatusPending {
		op := "approve"
		if to == StatusRejected {
			op = "reject"
		}
		return nil, &TransitionError{LoanID: id, From: loan.Status, Op: op}
	}

	now := s.Now().UTC()
	loan.Status = to
	loan.DecidedBy = actor
	loan.DecidedAt = &now
	loan.RejectionReason = reason
	loan.UpdatedAt = now
	if err := s.Loans.UpdateLoan(ctx, *loan); err != nil {
		return nil, err
	}
	return loan, nil
}

// Disburse pays an approved loan out of the group's cash. The disbursement
// entry and the status change are written together.
func (s *Service) Disburse(ctx context.Context, id LoanID, actor string) (*Loan, error) {
	loan, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if loan.Status != StatusApproved {
		return nil, &TransitionError{LoanID: id, From: loan.Status, Op: "disburse"}
	}

	now := s.Now().UTC()
	tx, err := s.Ledger.Prepare(ledger.Transaction{
		GroupID:        loan.GroupID,
		MemberID:       loan.MemberID,
		LoanID:         string(loan.ID),
		Type:           ledger.TxLoanDisbursement,
		Amount:         ledger.NewMoney(loan.Principal, loan.Currency),
		EffectiveAt:    now,
		IdempotencyKey: "disburse-" + string(loan.ID),
		RecordedBy:     actor,
	})
	if err != nil {
		return nil, err
	}

	updated := *loan
	updated.Status = StatusDisbursed
	updated.DisbursedAt = &now
	updated.UpdatedAt = now
	err = s.Loans.AppendForLoan(ctx, tx, func(history []ledger.Transaction) (Loan, error) {
		for _, prev := range history {
			if prev.LoanID == tx.LoanID && prev.Type == ledger.TxLoanDisbursement {
				return Loan{}, &TransitionError{LoanID: id, From: StatusDisbursed, Op: "disburse"}
			}
		}
		return updated, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record disbursement: %w", err)
	}
	return &updated, nil
}

// RepaymentRequest records money a borrower paid back.
type RepaymentRequest struct {
	LoanID         LoanID
	Amount         decimal.Decimal
	EffectiveAt    time.Time
	IdempotencyKey string
	RecordedBy     string
}

// RecordRepayment appends a repayment and marks the loan repaid once the
// schedule is covered.
func (s *Service) RecordRepayment(ctx context.Context, req RepaymentRequest) (*Loan, ledger.Transaction, error) {
	if !req.Amount.IsPositive() {
		return nil, ledger.Transaction{}, ErrInvalidAmount
	}
	// A replayed repayment must report as a duplicate even after the loan
	// it settled has moved to repaid.
	if req.IdempotencyKey != "" {
		exists, err := s.Ledger.Store.Exists(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, ledger.Transaction{}, err
		}
		if exists {
			return nil, ledger.Transaction{}, ledger.ErrDuplicateIdempotencyKey
		}
	}
	loan, err := s.Get(ctx, req.LoanID)
	if err != nil {
		return nil, ledger.Transaction{}, err
	}
	if !loan.Status.IsActive() {
		return nil, ledger.Transaction{}, &TransitionError{LoanID: loan.ID, From: loan.Status, Op: "repay"}
	}

	at := req.EffectiveAt
	if at.IsZero() {
		at = s.Now().UTC()
	}
	tx, err := s.Ledger.Prepare(ledger.Transaction{
		GroupID:        loan.GroupID,
		MemberID:       loan.MemberID,
		LoanID:         string(loan.ID),
		Type:           ledger.TxLoanRepayment,
		Amount:         ledger.NewMoney(req.Amount, loan.Currency),
		EffectiveAt:    at,
		IdempotencyKey: req.IdempotencyKey,
		RecordedBy:     req.RecordedBy,
	})
	if err != nil {
		return nil, ledger.Transaction{}, err
	}

	// The outstanding balance is read inside the write so concurrent
	// repayments cannot both pass the overpayment check.
	var updated Loan
	err = s.Loans.AppendForLoan(ctx, tx, func(history []ledger.Transaction) (Loan, error) {
		repaid := ledger.SumLoanRepaid(string(loan.ID), loan.Currency, history)
		outstanding := loan.AmountDue.Sub(repaid.Amount)
		if req.Amount.GreaterThan(outstanding) {
			return Loan{}, fmt.Errorf("%w: %s outstanding", ErrOverpayment, outstanding.StringFixed(amortization.MinorUnits(loan.Currency)))
		}
		updated = *loan
		if repaid.Amount.Add(req.Amount).GreaterThanOrEqual(loan.AmountDue) {
			updated.Status = StatusRepaid
			updated.UpdatedAt = s.Now().UTC()
		}
		return updated, nil
	})
	if err != nil {
		return nil, ledger.Transaction{}, err
	}

	if updated.Status == StatusRepaid {
		s.Log.Info().Str("loan_id", string(loan.ID)).Msg("loan repaid")
	}
	return &updated, tx, nil
}

// Schedule recomputes a loan's repayment schedule.
func (s *Service) Schedule(ctx context.Context, id LoanID) (amortization.Schedule, error) {
	loan, err := s.Get(ctx, id)
	if err != nil {
		return amortization.Schedule{}, err
	}
	return amortization.ForCurrency(loan.Currency).Compute(loan.Terms())
}

// Position reports how far a loan is ahead or behind its schedule at asOf.
func (s *Service) Position(ctx context.Context, id LoanID, asOf time.Time) (Position, error) {
	loan, err := s.Get(ctx, id)
	if err != nil {
		return Position{}, err
	}
	return s.position(ctx, *loan, asOf)
}

func (s *Service) position(ctx context.Context, loan Loan, asOf time.Time) (Position, error) {
	repaid, err := s.Ledger.LoanRepaid(ctx, string(loan.ID), loan.Currency)
	if err != nil {
		return Position{}, err
	}
	pos := Position{
		Loan:         loan,
		Repaid:       repaid.Amount,
		Outstanding:  decimal.Zero,
		ScheduledDue: decimal.Zero,
		Arrears:      decimal.Zero,
	}
	switch loan.Status {
	case StatusDisbursed, StatusInArrears, StatusRepaid:
		pos.Outstanding = decimal.Max(loan.AmountDue.Sub(repaid.Amount), decimal.Zero)
	}
	if loan.DisbursedAt == nil {
		return pos, nil
	}

	sched, err := amortization.ForCurrency(loan.Currency).Compute(loan.Terms())
	if err != nil {
		return Position{}, err
	}
	pos.MonthsElapsed = MonthsBetween(*loan.DisbursedAt, asOf)
	pos.ScheduledDue = sched.ScheduledThrough(pos.MonthsElapsed)
	pos.Arrears = decimal.Max(pos.ScheduledDue.Sub(repaid.Amount), decimal.Zero)
	return pos, nil
}

// SweepResult counts what SweepArrears changed.
type SweepResult struct {
	Checked   int `json:"checked"`
	InArrears int `json:"in_arrears"`
	Cleared   int `json:"cleared"`
}

// SweepArrears marks active loans whose repayments lag the schedule as
// in_arrears, and moves loans that have caught up back to disbursed.
func (s *Service) SweepArrears(ctx context.Context, now time.Time) (SweepResult, error) {
	active, err := s.Loans.ListLoans(ctx, Filter{Statuses: []Status{StatusDisbursed, StatusInArrears}})
	if err != nil {
		return SweepResult{}, err
	}

	var res SweepResult
	for _, loan := range active {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		pos, err := s.position(ctx, loan, now)
		if err != nil {
			return res, fmt.Errorf("loan %s: %w", loan.ID, err)
		}
		res.Checked++

		want := StatusDisbursed
		if pos.Arrears.IsPositive() {
			want = StatusInArrears
		}
		if want == loan.Status {
			continue
		}

		loan.Status = want
		loan.UpdatedAt = now.UTC()
		if err := s.Loans.UpdateLoan(ctx, loan); err != nil {
			return res, err
		}
		if want == StatusInArrears {
			res.InArrears++
			s.Log.Warn().
				Str("loan_id", string(loan.ID)).
				Str("arrears", pos.Arrears.String()).
				Msg("loan in arrears")
		} else {
			res.Cleared++
		}
	}
	return res, nil
}

// MonthsBetween counts whole months from start to end.
func MonthsBetween(start, end time.Time) int {
	if !end.After(start) {
		return 0
	}
	start, end = start.UTC(), end.UTC()
	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if end.Day() < start.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
