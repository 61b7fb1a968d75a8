/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger, loan and registry records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal strings ("1500.00"). Requests accept either a JSON
  string or a JSON number; responses always use strings.

DATES:
  Timestamps are RFC 3339. effective_at in requests also accepts a bare
  YYYY-MM-DD meeting date.

SEE ALSO:
  - handlers.go, transactions.go, loans.go: Use these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/vsla-engine/access"
	"github.com/warp/vsla-engine/amortization"
	"github.com/warp/vsla-engine/ledger"
	"github.com/warp/vsla-engine/loans"
	"github.com/warp/vsla-engine/registry"
)

// =============================================================================
// GROUPS AND MEMBERS
// =============================================================================

type GroupDTO struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Location        string              `json:"location,omitempty"`
	Currency        string              `json:"currency"`
	LoanRatePercent decimal.NullDecimal `json:"loan_rate_percent"`
	ShareValue      decimal.Decimal     `json:"share_value"`
	MeetingDay      string              `json:"meeting_day,omitempty"`
	FieldOfficerID  string              `json:"field_officer_id,omitempty"`
	EnrolledBy      string              `json:"enrolled_by,omitempty"`
	CreatedAt       string              `json:"created_at"`
}

type CreateGroupRequest struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Location        string              `json:"location"`
	Currency        string              `json:"currency"`
	LoanRatePercent decimal.NullDecimal `json:"loan_rate_percent"`
	ShareValue      decimal.Decimal     `json:"share_value"`
	MeetingDay      string              `json:"meeting_day"`
	FieldOfficerID  string              `json:"field_officer_id"`
}

type MemberDTO struct {
	ID       string      `json:"id"`
	GroupID  string      `json:"group_id"`
	Name     string      `json:"name"`
	Phone    string      `json:"phone,omitempty"`
	Role     access.Role `json:"role"`
	JoinedAt string      `json:"joined_at"`
}

type CreateMemberRequest struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Phone string      `json:"phone"`
	Role  access.Role `json:"role"`
}

type StaffUserDTO struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Role      access.Role `json:"role"`
	Active    bool        `json:"active"`
	CreatedAt string      `json:"created_at"`
}

type CreateStaffUserRequest struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Email string      `json:"email"`
	Role  access.Role `json:"role"`
}

type MeetingDTO struct {
	ID          string `json:"id"`
	GroupID     string `json:"group_id"`
	ScheduledAt string `json:"scheduled_at"`
	Location    string `json:"location,omitempty"`
	Agenda      string `json:"agenda,omitempty"`
	ScheduledBy string `json:"scheduled_by"`
}

type ScheduleMeetingRequest struct {
	ScheduledAt string `json:"scheduled_at"`
	Location    string `json:"location"`
	Agenda      string `json:"agenda"`
}

// =============================================================================
// BALANCES AND TRANSACTIONS
// =============================================================================

type MemberBalanceDTO struct {
	GroupID         string          `json:"group_id"`
	MemberID        string          `json:"member_id"`
	Currency        string          `json:"currency"`
	Savings         decimal.Decimal `json:"savings"`
	SocialFund      decimal.Decimal `json:"social_fund"`
	Fines           decimal.Decimal `json:"fines"`
	LoansDisbursed  decimal.Decimal `json:"loans_disbursed"`
	LoansRepaid     decimal.Decimal `json:"loans_repaid"`
	LoanOutstanding decimal.Decimal `json:"loan_outstanding"`
}

type GroupBalanceDTO struct {
	GroupID        string          `json:"group_id"`
	Currency       string          `json:"currency"`
	AsOf           string          `json:"as_of,omitempty"`
	Savings        decimal.Decimal `json:"savings"`
	SocialFund     decimal.Decimal `json:"social_fund"`
	Fines          decimal.Decimal `json:"fines"`
	LoansDisbursed decimal.Decimal `json:"loans_disbursed"`
	LoansRepaid    decimal.Decimal `json:"loans_repaid"`
	Withdrawals    decimal.Decimal `json:"withdrawals"`
	CashOnHand     decimal.Decimal `json:"cash_on_hand"`
}

type TransactionDTO struct {
	ID             string          `json:"id"`
	GroupID        string          `json:"group_id"`
	MemberID       string          `json:"member_id,omitempty"`
	LoanID         string          `json:"loan_id,omitempty"`
	Type           string          `json:"type"`
	ReversedType   string          `json:"reversed_type,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	EffectiveAt    string          `json:"effective_at"`
	ReferenceID    string          `json:"reference_id,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	RecordedBy     string          `json:"recorded_by,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

// RecordTransactionRequest is a savings, fine, social-fund or withdrawal entry.
type RecordTransactionRequest struct {
	MemberID       string          `json:"member_id"`
	Amount         decimal.Decimal `json:"amount"`
	EffectiveAt    string          `json:"effective_at"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type ReverseTransactionRequest struct {
	Reason string `json:"reason"`
}

// ReplayItem is one entry captured offline and queued for upload.
type ReplayItem struct {
	Type           string          `json:"type"`
	MemberID       string          `json:"member_id"`
	LoanID         string          `json:"loan_id"`
	Amount         decimal.Decimal `json:"amount"`
	EffectiveAt    string          `json:"effective_at"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type ReplayRequest struct {
	Transactions []ReplayItem `json:"transactions"`
}

type ReplayFailureDTO struct {
	IdempotencyKey string `json:"idempotency_key"`
	Error          string `json:"error"`
}

type ReplayResponse struct {
	Applied    []TransactionDTO   `json:"applied"`
	Duplicates []string           `json:"duplicates"`
	Failed     []ReplayFailureDTO `json:"failed"`
}

// =============================================================================
// LOANS
// =============================================================================

type LoanDTO struct {
	ID                string          `json:"id"`
	GroupID           string          `json:"group_id"`
	MemberID          string          `json:"member_id"`
	Currency          string          `json:"currency"`
	Principal         decimal.Decimal `json:"principal"`
	AnnualRatePercent decimal.Decimal `json:"annual_rate_percent"`
	TermMonths        int             `json:"term_months"`
	Purpose           string          `json:"purpose,omitempty"`
	MonthlyPayment    decimal.Decimal `json:"monthly_payment"`
	TotalInterest     decimal.Decimal `json:"total_interest"`
	AmountDue         decimal.Decimal `json:"amount_due"`
	Status            loans.Status    `json:"status"`
	RequestedBy       string          `json:"requested_by,omitempty"`
	DecidedBy         string          `json:"decided_by,omitempty"`
	DecidedAt         *string         `json:"decided_at,omitempty"`
	RejectionReason   string          `json:"rejection_reason,omitempty"`
	DisbursedAt       *string         `json:"disbursed_at,omitempty"`
	CreatedAt         string          `json:"created_at"`
}

// LoanPositionDTO adds repayment progress to a loan.
type LoanPositionDTO struct {
	LoanDTO
	Repaid        decimal.Decimal `json:"repaid"`
	Outstanding   decimal.Decimal `json:"outstanding"`
	MonthsElapsed int             `json:"months_elapsed"`
	ScheduledDue  decimal.Decimal `json:"scheduled_due"`
	Arrears       decimal.Decimal `json:"arrears"`
}

type SubmitLoanRequest struct {
	MemberID   string          `json:"member_id"`
	Principal  decimal.Decimal `json:"principal"`
	TermMonths int             `json:"term_months"`
	Purpose    string          `json:"purpose"`
}

type RejectLoanRequest struct {
	Reason string `json:"reason"`
}

type RepayLoanRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	EffectiveAt    string          `json:"effective_at"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type RepayLoanResponse struct {
	Loan        LoanDTO        `json:"loan"`
	Transaction TransactionDTO `json:"transaction"`
}

// CalculatorRequest carries the terms a member types into the calculator.
type CalculatorRequest struct {
	Principal         decimal.Decimal `json:"principal"`
	AnnualRatePercent decimal.Decimal `json:"annual_rate_percent"`
	TermMonths        int             `json:"term_months"`
	Currency          string          `json:"currency"`
}

type ScheduleEntryDTO struct {
	Month            int             `json:"month"`
	Payment          decimal.Decimal `json:"payment"`
	Principal        decimal.Decimal `json:"principal"`
	Interest         decimal.Decimal `json:"interest"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
}

type ScheduleDTO struct {
	Principal         decimal.Decimal    `json:"principal"`
	AnnualRatePercent decimal.Decimal    `json:"annual_rate_percent"`
	TermMonths        int                `json:"term_months"`
	MonthlyPayment    decimal.Decimal    `json:"monthly_payment"`
	TotalInterest     decimal.Decimal    `json:"total_interest"`
	TotalAmount       decimal.Decimal    `json:"total_amount"`
	Entries           []ScheduleEntryDTO `json:"entries"`
	Cached            bool               `json:"cached,omitempty"`
}

// =============================================================================
// SESSION, NAVIGATION, REPORTS
// =============================================================================

// DevLoginRequest describes the session to mint. Kind picks the variant.
type DevLoginRequest struct {
	Kind     access.Kind `json:"kind"`
	Role     access.Role `json:"role"`
	UserID   string      `json:"user_id"`
	MemberID string      `json:"member_id"`
	GroupID  string      `json:"group_id"`
	Name     string      `json:"name"`
	Email    string      `json:"email"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// MeDTO is what the client needs to render the shell for the caller.
type MeDTO struct {
	Kind        access.Kind     `json:"kind"`
	Role        access.Role     `json:"role"`
	Tier        access.Tier     `json:"tier"`
	SubjectID   string          `json:"subject_id"`
	GroupID     string          `json:"group_id,omitempty"`
	Name        string          `json:"name,omitempty"`
	Permissions []access.Action `json:"permissions"`
	Routes      []access.Route  `json:"routes"`
}

type PortfolioReportDTO struct {
	GeneratedAt    string            `json:"generated_at"`
	Groups         int               `json:"groups"`
	Members        int               `json:"members"`
	LoansByStatus  map[string]int    `json:"loans_by_status"`
	GroupBalances  []GroupBalanceDTO `json:"group_balances"`
	LoansInArrears []LoanPositionDTO `json:"loans_in_arrears"`
	RecentActivity []TransactionDTO  `json:"recent_activity"`
}

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// parseEffectiveAt accepts RFC 3339 or YYYY-MM-DD. Empty means now.
func parseEffectiveAt(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}

func toGroupDTO(g registry.Group) GroupDTO {
	return GroupDTO{
		ID:              g.ID,
		Name:            g.Name,
		Location:        g.Location,
		Currency:        g.Currency,
		LoanRatePercent: g.LoanRatePercent,
		ShareValue:      g.ShareValue,
		MeetingDay:      g.MeetingDay,
		FieldOfficerID:  g.FieldOfficerID,
		EnrolledBy:      g.EnrolledBy,
		CreatedAt:       formatTime(g.CreatedAt),
	}
}

func toMemberDTO(m registry.Member) MemberDTO {
	return MemberDTO{
		ID:       m.ID,
		GroupID:  m.GroupID,
		Name:     m.Name,
		Phone:    m.Phone,
		Role:     m.Role,
		JoinedAt: formatTime(m.JoinedAt),
	}
}

func toStaffUserDTO(u registry.StaffUser) StaffUserDTO {
	return StaffUserDTO{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		Active:    u.Active,
		CreatedAt: formatTime(u.CreatedAt),
	}
}

func toMeetingDTO(m registry.Meeting) MeetingDTO {
	return MeetingDTO{
		ID:          m.ID,
		GroupID:     m.GroupID,
		ScheduledAt: formatTime(m.ScheduledAt),
		Location:    m.Location,
		Agenda:      m.Agenda,
		ScheduledBy: m.ScheduledBy,
	}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:             string(tx.ID),
		GroupID:        tx.GroupID,
		MemberID:       tx.MemberID,
		LoanID:         tx.LoanID,
		Type:           string(tx.Type),
		ReversedType:   string(tx.ReversedType),
		Amount:         tx.Amount.Amount,
		Currency:       tx.Amount.Currency,
		EffectiveAt:    formatTime(tx.EffectiveAt),
		ReferenceID:    tx.ReferenceID,
		Reason:         tx.Reason,
		IdempotencyKey: tx.IdempotencyKey,
		RecordedBy:     tx.RecordedBy,
		CreatedAt:      formatTime(tx.CreatedAt),
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toMemberBalanceDTO(b ledger.MemberBalance, currency string) MemberBalanceDTO {
	return MemberBalanceDTO{
		GroupID:         b.GroupID,
		MemberID:        b.MemberID,
		Currency:        currency,
		Savings:         b.Savings.Amount,
		SocialFund:      b.SocialFund.Amount,
		Fines:           b.Fines.Amount,
		LoansDisbursed:  b.LoansDisbursed.Amount,
		LoansRepaid:     b.LoansRepaid.Amount,
		LoanOutstanding: b.LoanPrincipalOutstanding().Amount,
	}
}

func toGroupBalanceDTO(b ledger.GroupBalance, currency string, asOf time.Time) GroupBalanceDTO {
	return GroupBalanceDTO{
		GroupID:        b.GroupID,
		Currency:       currency,
		AsOf:           formatTime(asOf),
		Savings:        b.Savings.Amount,
		SocialFund:     b.SocialFund.Amount,
		Fines:          b.Fines.Amount,
		LoansDisbursed: b.LoansDisbursed.Amount,
		LoansRepaid:    b.LoansRepaid.Amount,
		Withdrawals:    b.Withdrawals.Amount,
		CashOnHand:     b.CashOnHand().Amount,
	}
}

func toLoanDTO(l loans.Loan) LoanDTO {
	return LoanDTO{
		ID:                string(l.ID),
		GroupID:           l.GroupID,
		MemberID:          l.MemberID,
		Currency:          l.Currency,
		Principal:         l.Principal,
		AnnualRatePercent: l.AnnualRatePercent,
		TermMonths:        l.TermMonths,
		Purpose:           l.Purpose,
		MonthlyPayment:    l.MonthlyPayment,
		TotalInterest:     l.TotalInterest,
		AmountDue:         l.AmountDue,
		Status:            l.Status,
		RequestedBy:       l.RequestedBy,
		DecidedBy:         l.DecidedBy,
		DecidedAt:         formatTimePtr(l.DecidedAt),
		RejectionReason:   l.RejectionReason,
		DisbursedAt:       formatTimePtr(l.DisbursedAt),
		CreatedAt:         formatTime(l.CreatedAt),
	}
}

func toLoanPositionDTO(p loans.Position) LoanPositionDTO {
	return LoanPositionDTO{
		LoanDTO:       toLoanDTO(p.Loan),
		Repaid:        p.Repaid,
		Outstanding:   p.Outstanding,
		MonthsElapsed: p.MonthsElapsed,
		ScheduledDue:  p.ScheduledDue,
		Arrears:       p.Arrears,
	}
}

func toScheduleDTO(s amortization.Schedule, cached bool) ScheduleDTO {
	entries := make([]ScheduleEntryDTO, len(s.Entries))
	for i, e := range s.Entries {
		entries[i] = ScheduleEntryDTO{
			Month:            e.Month,
			Payment:          e.Payment,
			Principal:        e.Principal,
			Interest:         e.Interest,
			RemainingBalance: e.RemainingBalance,
		}
	}
	return ScheduleDTO{
		Principal:         s.Terms.Principal,
		AnnualRatePercent: s.Terms.AnnualRatePercent,
		TermMonths:        s.Terms.TermMonths,
		MonthlyPayment:    s.MonthlyPayment,
		TotalInterest:     s.TotalInterest,
		TotalAmount:       s.TotalAmount,
		Entries:           entries,
		Cached:            cached,
	}
}
