package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/vsla-engine/access"
	"github.com/warp/vsla-engine/amortization"
	"github.com/warp/vsla-engine/loans"
)

// =============================================================================
// LOAN BOOK
// =============================================================================

// SubmitLoan applies for a loan on behalf of a member of the group.
// member_id defaults to the caller when the caller is a group member.
// POST /api/groups/{groupID}/loans
func (h *Handler) SubmitLoan(w http.ResponseWriter, r *http.Request) {
	g, p, ok := h.scopedGroup(w, r)
	if !ok {
		return
	}
	var req SubmitLoanRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}
	if req.MemberID == "" && p.Kind == access.KindMember {
		req.MemberID = p.SubjectID
	}

	loan, err := h.Loans.Submit(r.Context(), loans.SubmitRequest{
		GroupID:     g.ID,
		MemberID:    req.MemberID,
		Principal:   req.Principal,
		TermMonths:  req.TermMonths,
		Purpose:     req.Purpose,
		RequestedBy: p.SubjectID,
	})
	if err != nil {
		writeDomainError(w, h.Log, "Failed to submit loan", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoanDTO(*loan))
}

// ListLoans returns the group's loans, optionally filtered by
// ?status=pending,approved and ?member_id=.
// GET /api/groups/{groupID}/loans
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	g, _, ok := h.scopedGroup(w, r)
	if !ok {
		return
	}
	f := loans.Filter{GroupID: g.ID, MemberID: r.URL.Query().Get("member_id")}
	if s := r.URL.Query().Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			f.Statuses = append(f.Statuses, loans.Status(strings.TrimSpace(part)))
		}
	}

	list, err := h.Loans.Loans.ListLoans(r.Context(), f)
	if err != nil {
		writeDomainError(w, h.Log, "Failed to list loans", err)
		return
	}
	dtos := make([]LoanDTO, len(list))
	for i, l := range list {
		dtos[i] = toLoanDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// scopedLoan loads the loan named in the URL and checks its group is in scope.
func (h *Handler) scopedLoan(w http.ResponseWriter, r *http.Request) (*loans.Loan, access.Principal, bool) {
	p, ok := h.principal(w, r)
	if !ok {
		return nil, p, false
	}
	loan, err := h.Loans.Get(r.Context(), loans.LoanID(chi.URLParam(r, "loanID")))
	if err != nil {
		writeDomainError(w, h.Log, "Failed to get loan", err)
		return nil, p, false
	}
	if _, ok := h.groupInScope(w, r.Context(), p, loan.GroupID); !ok {
		return nil, p, false
	}
	return loan, p, true
}

// GetLoan returns a loan with its repayment position as of now.
// GET /api/loans/{loanID}
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, _, ok := h.scopedLoan(w, r)
	if !ok {
		return
	}
	pos, err := h.Loans.Position(r.Context(), loan.ID, h.Now())
	if err != nil {
		writeDomainError(w, h.Log, "Failed to compute loan position", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanPositionDTO(pos))
}

// GetLoanSchedule returns the loan's amortization schedule.
// GET /api/loans/{loanID}/schedule
func (h *Handler) GetLoanSchedule(w http.ResponseWriter, r *http.Request) {
	loan, _, ok := h.scopedLoan(w, r)
	if !ok {
		return
	}
	sched, cached, err := h.Schedules.Compute(r.Context(), amortization.ForCurrency(loan.Currency), loan.Terms())
	if err != nil {
		writeDomainError(w, h.Log, "Failed to compute schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(sched, cached))
}

// ApproveLoan moves a pending loan to approved.
// POST /api/loans/{loanID}/approve
func (h *Handler) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	loan, p, ok := h.scopedLoan(w, r)
	if !ok {
		return
	}
	if !h.mayDecide(w, p, loan) {
		return
	}
	loan, err := h.Loans.Approve(r.Context(), loan.ID, p.SubjectID)
	if err != nil {
		writeDomainError(w, h.Log, "Failed to approve loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(*loan))
}

// RejectLoan moves a pending loan to rejected.
// POST /api/loans/{loanID}/reject
func (h *Handler) RejectLoan(w http.ResponseWriter, r *http.Request) {
	loan, p, ok := h.scopedLoan(w, r)
	if !ok {
		return
	}
	if !h.mayDecide(w, p, loan) {
		return
	}
	var req RejectLoanRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}
	if req.Reason == "" {
		badRequest(w, "reason is required", nil)
		return
	}
	loan, err := h.Loans.Reject(r.Context(), loan.ID, p.SubjectID, req.Reason)
	if err != nil {
		writeDomainError(w, h.Log, "Failed to reject loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(*loan))
}

// DisburseLoan pays out an approved loan from the group's cash.
// POST /api/loans/{loanID}/disburse
func (h *Handler) DisburseLoan(w http.ResponseWriter, r *http.Request) {
	loan, p, ok := h.scopedLoan(w, r)
	if !ok {
		return
	}
	if !h.mayDecide(w, p, loan) {
		return
	}
	loan, err := h.Loans.Disburse(r.Context(), loan.ID, p.SubjectID)
	if err != nil {
		writeDomainError(w, h.Log, "Failed to disburse loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(*loan))
}

// mayDecide stops a group officer from approving or paying out their own loan.
func (h *Handler) mayDecide(w http.ResponseWriter, p access.Principal, loan *loans.Loan) bool {
	if p.Kind == access.KindMember && p.SubjectID == loan.MemberID {
		writeError(w, http.StatusForbidden, CodeForbidden, "Borrowers cannot decide on their own loan", nil)
		return false
	}
	return true
}

// RepayLoan records a repayment against a disbursed loan.
// POST /api/loans/{loanID}/repayments
func (h *Handler) RepayLoan(w http.ResponseWriter, r *http.Request) {
	loan, p, ok := h.scopedLoan(w, r)
	if !ok {
		return
	}
	var req RepayLoanRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}
	at, err := parseEffectiveAt(req.EffectiveAt, h.Now())
	if err != nil {
		badRequest(w, "Invalid effective_at (use RFC 3339 or YYYY-MM-DD)", err)
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	updated, tx, err := h.Loans.RecordRepayment(r.Context(), loans.RepaymentRequest{
		LoanID:         loan.ID,
		Amount:         req.Amount,
		EffectiveAt:    at,
		IdempotencyKey: key,
		RecordedBy:     p.SubjectID,
	})
	if err != nil {
		writeDomainError(w, h.Log, "Failed to record repayment", err)
		return
	}
	writeJSON(w, http.StatusCreated, RepayLoanResponse{
		Loan:        toLoanDTO(*updated),
		Transaction: toTransactionDTO(tx),
	})
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculate previews a schedule for arbitrary terms. Nothing is stored.
// POST /api/calculator
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req CalculatorRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}
	engine := amortization.Default
	if req.Currency != "" {
		engine = amortization.ForCurrency(strings.ToUpper(req.Currency))
	}

	sched, cached, err := h.Schedules.Compute(r.Context(), engine, amortization.LoanTerms{
		Principal:         req.Principal,
		AnnualRatePercent: req.AnnualRatePercent,
		TermMonths:        req.TermMonths,
	})
	if err != nil {
		writeDomainError(w, h.Log, "Invalid loan terms", err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(sched, cached))
}
