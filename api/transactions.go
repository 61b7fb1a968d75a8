package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/vsla-engine/ledger"
	"github.com/warp/vsla-engine/loans"
)

// =============================================================================
// CONTRIBUTIONS
// =============================================================================

// RecordSavings records a share purchase.
// POST /api/groups/{groupID}/savings
func (h *Handler) RecordSavings(w http.ResponseWriter, r *http.Request) {
	h.recordContribution(w, r, ledger.TxSavings)
}

// RecordFine records a fine paid to the group.
// POST /api/groups/{groupID}/fines
func (h *Handler) RecordFine(w http.ResponseWriter, r *http.Request) {
	h.recordContribution(w, r, ledger.TxFine)
}

// RecordSocialFund records a welfare contribution.
// POST /api/groups/{groupID}/social-fund
func (h *Handler) RecordSocialFund(w http.ResponseWriter, r *http.Request) {
	h.recordContribution(w, r, ledger.TxSocialFund)
}

// RecordWithdrawal pays savings back out to a member (share-out).
// POST /api/groups/{groupID}/withdrawals
func (h *Handler) RecordWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.recordContribution(w, r, ledger.TxWithdrawal)
}

func (h *Handler) recordContribution(w http.ResponseWriter, r *http.Request, txType ledger.TransactionType) {
	g, p, ok := h.scopedGroup(w, r)
	if !ok {
		return
	}
	var req RecordTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}
	at, err := parseEffectiveAt(req.EffectiveAt, h.Now())
	if err != nil {
		badRequest(w, "Invalid effective_at (use RFC 3339 or YYYY-MM-DD)", err)
		return
	}

	m, err := h.Store.GetMember(r.Context(), req.MemberID)
	if err != nil {
		writeDomainError(w, h.Log, "Failed to get member", err)
		return
	}
	if m == nil || m.GroupID != g.ID {
		badRequest(w, "member_id is not a member of this group", nil)
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	entry := ledger.Transaction{
		GroupID:        g.ID,
		MemberID:       m.ID,
		Type:           txType,
		Amount:         ledger.NewMoney(req.Amount, g.Currency),
		EffectiveAt:    at,
		Reason:         req.Reason,
		IdempotencyKey: key,
		RecordedBy:     p.SubjectID,
	}

	var tx ledger.Transaction
	if txType == ledger.TxWithdrawal {
		tx, err = h.Ledger.Withdraw(r.Context(), entry)
	} else {
		tx, err = h.Ledger.Append(r.Context(), entry)
	}
	if err != nil {
		writeDomainError(w, h.Log, "Failed to record "+string(txType), err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// =============================================================================
// HISTORY AND REVERSAL
// =============================================================================

// ListTransactions returns the group's ledger, optionally within ?from=&to=.
// GET /api/groups/{groupID}/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	g, _, ok := h.scopedGroup(w, r)
	if !ok {
		return
	}

	var from, to time.Time
	q := r.URL.Query()
	for _, bound := range []struct {
		name string
		dst  *time.Time
	}{{"from", &from}, {"to", &to}} {
		s := q.Get(bound.name)
		if s == "" {
			continue
		}
		t, err := parseEffectiveAt(s, h.Now())
		if err != nil {
			badRequest(w, "Invalid "+bound.name+" (use RFC 3339 or YYYY-MM-DD)", err)
			return
		}
		*bound.dst = t
	}

	var (
		txs []ledger.Transaction
		err error
	)
	if memberID := q.Get("member_id"); memberID != "" {
		txs, err = h.Ledger.Store.LoadByMember(r.Context(), g.ID, memberID)
	} else {
		txs, err = h.Ledger.Store.LoadByGroup(r.Context(), g.ID, from, to)
	}
	if err != nil {
		writeDomainError(w, h.Log, "Failed to load transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// ReverseTransaction appends a reversal for a mis-entered transaction.
// Loan movements are reversed through the loan book, not here.
// POST /api/transactions/{txID}/reverse
func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id := ledger.TransactionID(chi.URLParam(r, "txID"))

	var req ReverseTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}
	if req.Reason == "" {
		badRequest(w, "reason is required", nil)
		return
	}

	tx, err := h.Ledger.Store.GetTransaction(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.Log, "Failed to get transaction", err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "Transaction not found", nil)
		return
	}
	if _, ok := h.groupInScope(w, r.Context(), p, tx.GroupID); !ok {
		return
	}
	if tx.Type.RequiresLoan() {
		badRequest(w, "Loan disbursements and repayments cannot be reversed", nil)
		return
	}

	reversal, err := h.Ledger.Reverse(r.Context(), id, p.SubjectID, req.Reason)
	if err != nil {
		writeDomainError(w, h.Log, "Failed to reverse transaction", err)
		return
	}
	h.Log.Info().
		Str("tx_id", string(id)).
		Str("reversal_id", string(reversal.ID)).
		Str("actor", p.SubjectID).
		Msg("transaction reversed")
	writeJSON(w, http.StatusCreated, toTransactionDTO(reversal))
}

// =============================================================================
// OFFLINE REPLAY
// =============================================================================

// ReplayTransactions applies a queue of entries captured offline. Entries
// already recorded are reported as duplicates; invalid entries are reported
// as failures and do not stop the rest. Contributions are applied first, in
// queue order, then loan repayments.
// POST /api/groups/{groupID}/transactions/replay
func (h *Handler) ReplayTransactions(w http.ResponseWriter, r *http.Request) {
	g, p, ok := h.scopedGroup(w, r)
	if !ok {
		return
	}
	var req ReplayRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}

	resp := ReplayResponse{
		Applied:    []TransactionDTO{},
		Duplicates: []string{},
		Failed:     []ReplayFailureDTO{},
	}
	fail := func(key, msg string) {
		resp.Failed = append(resp.Failed, ReplayFailureDTO{IdempotencyKey: key, Error: msg})
	}

	members, err := h.Store.ListMembers(r.Context(), g.ID)
	if err != nil {
		writeDomainError(w, h.Log, "Failed to list members", err)
		return
	}
	inGroup := make(map[string]bool, len(members))
	for _, m := range members {
		inGroup[m.ID] = true
	}

	var (
		contributions []ledger.Transaction
		repayments    []ReplayItem
	)
	for _, item := range req.Transactions {
		at, err := parseEffectiveAt(item.EffectiveAt, h.Now())
		if err != nil {
			fail(item.IdempotencyKey, "invalid effective_at")
			continue
		}
		switch ledger.TransactionType(item.Type) {
		case ledger.TxLoanRepayment:
			repayments = append(repayments, item)
		case ledger.TxSavings, ledger.TxFine, ledger.TxSocialFund:
			if !inGroup[item.MemberID] {
				fail(item.IdempotencyKey, "member_id is not a member of this group")
				continue
			}
			contributions = append(contributions, ledger.Transaction{
				GroupID:        g.ID,
				MemberID:       item.MemberID,
				Type:           ledger.TransactionType(item.Type),
				Amount:         ledger.NewMoney(item.Amount, g.Currency),
				EffectiveAt:    at,
				Reason:         item.Reason,
				IdempotencyKey: item.IdempotencyKey,
				RecordedBy:     p.SubjectID,
			})
		default:
			fail(item.IdempotencyKey, "type "+item.Type+" cannot be queued offline")
		}
	}

	result, err := h.Ledger.Replay(r.Context(), contributions)
	if err != nil {
		writeDomainError(w, h.Log, "Replay aborted", err)
		return
	}
	resp.Applied = append(resp.Applied, toTransactionDTOs(result.Applied)...)
	resp.Duplicates = append(resp.Duplicates, result.Duplicates...)
	for _, f := range result.Failed {
		fail(f.IdempotencyKey, f.Err.Error())
	}

	for _, item := range repayments {
		if item.IdempotencyKey == "" {
			fail("", "idempotency_key is required")
			continue
		}
		loan, err := h.Loans.Get(r.Context(), loans.LoanID(item.LoanID))
		if err != nil || loan.GroupID != g.ID {
			fail(item.IdempotencyKey, "loan not found in this group")
			continue
		}
		at, _ := parseEffectiveAt(item.EffectiveAt, h.Now())
		_, tx, err := h.Loans.RecordRepayment(r.Context(), loans.RepaymentRequest{
			LoanID:         loan.ID,
			Amount:         item.Amount,
			EffectiveAt:    at,
			IdempotencyKey: item.IdempotencyKey,
			RecordedBy:     p.SubjectID,
		})
		switch {
		case err == nil:
			resp.Applied = append(resp.Applied, toTransactionDTO(tx))
		case ledger.IsConflict(err):
			resp.Duplicates = append(resp.Duplicates, item.IdempotencyKey)
		case loans.IsClientError(err), ledger.IsClientError(err):
			fail(item.IdempotencyKey, err.Error())
		default:
			writeDomainError(w, h.Log, "Replay aborted", err)
			return
		}
	}

	h.Log.Info().
		Str("group_id", g.ID).
		Int("applied", len(resp.Applied)).
		Int("duplicates", len(resp.Duplicates)).
		Int("failed", len(resp.Failed)).
		Msg("offline queue replayed")
	writeJSON(w, http.StatusOK, resp)
}
