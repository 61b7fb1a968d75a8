package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vsla-engine/access"
	"github.com/warp/vsla-engine/loans"
)

func TestLoanLifecycle(t *testing.T) {
	ts := newTestServer(t)
	chair := ts.chairToken()

	// GIVEN: the chairman files an application for m-1
	rec := ts.do(http.MethodPost, "/api/groups/g-1/loans", chair, map[string]any{
		"member_id": "m-1", "principal": "120000", "term_months": 6, "purpose": "poultry",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	loan := decodeBody[LoanDTO](t, rec)
	assert.Equal(t, loans.StatusApproved, loan.Status)
	assertDecimal(t, "24", loan.AnnualRatePercent)
	assert.Equal(t, "UGX", loan.Currency)

	// WHEN: it is disbursed
	rec = ts.do(http.MethodPost, "/api/loans/"+loan.ID+"/disburse", chair, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, loans.StatusDisbursed, decodeBody[LoanDTO](t, rec).Status)

	rec = ts.do(http.MethodPost, "/api/loans/"+loan.ID+"/disburse", chair, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "second disbursement")

	// THEN: the schedule matches the loan's payment
	rec = ts.do(http.MethodGet, "/api/loans/"+loan.ID+"/schedule", chair, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sched := decodeBody[ScheduleDTO](t, rec)
	assert.Len(t, sched.Entries, 6)
	assertDecimal(t, loan.MonthlyPayment.String(), sched.MonthlyPayment)
	assertDecimal(t, "0", sched.Entries[5].RemainingBalance)

	// Overpayment is refused, paying the amount due closes the loan.
	rec = ts.do(http.MethodPost, "/api/loans/"+loan.ID+"/repayments", chair, map[string]string{
		"amount": loan.AmountDue.Add(loan.AmountDue).String(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/loans/"+loan.ID+"/repayments", chair, map[string]string{
		"amount": loan.AmountDue.String(), "idempotency_key": "repay-all",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	repay := decodeBody[RepayLoanResponse](t, rec)
	assert.Equal(t, loans.StatusRepaid, repay.Loan.Status)
	assert.Equal(t, "loan_repayment", repay.Transaction.Type)

	rec = ts.do(http.MethodPost, "/api/loans/"+loan.ID+"/repayments", chair, map[string]string{
		"amount": "1", "idempotency_key": "repay-all",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodGet, "/api/loans/"+loan.ID, ts.memberToken(access.RoleMember, "m-1", "g-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pos := decodeBody[LoanPositionDTO](t, rec)
	assertDecimal(t, "0", pos.Outstanding)
	assertDecimal(t, loan.AmountDue.String(), pos.Repaid)

	rec = ts.do(http.MethodGet, "/api/groups/g-1/loans?status=repaid", chair, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]LoanDTO](t, rec), 1)
}

func TestSubmitLoan_FallbackRate(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/groups/g-2/loans", ts.adminToken(), map[string]any{
		"member_id": "m-2", "principal": "5000", "term_months": 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assertDecimal(t, "10", decodeBody[LoanDTO](t, rec).AnnualRatePercent)

	rec = ts.do(http.MethodPost, "/api/groups/g-2/loans", ts.adminToken(), map[string]any{
		"member_id": "m-1", "principal": "5000", "term_months": 3,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "borrower must belong to the group")
}

func TestBorrowerCannotDecideOwnLoan(t *testing.T) {
	ts := newTestServer(t)
	chair := ts.chairToken()

	// member_id defaults to the caller
	rec := ts.do(http.MethodPost, "/api/groups/g-1/loans", chair, map[string]any{
		"principal": "50000", "term_months": 4,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	loan := decodeBody[LoanDTO](t, rec)
	assert.Equal(t, "m-chair", loan.MemberID)

	rec = ts.do(http.MethodPost, "/api/loans/"+loan.ID+"/disburse", chair, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	finance := ts.memberToken(access.RoleFinance, "m-fin", "g-1")
	rec = ts.do(http.MethodPost, "/api/loans/"+loan.ID+"/disburse", finance, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApproveAndReject_ManualPolicy(t *testing.T) {
	ts := newTestServer(t)
	ts.h.Loans.Policy.AutoApprove = false
	chair := ts.chairToken()

	submit := func() LoanDTO {
		rec := ts.do(http.MethodPost, "/api/groups/g-1/loans", chair, map[string]any{
			"member_id": "m-1", "principal": "30000", "term_months": 3,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		loan := decodeBody[LoanDTO](t, rec)
		require.Equal(t, loans.StatusPending, loan.Status)
		return loan
	}

	first := submit()
	rec := ts.do(http.MethodPost, "/api/loans/"+first.ID+"/reject", chair, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "reason is required")

	rec = ts.do(http.MethodPost, "/api/loans/"+first.ID+"/reject", chair, map[string]string{"reason": "no guarantor"})
	require.Equal(t, http.StatusOK, rec.Code)
	rejected := decodeBody[LoanDTO](t, rec)
	assert.Equal(t, loans.StatusRejected, rejected.Status)
	assert.Equal(t, "no guarantor", rejected.RejectionReason)

	second := submit()
	rec = ts.do(http.MethodPost, "/api/loans/"+second.ID+"/disburse", chair, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "pending loans cannot be disbursed")

	rec = ts.do(http.MethodPost, "/api/loans/"+second.ID+"/approve", chair, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	approved := decodeBody[LoanDTO](t, rec)
	assert.Equal(t, loans.StatusApproved, approved.Status)
	assert.Equal(t, "m-chair", approved.DecidedBy)

	rec = ts.do(http.MethodGet, "/api/loans/missing", chair, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCalculator(t *testing.T) {
	ts := newTestServer(t)
	member := ts.memberToken(access.RoleMember, "m-1", "g-1")
	terms := map[string]any{"principal": "100000", "annual_rate_percent": "12", "term_months": 12}

	rec := ts.do(http.MethodPost, "/api/calculator", member, terms)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeBody[ScheduleDTO](t, rec)
	assert.False(t, first.Cached)
	assert.Len(t, first.Entries, 12)
	assertDecimal(t, "8884.88", first.MonthlyPayment)

	rec = ts.do(http.MethodPost, "/api/calculator", member, terms)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeBody[ScheduleDTO](t, rec)
	assert.True(t, second.Cached)
	assertDecimal(t, first.TotalInterest.String(), second.TotalInterest)

	// Two requests per minute per caller: the bucket is empty and the next
	// token arrives after half a minute.
	rec = ts.do(http.MethodPost, "/api/calculator", member, terms)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Equal(t, CodeRateLimited, decodeBody[ErrorResponse](t, rec).Code)

	// Other callers have their own bucket.
	rec = ts.do(http.MethodPost, "/api/calculator", ts.adminToken(), map[string]any{
		"principal": "100000", "annual_rate_percent": "12", "term_months": 0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
