package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vsla-engine/access"
)

func TestContributionsAndBalances(t *testing.T) {
	ts := newTestServer(t)
	chair := ts.chairToken()

	for _, c := range []struct {
		path   string
		amount string
		key    string
	}{
		{"/api/groups/g-1/savings", "10000", "sav-1"},
		{"/api/groups/g-1/savings", "4000", "sav-2"},
		{"/api/groups/g-1/social-fund", "1000", "soc-1"},
		{"/api/groups/g-1/fines", "500", "fine-1"},
	} {
		rec := ts.do(http.MethodPost, c.path, chair, map[string]string{
			"member_id": "m-1", "amount": c.amount, "effective_at": "2025-03-04", "idempotency_key": c.key,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := ts.do(http.MethodGet, "/api/groups/g-1/members/m-1/balance", chair, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mb := decodeBody[MemberBalanceDTO](t, rec)
	assert.Equal(t, "UGX", mb.Currency)
	assertDecimal(t, "14000", mb.Savings)
	assertDecimal(t, "1000", mb.SocialFund)
	assertDecimal(t, "500", mb.Fines)

	rec = ts.do(http.MethodGet, "/api/groups/g-1/balance", chair, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	gb := decodeBody[GroupBalanceDTO](t, rec)
	assertDecimal(t, "14000", gb.Savings)
	assertDecimal(t, "15500", gb.CashOnHand)

	rec = ts.do(http.MethodGet, "/api/groups/g-1/balance?as_of=2025-03-03", chair, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertDecimal(t, "0", decodeBody[GroupBalanceDTO](t, rec).CashOnHand)

	rec = ts.do(http.MethodGet, "/api/groups/g-1/transactions?member_id=m-1", chair, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]TransactionDTO](t, rec), 4)
}

func TestRecordContribution_Rejections(t *testing.T) {
	ts := newTestServer(t)
	chair := ts.chairToken()

	body := map[string]string{"member_id": "m-1", "amount": "2000", "idempotency_key": "sav-dup"}
	rec := ts.do(http.MethodPost, "/api/groups/g-1/savings", chair, body)
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("duplicate idempotency key", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/groups/g-1/savings", chair, body)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, CodeConflict, decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("member of another group", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/groups/g-1/savings", chair, map[string]string{"member_id": "m-2", "amount": "2000"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/groups/g-1/savings", chair, map[string]string{"member_id": "m-1", "amount": "0"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad effective date", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/groups/g-1/savings", chair, map[string]string{
			"member_id": "m-1", "amount": "100", "effective_at": "last tuesday",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("withdrawal above savings", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/groups/g-1/withdrawals", chair, map[string]string{"member_id": "m-1", "amount": "2500"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = ts.do(http.MethodPost, "/api/groups/g-1/withdrawals", chair, map[string]string{"member_id": "m-1", "amount": "2000"})
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("secretary cannot pay out withdrawals", func(t *testing.T) {
		token := ts.memberToken(access.RoleSecretary, "m-sec", "g-1")
		rec := ts.do(http.MethodPost, "/api/groups/g-1/withdrawals", token, map[string]string{"member_id": "m-1", "amount": "1"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestReverseTransaction(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken()

	rec := ts.do(http.MethodPost, "/api/groups/g-1/savings", ts.chairToken(), map[string]string{"member_id": "m-1", "amount": "7000"})
	require.Equal(t, http.StatusCreated, rec.Code)
	tx := decodeBody[TransactionDTO](t, rec)

	rec = ts.do(http.MethodPost, "/api/transactions/"+tx.ID+"/reverse", admin, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "reason is required")

	rec = ts.do(http.MethodPost, "/api/transactions/"+tx.ID+"/reverse", admin, map[string]string{"reason": "entered twice"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rev := decodeBody[TransactionDTO](t, rec)
	assert.Equal(t, "reversal", rev.Type)
	assert.Equal(t, "savings", rev.ReversedType)
	assert.Equal(t, tx.ID, rev.ReferenceID)

	rec = ts.do(http.MethodPost, "/api/transactions/"+tx.ID+"/reverse", admin, map[string]string{"reason": "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodPost, "/api/transactions/missing/reverse", admin, map[string]string{"reason": "typo"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/api/groups/g-1/members/m-1/balance", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertDecimal(t, "0", decodeBody[MemberBalanceDTO](t, rec).Savings)
}

func TestReplayTransactions(t *testing.T) {
	ts := newTestServer(t)
	token := ts.staffToken(access.RoleFieldAttendant, "fa-1")

	// The attendant is not attached to g-1.
	rec := ts.do(http.MethodPost, "/api/groups/g-1/transactions/replay", token, ReplayRequest{})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	token = ts.staffToken(access.RoleFieldMonitor, "fm-1")
	queue := map[string]any{"transactions": []map[string]string{
		{"type": "savings", "member_id": "m-1", "amount": "2000", "effective_at": "2025-03-04", "idempotency_key": "q-1"},
		{"type": "social_fund", "member_id": "m-1", "amount": "500", "effective_at": "2025-03-04", "idempotency_key": "q-2"},
		{"type": "savings", "member_id": "m-2", "amount": "2000", "effective_at": "2025-03-04", "idempotency_key": "q-3"},
		{"type": "withdrawal", "member_id": "m-1", "amount": "100", "effective_at": "2025-03-04", "idempotency_key": "q-4"},
	}}

	rec = ts.do(http.MethodPost, "/api/groups/g-1/transactions/replay", token, queue)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeBody[ReplayResponse](t, rec)
	assert.Len(t, first.Applied, 2)
	assert.Empty(t, first.Duplicates)
	require.Len(t, first.Failed, 2)
	assert.Equal(t, "q-3", first.Failed[0].IdempotencyKey)
	assert.Equal(t, "q-4", first.Failed[1].IdempotencyKey)

	rec = ts.do(http.MethodPost, "/api/groups/g-1/transactions/replay", token, queue)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeBody[ReplayResponse](t, rec)
	assert.Empty(t, second.Applied)
	assert.ElementsMatch(t, []string{"q-1", "q-2"}, second.Duplicates)
}
