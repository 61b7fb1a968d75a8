/*
server_test.go - HTTP tests for routing, authentication and group scope

Tests for:
- Health and token handling (Authenticate)
- Per-route actions (Require)
- Group scope by tier
- Navigation and /api/me
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vsla-engine/access"
	"github.com/warp/vsla-engine/cache"
	"github.com/warp/vsla-engine/ledger"
	"github.com/warp/vsla-engine/loans"
	"github.com/warp/vsla-engine/registry"
	"github.com/warp/vsla-engine/session"
	"github.com/warp/vsla-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	t         *testing.T
	h         *Handler
	router    http.Handler
	codec     *session.Codec
	scheduler *ArrearsScheduler
}

// newTestServer wires the full router over an in-memory database seeded with:
//
//	g-1  Tusubira, UGX, 24%, field officer fm-1: m-chair (chairman), m-1 (member)
//	g-2  Amani, KES, no rate:                    m-2 (member)
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.CreateGroup(ctx, registry.Group{
		ID: "g-1", Name: "Tusubira", Currency: "UGX",
		LoanRatePercent: decimal.NewNullDecimal(decimal.NewFromInt(24)),
		FieldOfficerID:  "fm-1",
	}))
	require.NoError(t, store.CreateGroup(ctx, registry.Group{ID: "g-2", Name: "Amani", Currency: "KES"}))
	for _, m := range []registry.Member{
		{ID: "m-chair", GroupID: "g-1", Name: "Namuli", Role: access.RoleChairman},
		{ID: "m-1", GroupID: "g-1", Name: "Nakato", Role: access.RoleMember},
		{ID: "m-2", GroupID: "g-2", Name: "Otieno", Role: access.RoleMember},
	} {
		require.NoError(t, store.CreateMember(ctx, m))
	}

	l := ledger.New(store)
	svc := loans.NewService(store, store, l, loans.DefaultPolicy(), zerolog.Nop())
	codec, err := session.NewCodec([]byte("test-secret-test-secret-test-sec"), "vsla-test", time.Hour)
	require.NoError(t, err)

	h := NewHandler(store, l, svc, zerolog.Nop())
	h.Sessions = codec
	h.Schedules = cache.Schedules{Cache: cache.NewLRU(16, time.Minute)}

	limiter := NewRateLimiter(2, time.Minute)
	t.Cleanup(limiter.Stop)
	scheduler := NewArrearsScheduler(svc, zerolog.Nop())

	router := NewRouter(h, RouterOptions{
		Verifier:       codec,
		AllowedOrigins: []string{"http://localhost:5173"},
		CalcLimiter:    limiter,
		Scheduler:      scheduler,
		DevRoutes:      true,
	})
	return &testServer{t: t, h: h, router: router, codec: codec, scheduler: scheduler}
}

func (ts *testServer) staffToken(role access.Role, id string) string {
	ts.t.Helper()
	token, _, err := ts.codec.Issue(access.StaffSession{UserID: id, Name: id, Email: id + "@example.org", Role: role})
	require.NoError(ts.t, err)
	return token
}

func (ts *testServer) memberToken(role access.Role, memberID, groupID string) string {
	ts.t.Helper()
	token, _, err := ts.codec.Issue(access.MemberSession{MemberID: memberID, GroupID: groupID, Name: memberID, Role: role})
	require.NoError(ts.t, err)
	return token
}

func (ts *testServer) adminToken() string { return ts.staffToken(access.RoleAdmin, "admin-1") }

func (ts *testServer) chairToken() string {
	return ts.memberToken(access.RoleChairman, "m-chair", "g-1")
}

func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticate(t *testing.T) {
	ts := newTestServer(t)

	t.Run("missing token", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, CodeUnauthorized, decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/me", "not-a-jwt", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token from another issuer", func(t *testing.T) {
		other, err := session.NewCodec([]byte("test-secret-test-secret-test-sec"), "someone-else", time.Hour)
		require.NoError(t, err)
		token, _, err := other.Issue(access.StaffSession{UserID: "x", Role: access.RoleAdmin})
		require.NoError(t, err)
		rec := ts.do(http.MethodGet, "/api/me", token, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("member token", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/me", ts.memberToken(access.RoleMember, "m-1", "g-1"), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		me := decodeBody[MeDTO](t, rec)
		assert.Equal(t, access.KindMember, me.Kind)
		assert.Equal(t, access.TierRegularMember, me.Tier)
		assert.Equal(t, "g-1", me.GroupID)
		assert.Contains(t, me.Permissions, access.ActionLoanCalculator)
		assert.NotContains(t, me.Permissions, access.ActionSubmitSavings)
	})
}

func TestDevLogin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/auth/dev-login", "", DevLoginRequest{
		Kind: access.KindStaff, Role: access.RoleFieldMonitor, UserID: "fm-1", Name: "Okello",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	tok := decodeBody[TokenResponse](t, rec)
	assert.NotEmpty(t, tok.ExpiresAt)

	rec = ts.do(http.MethodGet, "/api/me", tok.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, access.RoleFieldMonitor, decodeBody[MeDTO](t, rec).Role)

	rec = ts.do(http.MethodPost, "/api/auth/dev-login", "", DevLoginRequest{Kind: "robot", Role: access.RoleAdmin})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDevRoutesHiddenWhenDisabled(t *testing.T) {
	ts := newTestServer(t)
	router := NewRouter(ts.h, RouterOptions{Verifier: ts.codec})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/dev-login", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// AUTHORIZATION
// =============================================================================

func TestRequire_RoleLacksAction(t *testing.T) {
	ts := newTestServer(t)
	member := ts.memberToken(access.RoleMember, "m-1", "g-1")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
	}{
		{"member cannot create groups", http.MethodPost, "/api/groups", member},
		{"chairman cannot create groups", http.MethodPost, "/api/groups", ts.chairToken()},
		{"member cannot record savings", http.MethodPost, "/api/groups/g-1/savings", member},
		{"member cannot manage users", http.MethodGet, "/api/users", member},
		{"member cannot approve loans", http.MethodPost, "/api/loans/l-1/approve", member},
		{"field staff cannot reverse", http.MethodPost, "/api/transactions/tx-1/reverse", ts.staffToken(access.RoleFieldMonitor, "fm-1")},
		{"chairman cannot see reports", http.MethodGet, "/api/reports/portfolio", ts.chairToken()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(tt.method, tt.path, tt.token, map[string]string{})
			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.Equal(t, CodeForbidden, decodeBody[ErrorResponse](t, rec).Code)
		})
	}
}

func TestGroupScope(t *testing.T) {
	ts := newTestServer(t)

	t.Run("admin sees every group", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/groups", ts.adminToken(), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decodeBody[[]GroupDTO](t, rec), 2)
	})

	t.Run("field officer sees assigned group only", func(t *testing.T) {
		token := ts.staffToken(access.RoleFieldMonitor, "fm-1")
		rec := ts.do(http.MethodGet, "/api/groups", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		groups := decodeBody[[]GroupDTO](t, rec)
		require.Len(t, groups, 1)
		assert.Equal(t, "g-1", groups[0].ID)

		rec = ts.do(http.MethodGet, "/api/groups/g-2", token, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("member cannot read another group", func(t *testing.T) {
		token := ts.memberToken(access.RoleMember, "m-1", "g-1")
		rec := ts.do(http.MethodGet, "/api/groups/g-2/members", token, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = ts.do(http.MethodGet, "/api/groups/g-1/members", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decodeBody[[]MemberDTO](t, rec), 2)
	})

	t.Run("unknown group", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/groups/missing", ts.adminToken(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("member of another group is not found here", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/groups/g-1/members/m-2", ts.adminToken(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCreateGroup_RecordsEnroller(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/groups", ts.adminToken(), map[string]any{
		"name": "Upendo", "currency": "tzs", "share_value": "1000",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	g := decodeBody[GroupDTO](t, rec)
	assert.Equal(t, "TZS", g.Currency)
	assert.Equal(t, "admin-1", g.EnrolledBy)

	rec = ts.do(http.MethodPost, "/api/groups", ts.adminToken(), map[string]any{"name": "", "currency": "TZS"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateGroup_FieldAttendantSeesOwnEnrollment(t *testing.T) {
	// GIVEN: a field attendant with no assigned groups
	// WHEN: they enroll a group
	// THEN: it is in their scope through enrolled_by, and nothing else is
	ts := newTestServer(t)
	attendant := ts.staffToken(access.RoleFieldAttendant, "fa-1")

	rec := ts.do(http.MethodGet, "/api/groups", attendant, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]GroupDTO](t, rec))

	rec = ts.do(http.MethodPost, "/api/groups", attendant, map[string]any{
		"id": "g-new", "name": "Twekembe", "currency": "UGX", "share_value": "1000", "field_officer_id": "fm-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "fa-1", decodeBody[GroupDTO](t, rec).EnrolledBy)

	rec = ts.do(http.MethodGet, "/api/groups", attendant, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decodeBody[[]GroupDTO](t, rec)
	require.Len(t, groups, 1)
	assert.Equal(t, "g-new", groups[0].ID)

	rec = ts.do(http.MethodGet, "/api/groups/g-new", attendant, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(http.MethodGet, "/api/groups/g-1", attendant, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The assigned field monitor sees it too.
	rec = ts.do(http.MethodGet, "/api/groups", ts.staffToken(access.RoleFieldMonitor, "fm-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]GroupDTO](t, rec), 2)
}

func TestNavigation(t *testing.T) {
	ts := newTestServer(t)

	names := func(token string) []string {
		rec := ts.do(http.MethodGet, "/api/navigation", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var out []string
		for _, r := range decodeBody[[]access.Route](t, rec) {
			out = append(out, r.Name)
		}
		return out
	}

	assert.Equal(t, []string{
		"dashboard", "groups", "members", "savings", "loan-payments",
		"loans", "loan-calculator", "meetings",
	}, names(ts.staffToken(access.RoleFieldMonitor, "fm-1")))

	assert.Equal(t, []string{
		"dashboard", "groups", "members", "loans", "loan-calculator", "meetings", "my-group",
	}, names(ts.memberToken(access.RoleMember, "m-1", "g-1")))
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/groups", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
