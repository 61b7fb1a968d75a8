/*
handlers.go - HTTP API handlers for the VSLA engine

PURPOSE:
  Exposes groups, members, the savings ledger and the loan book via REST.
  Handlers parse the request, check the caller's group scope, delegate to
  the domain packages and serialize the response.

ENDPOINTS:
  Session:
    POST   /api/auth/dev-login                 Mint a token (dev only)
    GET    /api/me                             Principal, permissions, menu
    GET    /api/navigation                     Visible navigation routes

  Groups and members:
    GET    /api/groups                         Groups in the caller's scope
    POST   /api/groups                         Create group
    GET    /api/groups/{groupID}               Group details
    GET    /api/groups/{groupID}/balance       Cash position (?as_of=)
    GET    /api/groups/{groupID}/members       List members
    POST   /api/groups/{groupID}/members       Register member
    GET    /api/groups/{groupID}/members/{memberID}
    GET    /api/groups/{groupID}/members/{memberID}/balance

  Meetings:
    GET    /api/groups/{groupID}/meetings      Upcoming meetings (?from=)
    POST   /api/groups/{groupID}/meetings      Schedule a meeting

  Staff:
    GET    /api/users                          List staff users
    POST   /api/users                          Create staff user

  Reports:
    GET    /api/reports/portfolio              Cross-group summary

  Ledger and loans: see transactions.go and loans.go.

AUTHORIZATION:
  Every /api route except dev-login sits behind Authenticate and a
  Require(action) check wired in server.go. Handlers then apply group
  scope: admin sees every group, field staff the groups they enrolled or
  are assigned to, members only their own group. Out-of-scope groups are
  reported as 403.

ERROR HANDLING:
  Errors are returned as JSON ErrorResponse with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing or unusable session
  - 403: Role lacks the action, or group out of scope
  - 404: Resource not found
  - 409: Duplicate idempotency key, already reversed, duplicate record
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Authenticate and Require
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/vsla-engine/access"
	"github.com/warp/vsla-engine/cache"
	"github.com/warp/vsla-engine/ledger"
	"github.com/warp/vsla-engine/loans"
	"github.com/warp/vsla-engine/registry"
	"github.com/warp/vsla-engine/session"
	"github.com/warp/vsla-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Ledger    *ledger.Ledger
	Loans     *loans.Service
	Schedules cache.Schedules
	Matrix    *access.Matrix

	// Sessions mints tokens for dev login. Nil disables the endpoint.
	Sessions *session.Codec

	Log zerolog.Logger
	Now func() time.Time

	// Track the currently loaded demo scenario
	currentScenario string
}

// NewHandler wires a handler over a single sqlite store.
func NewHandler(store *sqlite.Store, l *ledger.Ledger, svc *loans.Service, log zerolog.Logger) *Handler {
	return &Handler{
		Store:  store,
		Ledger: l,
		Loans:  svc,
		Matrix: access.Default(),
		Log:    log,
		Now:    time.Now,
	}
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// principal returns the caller. Routes are always behind Authenticate, so a
// missing principal is reported as 401 rather than trusted.
func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (access.Principal, bool) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Authentication required", nil)
	}
	return p, ok
}

// scopedGroup loads the group named in the URL and checks the caller may see it.
func (h *Handler) scopedGroup(w http.ResponseWriter, r *http.Request) (*registry.Group, access.Principal, bool) {
	p, ok := h.principal(w, r)
	if !ok {
		return nil, p, false
	}
	g, ok := h.groupInScope(w, r.Context(), p, chi.URLParam(r, "groupID"))
	return g, p, ok
}

func (h *Handler) groupInScope(w http.ResponseWriter, ctx context.Context, p access.Principal, groupID string) (*registry.Group, bool) {
	g, err := h.Store.GetGroup(ctx, groupID)
	if err != nil {
		writeDomainError(w, h.Log, "Failed to get group", err)
		return nil, false
	}
	if g == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "Group not found", nil)
		return nil, false
	}
	if !inScope(p, *g) {
		writeError(w, http.StatusForbidden, CodeForbidden, "Group is outside your scope", nil)
		return nil, false
	}
	return g, true
}

// =============================================================================
// SESSION
// =============================================================================

// DevLogin issues a token for the described session.
// POST /api/auth/dev-login
func (h *Handler) DevLogin(w http.ResponseWriter, r *http.Request) {
	if h.Sessions == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "Dev login is disabled", nil)
		return
	}
	var req DevLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}

	var s access.Session
	switch req.Kind {
	case access.KindStaff:
		s = access.StaffSession{UserID: req.UserID, Name: req.Name, Email: req.Email, Role: req.Role}
	case access.KindMember:
		s = access.MemberSession{MemberID: req.MemberID, GroupID: req.GroupID, Name: req.Name, Role: req.Role}
	default:
		badRequest(w, "kind must be staff or member", nil)
		return
	}

	token, expires, err := h.Sessions.Issue(s)
	if err != nil {
		badRequest(w, "Cannot issue a token for this session", err)
		return
	}
	h.Log.Warn().Str("kind", string(req.Kind)).Str("role", string(req.Role)).Msg("dev login token issued")
	writeJSON(w, http.StatusOK, TokenResponse{Token: token, ExpiresAt: formatTime(expires)})
}

// Me describes the caller.
// GET /api/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	perms, err := h.Matrix.Permissions(p.Role)
	if err != nil {
		writeDomainError(w, h.Log, "Failed to resolve permissions", err)
		return
	}
	routes, err := h.Matrix.VisibleRoutes(p.Role, access.NavigationRoutes)
	if err != nil {
		writeDomainError(w, h.Log, "Failed to resolve navigation", err)
		return
	}
	writeJSON(w, http.StatusOK, MeDTO{
		Kind:        p.Kind,
		Role:        p.Role,
		Tier:        p.Tier,
		SubjectID:   p.SubjectID,
		GroupID:     p.GroupID,
		Name:        p.Name,
		Permissions: perms,
		Routes:      routes,
	})
}

// Navigation returns the menu entries the caller may see.
// GET /api/navigation
func (h *Handler) Navigation(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	routes, err := h.Matrix.VisibleRoutes(p.Role, access.NavigationRoutes)
	if err != nil {
		writeDomainError(w, h.Log, "Failed to resolve navigation", err)
		return
	}
	writeJSON(w, http.StatusOK, routes)
}

// =============================================================================
// GROUP HANDLERS
// =============================================================================

// ListGroups returns the groups in the caller's scope.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	groups, err := h.Store.ListGroups(r.Context(), registry.Scope(p))
	if err != nil {
		writeDomainError(w, h.Log, "Failed to list groups", err)
		return
	}

	dtos := make([]GroupDTO, len(groups))
	for i, g := range groups {
		dtos[i] = toGroupDTO(g)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateGroup creates a group. The caller is recorded as enroller.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req CreateGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}

	g := registry.Group{
		ID:              req.ID,
		Name:            strings.TrimSpace(req.Name),
		Location:        req.Location,
		Currency:        strings.ToUpper(req.Currency),
		LoanRatePercent: req.LoanRatePercent,
		ShareValue:      req.ShareValue,
		MeetingDay:      req.MeetingDay,
		FieldOfficerID:  req.FieldOfficerID,
		EnrolledBy:      p.SubjectID,
		CreatedAt:       h.Now().UTC(),
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if err := g.Validate(); err != nil {
		badRequest(w, "Invalid group", err)
		return
	}
	if err := h.Store.CreateGroup(r.Context(), g); err != nil {
		writeDomainError(w, h.Log, "Failed to create group", err)
		return
	}

	h.Log.Info().Str("group_id", g.ID).Str("enrolled_by", g.EnrolledBy).Msg("group created")
	writeJSON(w, http.StatusCreated, toGroupDTO(g))
}

// GetGroup returns a single group.
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, _, ok := h.scopedGroup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(*g))
}

// GetGroupBalance returns the group's cash position.
// GET /api/groups/{groupID}/balance?as_of=2025-03-10
func (h *Handler) GetGroupBalance(w http.ResponseWriter, r *http.Request) {
	g, _, ok := h.scopedGroup(w, r)
	if !ok {
		return
	}

	var asOf time.Time
	if s := r.URL.Query().Get("as_of"); s != "" {
		t, err := parseEffectiveAt(s, h.Now())
		if err != nil {
			badRequest(w, "Invalid as_of (use RFC 3339 or YYYY-MM-DD)", err)
			return
		}
		// A bare date includes the whole day.
		if len(s) == len("2006-01-02") {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		asOf = t
	}

	bal, err := h.Ledger.GroupBalance(r.Context(), g.ID, g.Currency, asOf)
	if err != nil {
		writeDomainError(w, h.Log, "Failed to compute balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupBalanceDTO(bal, g.Currency, asOf))
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// ListMembers returns every member of the group.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	g, _, ok := h.scopedGroup(w, r)
	if !ok {
		return
	}
	members, err := h.Store.ListMembers(r.Context(), g.ID)
	if err != nil {
		writeDomainError(w, h.Log, "Failed to list members", err)
		return
	}

	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateMember registers a member in the group.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	g, _, ok := h.scopedGroup(w, r)
	if !ok {
		return
	}
	var req CreateMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}

	m := registry.Member{
		ID:       req.ID,
		GroupID:  g.ID,
		Name:     strings.TrimSpace(req.Name),
		Phone:    req.Phone,
		Role:     req.Role,
		JoinedAt: h.Now().UTC(),
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Role == "" {
		m.Role = access.RoleMember
	}
	if err := m.Validate(); err != nil {
		badRequest(w, "Invalid member", err)
		return
	}
	if err := h.Store.CreateMember(r.Context(), m); err != nil {
		writeDomainError(w, h.Log, "Failed to register member", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberDTO(m))
}

// scopedMember loads the member named in the URL and checks they belong to
// the URL's group.
func (h *Handler) scopedMember(w http.ResponseWriter, r *http.Request) (*registry.Group, *registry.Member, bool) {
	g, _, ok := h.scopedGroup(w, r)
	if !ok {
		return nil, nil, false
	}
	m, err := h.Store.GetMember(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		writeDomainError(w, h.Log, "Failed to get member", err)
		return nil, nil, false
	}
	if m == nil || m.GroupID != g.ID {
		writeError(w, http.StatusNotFound, CodeNotFound, "Member not found", nil)
		return nil, nil, false
	}
	return g, m, true
}

// GetMember returns a single member.
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	_, m, ok := h.scopedMember(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(*m))
}

// GetMemberBalance returns a member's savings, contributions and loans.
func (h *Handler) GetMemberBalance(w http.ResponseWriter, r *http.Request) {
	g, m, ok := h.scopedMember(w, r)
	if !ok {
		return
	}
	bal, err := h.Ledger.MemberBalance(r.Context(), g.ID, m.ID, g.Currency)
	if err != nil {
		writeDomainError(w, h.Log, "Failed to compute balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberBalanceDTO(bal, g.Currency))
}

// =============================================================================
// MEETING HANDLERS
// =============================================================================

// ListMeetings returns meetings from ?from= (default today) onward.
func (h *Handler) ListMeetings(w http.ResponseWriter, r *http.Request) {
	g, _, ok := h.scopedGroup(w, r)
	if !ok {
		return
	}
	now := h.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if s := r.URL.Query().Get("from"); s != "" {
		t, err := parseEffectiveAt(s, now)
		if err != nil {
			badRequest(w, "Invalid from (use RFC 3339 or YYYY-MM-DD)", err)
			return
		}
		from = t
	}

	meetings, err := h.Store.ListMeetings(r.Context(), g.ID, from)
	if err != nil {
		writeDomainError(w, h.Log, "Failed to list meetings", err)
		return
	}
	dtos := make([]MeetingDTO, len(meetings))
	for i, m := range meetings {
		dtos[i] = toMeetingDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ScheduleMeeting records a meeting for the group.
func (h *Handler) ScheduleMeeting(w http.ResponseWriter, r *http.Request) {
	g, p, ok := h.scopedGroup(w, r)
	if !ok {
		return
	}
	var req ScheduleMeetingRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}
	at, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		badRequest(w, "Invalid scheduled_at (use RFC 3339)", err)
		return
	}

	m := registry.Meeting{
		ID:          uuid.NewString(),
		GroupID:     g.ID,
		ScheduledAt: at.UTC(),
		Location:    req.Location,
		Agenda:      req.Agenda,
		ScheduledBy: p.SubjectID,
		CreatedAt:   h.Now().UTC(),
	}
	if err := m.Validate(); err != nil {
		badRequest(w, "Invalid meeting", err)
		return
	}
	if err := h.Store.CreateMeeting(r.Context(), m); err != nil {
		writeDomainError(w, h.Log, "Failed to schedule meeting", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMeetingDTO(m))
}

// =============================================================================
// STAFF USER HANDLERS
// =============================================================================

// ListStaffUsers returns every staff account.
func (h *Handler) ListStaffUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListStaffUsers(r.Context())
	if err != nil {
		writeDomainError(w, h.Log, "Failed to list users", err)
		return
	}
	dtos := make([]StaffUserDTO, len(users))
	for i, u := range users {
		dtos[i] = toStaffUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateStaffUser creates an admin or field staff account.
func (h *Handler) CreateStaffUser(w http.ResponseWriter, r *http.Request) {
	var req CreateStaffUserRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}
	u := registry.StaffUser{
		ID:        req.ID,
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Role:      req.Role,
		Active:    true,
		CreatedAt: h.Now().UTC(),
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if err := u.Validate(); err != nil {
		badRequest(w, "Invalid user", err)
		return
	}
	if err := h.Store.CreateStaffUser(r.Context(), u); err != nil {
		writeDomainError(w, h.Log, "Failed to create user", err)
		return
	}
	h.Log.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Msg("staff user created")
	writeJSON(w, http.StatusCreated, toStaffUserDTO(u))
}

// =============================================================================
// REPORTS
// =============================================================================

const recentActivityLimit = 20

// PortfolioReport summarises every group: balances, loan book and arrears.
// GET /api/reports/portfolio
func (h *Handler) PortfolioReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.Now().UTC()

	groups, err := h.Store.ListGroups(ctx, registry.GroupFilter{})
	if err != nil {
		writeDomainError(w, h.Log, "Failed to list groups", err)
		return
	}

	report := PortfolioReportDTO{
		GeneratedAt:    formatTime(now),
		Groups:         len(groups),
		LoansByStatus:  map[string]int{},
		GroupBalances:  make([]GroupBalanceDTO, 0, len(groups)),
		LoansInArrears: []LoanPositionDTO{},
	}

	for _, g := range groups {
		members, err := h.Store.ListMembers(ctx, g.ID)
		if err != nil {
			writeDomainError(w, h.Log, "Failed to list members", err)
			return
		}
		report.Members += len(members)

		bal, err := h.Ledger.GroupBalance(ctx, g.ID, g.Currency, time.Time{})
		if err != nil {
			writeDomainError(w, h.Log, "Failed to compute balance", err)
			return
		}
		report.GroupBalances = append(report.GroupBalances, toGroupBalanceDTO(bal, g.Currency, time.Time{}))
	}

	all, err := h.Loans.Loans.ListLoans(ctx, loans.Filter{})
	if err != nil {
		writeDomainError(w, h.Log, "Failed to list loans", err)
		return
	}
	for _, l := range all {
		report.LoansByStatus[string(l.Status)]++
		if l.Status != loans.StatusInArrears {
			continue
		}
		pos, err := h.Loans.Position(ctx, l.ID, now)
		if err != nil {
			writeDomainError(w, h.Log, "Failed to compute loan position", err)
			return
		}
		report.LoansInArrears = append(report.LoansInArrears, toLoanPositionDTO(pos))
	}
	sort.Slice(report.LoansInArrears, func(i, j int) bool {
		return report.LoansInArrears[i].Arrears.GreaterThan(report.LoansInArrears[j].Arrears)
	})

	recent, err := h.Store.RecentTransactions(ctx, recentActivityLimit)
	if err != nil {
		writeDomainError(w, h.Log, "Failed to load recent activity", err)
		return
	}
	report.RecentActivity = toTransactionDTOs(recent)

	writeJSON(w, http.StatusOK, report)
}
