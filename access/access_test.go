package access

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// MATRIX
// =============================================================================

func TestMatrix_IsTotal(t *testing.T) {
	m := Default()
	for _, role := range Roles() {
		perms, err := m.Permissions(role)
		require.NoError(t, err, "role %s must have an entry", role)
		assert.NotNil(t, perms)
	}
}

func TestMatrix_AdminHoldsEveryAction(t *testing.T) {
	for _, a := range Actions() {
		ok, err := IsPermitted(RoleAdmin, a)
		require.NoError(t, err)
		assert.True(t, ok, "admin should hold %s", a)
	}
}

func TestMatrix_CanonicalGroupings(t *testing.T) {
	tests := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleMember, ActionEditMembers, false},
		{RoleMember, ActionViewMembers, true},
		{RoleMember, ActionSubmitSavings, false},
		{RoleMember, ActionSubmitLoan, false},
		{RoleMember, ActionSubmitLoanPayment, false},
		{RoleMember, ActionScheduleMeeting, false},
		{RoleChairman, ActionSubmitSavings, true},
		{RoleChairman, ActionEditMembers, true},
		{RoleSecretary, ActionSubmitLoan, true},
		{RoleFinance, ActionSubmitLoanPayment, true},
		{RoleChairman, ActionManageUsers, false},
		{RoleFieldMonitor, ActionViewGroups, true},
		{RoleFieldMonitor, ActionSubmitSavings, true},
		{RoleFieldAttendant, ActionSubmitLoan, true},
		{RoleFieldMonitor, ActionManageUsers, false},
		{RoleFieldAttendant, ActionViewReports, false},
		{RoleFieldMonitor, ActionEditGroups, false},
		{RoleFieldMonitor, ActionEnrollGroup, true},
		{RoleFieldAttendant, ActionEnrollGroup, true},
		{RoleChairman, ActionEnrollGroup, false},
		{RoleMember, ActionEnrollGroup, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.action), func(t *testing.T) {
			got, err := IsPermitted(tt.role, tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatrix_RegularMemberHasNoWriteActions(t *testing.T) {
	perms, err := Default().Permissions(RoleMember)
	require.NoError(t, err)
	for _, a := range perms {
		assert.NotContains(t, []Action{
			ActionEditGroups, ActionEnrollGroup, ActionEditMembers, ActionSubmitSavings,
			ActionSubmitLoanPayment, ActionSubmitLoan, ActionApproveLoan,
			ActionReverseTx, ActionScheduleMeeting, ActionManageUsers,
		}, a)
	}
}

func TestMatrix_UnknownAction(t *testing.T) {
	ok, err := IsPermitted(RoleMember, "not-a-real-action")

	assert.False(t, ok)
	var unknown *UnknownActionError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, Action("not-a-real-action"), unknown.Action)
	assert.True(t, errors.Is(err, ErrUnknownAction))
}

func TestMatrix_UnknownRoleIsUnauthenticated(t *testing.T) {
	ok, err := IsPermitted("treasurer", ActionViewGroups)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestNewMatrix_RejectsMissingRole(t *testing.T) {
	table := map[Role][]Action{}
	for _, r := range Roles() {
		table[r] = nil
	}
	delete(table, RoleFinance)

	_, err := NewMatrix(table)
	var incomplete *IncompleteMatrixError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, RoleFinance, incomplete.Role)
}

func TestNewMatrix_EmptyEntryDeniesEverything(t *testing.T) {
	table := map[Role][]Action{}
	for _, r := range Roles() {
		table[r] = nil
	}
	m, err := NewMatrix(table)
	require.NoError(t, err)

	ok, err := m.IsPermitted(RoleAdmin, ActionViewGroups)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewMatrix_RejectsUndefinedAction(t *testing.T) {
	table := map[Role][]Action{}
	for _, r := range Roles() {
		table[r] = nil
	}
	table[RoleMember] = []Action{"view-everything"}

	_, err := NewMatrix(table)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

// =============================================================================
// TIERS
// =============================================================================

func TestRoleGroup(t *testing.T) {
	tests := []struct {
		role Role
		want Tier
	}{
		{RoleAdmin, TierAdmin},
		{RoleFieldMonitor, TierField},
		{RoleFieldAttendant, TierField},
		{RoleChairman, TierGroupLeader},
		{RoleSecretary, TierGroupLeader},
		{RoleFinance, TierGroupLeader},
		{RoleMember, TierRegularMember},
	}
	for _, tt := range tests {
		got, ok := RoleGroup(tt.role)
		assert.True(t, ok)
		assert.Equal(t, tt.want, got, "role %s", tt.role)
	}

	_, ok := RoleGroup("")
	assert.False(t, ok)
	assert.True(t, TierField.IsStaff())
	assert.True(t, TierGroupLeader.IsMember())
	assert.False(t, TierAdmin.IsMember())
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

func TestClassifyPrincipal_Staff(t *testing.T) {
	p, err := ClassifyPrincipal(StaffSession{Role: RoleFieldMonitor})
	require.NoError(t, err)

	assert.Equal(t, KindStaff, p.Kind)
	assert.Equal(t, RoleFieldMonitor, p.Role)
	assert.Equal(t, TierField, p.Tier)
}

func TestClassifyPrincipal_Member(t *testing.T) {
	p, err := ClassifyPrincipal(&MemberSession{MemberID: "m-1", GroupID: "g-1", Role: RoleChairman})
	require.NoError(t, err)

	assert.Equal(t, KindMember, p.Kind)
	assert.Equal(t, TierGroupLeader, p.Tier)
	assert.True(t, p.InGroup("g-1"))
	assert.False(t, p.InGroup("g-2"))
}

func TestClassifyPrincipal_Unauthenticated(t *testing.T) {
	var nilStaff *StaffSession
	cases := map[string]Session{
		"none":               NoSession{},
		"nil":                nil,
		"nil pointer":        nilStaff,
		"staff missing role": StaffSession{UserID: "u-1"},
		"member missing role": MemberSession{
			MemberID: "m-1", GroupID: "g-1",
		},
		"member with staff role": MemberSession{
			MemberID: "m-1", GroupID: "g-1", Role: RoleAdmin,
		},
		"staff with member role": StaffSession{UserID: "u-1", Role: RoleChairman},
		"unknown role":           StaffSession{UserID: "u-1", Role: "superuser"},
		"member without group":   MemberSession{MemberID: "m-1", Role: RoleMember},
	}

	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ClassifyPrincipal(s)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

// =============================================================================
// ROUTES
// =============================================================================

func TestVisibleRoutes_FieldMonitorExcludesUserManagement(t *testing.T) {
	groups := Route{Name: "groups", Path: "/groups", Action: ActionViewGroups}
	users := Route{Name: "user-management", Path: "/users", Action: ActionManageUsers}

	got, err := VisibleRoutes(RoleFieldMonitor, []Route{groups, users})
	require.NoError(t, err)
	assert.Equal(t, []Route{groups}, got)
}

func TestVisibleRoutes_PreservesOrderAndTiers(t *testing.T) {
	got, err := VisibleRoutes(RoleMember, NavigationRoutes)
	require.NoError(t, err)

	var names []string
	for _, r := range got {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"dashboard", "groups", "members", "loans", "loan-calculator", "meetings", "my-group"}, names)

	got, err = VisibleRoutes(RoleAdmin, NavigationRoutes)
	require.NoError(t, err)
	assert.Len(t, got, len(NavigationRoutes)-1, "my-group is member-tier only")
}

func TestVisibleRoutes_UnknownActionFails(t *testing.T) {
	_, err := VisibleRoutes(RoleAdmin, []Route{{Name: "x", Action: "view-grups"}})
	assert.ErrorIs(t, err, ErrUnknownAction)
}
