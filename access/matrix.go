package access

import "sort"

// =============================================================================
// ACTIONS
// =============================================================================

// Action is a named capability.
type Action string

const (
	ActionViewGroups        Action = "view-groups"
	ActionEditGroups        Action = "edit-groups"
	ActionEnrollGroup       Action = "enroll-group"
	ActionViewMembers       Action = "view-members"
	ActionEditMembers       Action = "edit-members"
	ActionViewTransactions  Action = "view-transactions"
	ActionSubmitSavings     Action = "submit-savings"
	ActionSubmitLoanPayment Action = "submit-loan-payment"
	ActionSubmitLoan        Action = "submit-loan"
	ActionViewLoans         Action = "view-loans"
	ActionApproveLoan       Action = "approve-loan"
	ActionReverseTx         Action = "reverse-transaction"
	ActionLoanCalculator    Action = "loan-calculator"
	ActionViewMeetings      Action = "view-meetings"
	ActionScheduleMeeting   Action = "schedule-meeting"
	ActionManageUsers       Action = "manage-users"
	ActionViewReports       Action = "view-reports"
)

var allActions = []Action{
	ActionViewGroups,
	ActionEditGroups,
	ActionEnrollGroup,
	ActionViewMembers,
	ActionEditMembers,
	ActionViewTransactions,
	ActionSubmitSavings,
	ActionSubmitLoanPayment,
	ActionSubmitLoan,
	ActionViewLoans,
	ActionApproveLoan,
	ActionReverseTx,
	ActionLoanCalculator,
	ActionViewMeetings,
	ActionScheduleMeeting,
	ActionManageUsers,
	ActionViewReports,
}

// Actions returns every defined action.
func Actions() []Action { return append([]Action(nil), allActions...) }

// IsDefined reports whether a is a recognised action.
func (a Action) IsDefined() bool {
	for _, known := range allActions {
		if known == a {
			return true
		}
	}
	return false
}

// =============================================================================
// MATRIX
// =============================================================================

// Matrix maps every role to the set of actions it holds.
// It is total over Roles(): a role with no capabilities has an empty set,
// never a missing entry.
type Matrix struct {
	grants map[Role]map[Action]struct{}
}

// field staff and group leaders share everything a member can see plus the
// submit paths. Field staff also enroll new groups; only admin edits groups,
// manages users and reads reports.
var (
	memberGrants = []Action{
		ActionViewGroups,
		ActionViewMembers,
		ActionViewTransactions,
		ActionViewLoans,
		ActionLoanCalculator,
		ActionViewMeetings,
	}

	submitGrants = []Action{
		ActionEditMembers,
		ActionSubmitSavings,
		ActionSubmitLoanPayment,
		ActionSubmitLoan,
		ActionScheduleMeeting,
	}

	canonical = map[Role][]Action{
		RoleAdmin:          allActions,
		RoleFieldMonitor:   concat(memberGrants, submitGrants, []Action{ActionEnrollGroup}),
		RoleFieldAttendant: concat(memberGrants, submitGrants, []Action{ActionEnrollGroup}),
		RoleChairman:       concat(memberGrants, submitGrants, []Action{ActionApproveLoan}),
		RoleSecretary:      concat(memberGrants, submitGrants),
		RoleFinance:        concat(memberGrants, submitGrants, []Action{ActionApproveLoan}),
		RoleMember:         memberGrants,
	}

	defaultMatrix = mustMatrix(canonical)
)

// Default returns the canonical VSLA matrix.
func Default() *Matrix { return defaultMatrix }

// NewMatrix builds a matrix from a role -> actions table. Every defined role
// must be present and every action must be defined.
func NewMatrix(table map[Role][]Action) (*Matrix, error) {
	m := &Matrix{grants: make(map[Role]map[Action]struct{}, len(table))}
	for _, role := range Roles() {
		actions, ok := table[role]
		if !ok {
			return nil, &IncompleteMatrixError{Role: role}
		}
		set := make(map[Action]struct{}, len(actions))
		for _, a := range actions {
			if !a.IsDefined() {
				return nil, &UnknownActionError{Action: a}
			}
			set[a] = struct{}{}
		}
		m.grants[role] = set
	}
	return m, nil
}

func mustMatrix(table map[Role][]Action) *Matrix {
	m, err := NewMatrix(table)
	if err != nil {
		panic(err)
	}
	return m
}

// IsPermitted is a pure lookup. Undefined actions return UnknownActionError;
// undefined roles return ErrUnauthenticated.
func (m *Matrix) IsPermitted(role Role, action Action) (bool, error) {
	if !action.IsDefined() {
		return false, &UnknownActionError{Action: action}
	}
	set, ok := m.grants[role]
	if !ok {
		return false, ErrUnauthenticated
	}
	_, granted := set[action]
	return granted, nil
}

// Permissions returns the sorted action set for a role.
func (m *Matrix) Permissions(role Role) ([]Action, error) {
	set, ok := m.grants[role]
	if !ok {
		return nil, ErrUnauthenticated
	}
	out := make([]Action, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// IsPermitted consults the default matrix.
func IsPermitted(role Role, action Action) (bool, error) {
	return defaultMatrix.IsPermitted(role, action)
}

func concat(groups ...[]Action) []Action {
	var out []Action
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
