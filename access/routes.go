package access

// Route is a navigation target. It is visible when the role holds Action
// (if set) and the role's tier is one of Tiers (if any are listed).
type Route struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Label  string `json:"label"`
	Action Action `json:"action,omitempty"`
	Tiers  []Tier `json:"tiers,omitempty"`
}

// VisibleRoutes filters routes down to what role may see, preserving order.
// A route naming an undefined action fails the whole call so the typo is
// found by whoever builds the menu.
func (m *Matrix) VisibleRoutes(role Role, routes []Route) ([]Route, error) {
	tier, ok := RoleGroup(role)
	if !ok {
		return nil, ErrUnauthenticated
	}

	visible := make([]Route, 0, len(routes))
	for _, r := range routes {
		if r.Action != "" {
			allowed, err := m.IsPermitted(role, r.Action)
			if err != nil {
				return nil, err
			}
			if !allowed {
				continue
			}
		}
		if len(r.Tiers) > 0 && !containsTier(r.Tiers, tier) {
			continue
		}
		visible = append(visible, r)
	}
	return visible, nil
}

// VisibleRoutes consults the default matrix.
func VisibleRoutes(role Role, routes []Route) ([]Route, error) {
	return defaultMatrix.VisibleRoutes(role, routes)
}

func containsTier(tiers []Tier, t Tier) bool {
	for _, x := range tiers {
		if x == t {
			return true
		}
	}
	return false
}

// NavigationRoutes is the dashboard menu the web client renders.
var NavigationRoutes = []Route{
	{Name: "dashboard", Path: "/dashboard", Label: "Dashboard"},
	{Name: "groups", Path: "/groups", Label: "Groups", Action: ActionViewGroups},
	{Name: "members", Path: "/members", Label: "Members", Action: ActionViewMembers},
	{Name: "savings", Path: "/savings", Label: "Record Savings", Action: ActionSubmitSavings},
	{Name: "loan-payments", Path: "/loan-payments", Label: "Loan Payments", Action: ActionSubmitLoanPayment},
	{Name: "loans", Path: "/loans", Label: "Loans", Action: ActionViewLoans},
	{Name: "loan-calculator", Path: "/loan-calculator", Label: "Loan Calculator", Action: ActionLoanCalculator},
	{Name: "meetings", Path: "/meetings", Label: "Meetings", Action: ActionViewMeetings},
	{Name: "my-group", Path: "/my-group", Label: "My Group", Tiers: []Tier{TierGroupLeader, TierRegularMember}},
	{Name: "user-management", Path: "/users", Label: "User Management", Action: ActionManageUsers},
	{Name: "reports", Path: "/reports", Label: "Reports", Action: ActionViewReports},
}
