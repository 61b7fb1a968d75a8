/*
Package registry holds the non-monetary records of a VSLA programme: groups,
their members, the staff who support them, and group meetings.

SCOPING:
  Who may see a group depends on the viewer's tier:
    admin          - every group
    field          - groups they enrolled or are assigned to as field officer
    group_leader   - their own group
    regular_member - their own group
  Scope turns a classified principal into a GroupFilter that stores apply.

SEE ALSO:
  - access/session.go: Principal
  - store/sqlite/sqlite.go: persistence
*/
package registry

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/vsla-engine/access"
)

// =============================================================================
// RECORDS
// =============================================================================

type Group struct {
	ID       string
	Name     string
	Location string
	Currency string

	// LoanRatePercent is the annual rate the group charges on loans.
	// Invalid means the group has not set one.
	LoanRatePercent decimal.NullDecimal
	ShareValue      decimal.Decimal
	MeetingDay      string

	FieldOfficerID string
	EnrolledBy     string
	CreatedAt      time.Time
}

type Member struct {
	ID       string
	GroupID  string
	Name     string
	Phone    string
	Role     access.Role
	JoinedAt time.Time
}

type StaffUser struct {
	ID        string
	Name      string
	Email     string
	Role      access.Role
	Active    bool
	CreatedAt time.Time
}

type Meeting struct {
	ID          string
	GroupID     string
	ScheduledAt time.Time
	Location    string
	Agenda      string
	ScheduledBy string
	CreatedAt   time.Time
}

// =============================================================================
// STORE
// =============================================================================

// GroupFilter narrows ListGroups. Empty fields match everything.
type GroupFilter struct {
	GroupID string
	// StaffID matches groups whose field officer or enroller is StaffID.
	StaffID string
	// None matches nothing; set for principals that may see no group.
	None bool
}

// Store persists registry records. Get methods return nil, nil when absent.
type Store interface {
	CreateGroup(ctx context.Context, g Group) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	ListGroups(ctx context.Context, f GroupFilter) ([]Group, error)

	CreateMember(ctx context.Context, m Member) error
	GetMember(ctx context.Context, id string) (*Member, error)
	ListMembers(ctx context.Context, groupID string) ([]Member, error)

	CreateStaffUser(ctx context.Context, u StaffUser) error
	GetStaffUser(ctx context.Context, id string) (*StaffUser, error)
	ListStaffUsers(ctx context.Context) ([]StaffUser, error)

	CreateMeeting(ctx context.Context, m Meeting) error
	ListMeetings(ctx context.Context, groupID string, from time.Time) ([]Meeting, error)
}

// Scope returns the groups a principal may see.
func Scope(p access.Principal) GroupFilter {
	switch p.Tier {
	case access.TierAdmin:
		return GroupFilter{}
	case access.TierField:
		if p.SubjectID == "" {
			return GroupFilter{None: true}
		}
		return GroupFilter{StaffID: p.SubjectID}
	case access.TierGroupLeader, access.TierRegularMember:
		return GroupFilter{GroupID: p.GroupID}
	}
	return GroupFilter{None: true}
}

// Matches reports whether g passes the filter.
func (f GroupFilter) Matches(g Group) bool {
	if f.None {
		return false
	}
	if f.GroupID != "" && g.ID != f.GroupID {
		return false
	}
	if f.StaffID != "" && g.FieldOfficerID != f.StaffID && g.EnrolledBy != f.StaffID {
		return false
	}
	return true
}

// =============================================================================
// VALIDATION
// =============================================================================

func (g Group) Validate() error {
	switch {
	case strings.TrimSpace(g.Name) == "":
		return &ValidationError{Field: "name", Reason: "is required"}
	case len(g.Currency) != 3:
		return &ValidationError{Field: "currency", Reason: "must be an ISO 4217 code"}
	case g.LoanRatePercent.Valid && g.LoanRatePercent.Decimal.IsNegative():
		return &ValidationError{Field: "loan_rate_percent", Reason: "must not be negative"}
	case g.ShareValue.IsNegative():
		return &ValidationError{Field: "share_value", Reason: "must not be negative"}
	}
	return nil
}

func (m Member) Validate() error {
	switch {
	case m.GroupID == "":
		return &ValidationError{Field: "group_id", Reason: "is required"}
	case strings.TrimSpace(m.Name) == "":
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if kind, ok := access.KindOf(m.Role); !ok || kind != access.KindMember {
		return &ValidationError{Field: "role", Reason: "must be a member role"}
	}
	return nil
}

func (u StaffUser) Validate() error {
	switch {
	case strings.TrimSpace(u.Name) == "":
		return &ValidationError{Field: "name", Reason: "is required"}
	case !strings.Contains(u.Email, "@"):
		return &ValidationError{Field: "email", Reason: "is not an email address"}
	}
	if kind, ok := access.KindOf(u.Role); !ok || kind != access.KindStaff {
		return &ValidationError{Field: "role", Reason: "must be a staff role"}
	}
	return nil
}

func (m Meeting) Validate() error {
	switch {
	case m.GroupID == "":
		return &ValidationError{Field: "group_id", Reason: "is required"}
	case m.ScheduledAt.IsZero():
		return &ValidationError{Field: "scheduled_at", Reason: "is required"}
	}
	return nil
}
