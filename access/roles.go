/*
Package access classifies sessions into principals and answers what each
role may do.

PURPOSE:
  Every screen and endpoint in the VSLA system asks the same two questions:
  "who is this?" and "may they do X?". This package is the only place those
  answers come from. Callers pass the current session on every call; no role
  is cached between calls.

ROLES:
  Staff:   admin, field_monitor, field_attendant
  Members: chairman, secretary, finance, member

TIERS (coarse grouping used for UI gating):
  admin          - admin
  field          - field_monitor, field_attendant
  group_leader   - chairman, secretary, finance
  regular_member - member

ERRORS:
  ErrUnauthenticated   - no usable session (none, nil, missing or foreign role)
  UnknownActionError   - the caller asked about an action the matrix does not define

  Consumers must treat both as "deny".

SEE ALSO:
  - matrix.go: Role -> action table
  - session.go: Session union and ClassifyPrincipal
  - routes.go: VisibleRoutes
*/
package access

// =============================================================================
// KINDS AND ROLES
// =============================================================================

// Kind discriminates staff principals from group-member principals.
type Kind string

const (
	KindStaff  Kind = "staff"
	KindMember Kind = "member"
)

// Role is drawn from a closed set. A principal holds exactly one.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleFieldMonitor   Role = "field_monitor"
	RoleFieldAttendant Role = "field_attendant"

	RoleChairman  Role = "chairman"
	RoleSecretary Role = "secretary"
	RoleFinance   Role = "finance"
	RoleMember    Role = "member"
)

var (
	staffRoles  = []Role{RoleAdmin, RoleFieldMonitor, RoleFieldAttendant}
	memberRoles = []Role{RoleChairman, RoleSecretary, RoleFinance, RoleMember}
)

// StaffRoles returns the roles a staff session may carry.
func StaffRoles() []Role { return append([]Role(nil), staffRoles...) }

// MemberRoles returns the roles a group-member session may carry.
func MemberRoles() []Role { return append([]Role(nil), memberRoles...) }

// Roles returns every defined role, staff first.
func Roles() []Role { return append(StaffRoles(), memberRoles...) }

// KindOf returns which session kind a role belongs to.
func KindOf(r Role) (Kind, bool) {
	for _, s := range staffRoles {
		if s == r {
			return KindStaff, true
		}
	}
	for _, m := range memberRoles {
		if m == r {
			return KindMember, true
		}
	}
	return "", false
}

// IsValid reports whether r is one of the defined roles.
func (r Role) IsValid() bool {
	_, ok := KindOf(r)
	return ok
}

// =============================================================================
// TIERS
// =============================================================================

// Tier is the coarse grouping screens gate on.
type Tier string

const (
	TierAdmin         Tier = "admin"
	TierField         Tier = "field"
	TierGroupLeader   Tier = "group_leader"
	TierRegularMember Tier = "regular_member"
)

// RoleGroup maps a role to its tier. ok is false for undefined roles.
func RoleGroup(r Role) (tier Tier, ok bool) {
	switch r {
	case RoleAdmin:
		return TierAdmin, true
	case RoleFieldMonitor, RoleFieldAttendant:
		return TierField, true
	case RoleChairman, RoleSecretary, RoleFinance:
		return TierGroupLeader, true
	case RoleMember:
		return TierRegularMember, true
	}
	return "", false
}

// IsStaff reports whether the tier belongs to staff.
func (t Tier) IsStaff() bool { return t == TierAdmin || t == TierField }

// IsMember reports whether the tier belongs to group members.
func (t Tier) IsMember() bool { return t == TierGroupLeader || t == TierRegularMember }
