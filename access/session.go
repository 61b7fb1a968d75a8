package access

// =============================================================================
// SESSION - closed union of what a caller can present
// =============================================================================

// Session is one of StaffSession, MemberSession or NoSession.
// The unexported method keeps the set closed to this package.
type Session interface {
	session()
}

// StaffSession is issued to admin and field staff.
type StaffSession struct {
	UserID string
	Name   string
	Email  string
	Role   Role
}

// MemberSession is issued to a member of a VSLA group.
type MemberSession struct {
	MemberID string
	GroupID  string
	Name     string
	Role     Role
}

// NoSession is the explicit absence of a session.
type NoSession struct{}

func (StaffSession) session()  {}
func (MemberSession) session() {}
func (NoSession) session()     {}

// =============================================================================
// PRINCIPAL
// =============================================================================

// Principal is a classified session subject. Role never changes for the
// lifetime of the session it came from.
type Principal struct {
	Kind      Kind
	Role      Role
	Tier      Tier
	SubjectID string
	GroupID   string // member principals only
	Name      string
}

// ClassifyPrincipal derives the principal from a session payload.
func ClassifyPrincipal(s Session) (Principal, error) {
	switch sess := s.(type) {
	case StaffSession:
		return classify(KindStaff, sess.Role, sess.UserID, "", sess.Name)
	case *StaffSession:
		if sess == nil {
			return Principal{}, ErrUnauthenticated
		}
		return classify(KindStaff, sess.Role, sess.UserID, "", sess.Name)
	case MemberSession:
		return classifyMember(sess)
	case *MemberSession:
		if sess == nil {
			return Principal{}, ErrUnauthenticated
		}
		return classifyMember(*sess)
	default:
		// NoSession, nil
		return Principal{}, ErrUnauthenticated
	}
}

func classifyMember(sess MemberSession) (Principal, error) {
	if sess.GroupID == "" {
		return Principal{}, &MalformedSessionError{Kind: KindMember, Reason: "missing group"}
	}
	return classify(KindMember, sess.Role, sess.MemberID, sess.GroupID, sess.Name)
}

func classify(kind Kind, role Role, subject, group, name string) (Principal, error) {
	if role == "" {
		return Principal{}, &MalformedSessionError{Kind: kind, Reason: "missing role"}
	}
	roleKind, ok := KindOf(role)
	if !ok {
		return Principal{}, &MalformedSessionError{Kind: kind, Reason: "unknown role " + string(role)}
	}
	if roleKind != kind {
		return Principal{}, &MalformedSessionError{Kind: kind, Reason: "role " + string(role) + " is not a " + string(kind) + " role"}
	}
	tier, _ := RoleGroup(role)
	return Principal{
		Kind:      kind,
		Role:      role,
		Tier:      tier,
		SubjectID: subject,
		GroupID:   group,
		Name:      name,
	}, nil
}

// Can asks the default matrix whether the principal holds action.
func (p Principal) Can(action Action) (bool, error) {
	return defaultMatrix.IsPermitted(p.Role, action)
}

// InGroup reports whether a member principal belongs to groupID.
// Staff principals are never "in" a group; their scoping is by assignment.
func (p Principal) InGroup(groupID string) bool {
	return p.Kind == KindMember && p.GroupID == groupID
}
