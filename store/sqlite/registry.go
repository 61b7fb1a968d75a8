package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/vsla-engine/access"
	"github.com/warp/vsla-engine/registry"
)

// =============================================================================
// GROUPS
// =============================================================================

const groupColumns = `id, name, location, currency, loan_rate_percent, share_value,
	meeting_day, field_officer_id, enrolled_by, created_at`

func (s *Store) CreateGroup(ctx context.Context, g registry.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rate sql.NullString
	if g.LoanRatePercent.Valid {
		rate = sql.NullString{String: g.LoanRatePercent.Decimal.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO groups (`+groupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Name, nullString(g.Location), g.Currency, rate, g.ShareValue.String(),
		nullString(g.MeetingDay), nullString(g.FieldOfficerID), nullString(g.EnrolledBy),
		formatTime(orNow(g.CreatedAt)),
	)
	if isUniqueConstraintError(err) {
		return registry.ErrDuplicateRecord
	}
	return err
}

func (s *Store) GetGroup(ctx context.Context, id string) (*registry.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups, err := s.queryGroups(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = ?`, id)
	if err != nil || len(groups) == 0 {
		return nil, err
	}
	return &groups[0], nil
}

// ListGroups returns the groups that match f, ordered by name.
func (s *Store) ListGroups(ctx context.Context, f registry.GroupFilter) ([]registry.Group, error) {
	if f.None {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + groupColumns + ` FROM groups WHERE 1 = 1`
	var args []any
	if f.GroupID != "" {
		query += ` AND id = ?`
		args = append(args, f.GroupID)
	}
	if f.StaffID != "" {
		query += ` AND (field_officer_id = ? OR enrolled_by = ?)`
		args = append(args, f.StaffID, f.StaffID)
	}
	query += ` ORDER BY name`

	return s.queryGroups(ctx, query, args...)
}

func (s *Store) queryGroups(ctx context.Context, query string, args ...any) ([]registry.Group, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []registry.Group
	for rows.Next() {
		var (
			g                                          registry.Group
			location, rate, meetingDay, officer, enrol sql.NullString
			shareValue, createdAt                      string
		)
		if err := rows.Scan(&g.ID, &g.Name, &location, &g.Currency, &rate, &shareValue,
			&meetingDay, &officer, &enrol, &createdAt); err != nil {
			return nil, err
		}
		if rate.Valid {
			d, err := parseDecimal(rate.String)
			if err != nil {
				return nil, err
			}
			g.LoanRatePercent = decimal.NewNullDecimal(d)
		}
		if g.ShareValue, err = parseDecimal(shareValue); err != nil {
			return nil, err
		}
		g.Location = location.String
		g.MeetingDay = meetingDay.String
		g.FieldOfficerID = officer.String
		g.EnrolledBy = enrol.String
		g.CreatedAt = parseTime(createdAt)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// =============================================================================
// MEMBERS
// =============================================================================

func (s *Store) CreateMember(ctx context.Context, m registry.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, group_id, name, phone, role, joined_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.GroupID, m.Name, nullString(m.Phone), m.Role, formatTime(orNow(m.JoinedAt)),
	)
	if isUniqueConstraintError(err) {
		return registry.ErrDuplicateRecord
	}
	return err
}

func (s *Store) GetMember(ctx context.Context, id string) (*registry.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, err := s.queryMembers(ctx,
		`SELECT id, group_id, name, phone, role, joined_at FROM members WHERE id = ?`, id)
	if err != nil || len(members) == 0 {
		return nil, err
	}
	return &members[0], nil
}

func (s *Store) ListMembers(ctx context.Context, groupID string) ([]registry.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryMembers(ctx,
		`SELECT id, group_id, name, phone, role, joined_at FROM members WHERE group_id = ? ORDER BY name`,
		groupID)
}

func (s *Store) queryMembers(ctx context.Context, query string, args ...any) ([]registry.Member, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []registry.Member
	for rows.Next() {
		var (
			m        registry.Member
			phone    sql.NullString
			role     string
			joinedAt string
		)
		if err := rows.Scan(&m.ID, &m.GroupID, &m.Name, &phone, &role, &joinedAt); err != nil {
			return nil, err
		}
		m.Phone = phone.String
		m.Role = access.Role(role)
		m.JoinedAt = parseTime(joinedAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

// =============================================================================
// STAFF USERS
// =============================================================================

func (s *Store) CreateStaffUser(ctx context.Context, u registry.StaffUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staff_users (id, name, email, role, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.Role, u.Active, formatTime(orNow(u.CreatedAt)),
	)
	if isUniqueConstraintError(err) {
		return registry.ErrDuplicateRecord
	}
	return err
}

func (s *Store) GetStaffUser(ctx context.Context, id string) (*registry.StaffUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users, err := s.queryStaffUsers(ctx,
		`SELECT id, name, email, role, active, created_at FROM staff_users WHERE id = ?`, id)
	if err != nil || len(users) == 0 {
		return nil, err
	}
	return &users[0], nil
}

func (s *Store) ListStaffUsers(ctx context.Context) ([]registry.StaffUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryStaffUsers(ctx,
		`SELECT id, name, email, role, active, created_at FROM staff_users ORDER BY name`)
}

func (s *Store) queryStaffUsers(ctx context.Context, query string, args ...any) ([]registry.StaffUser, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query staff users: %w", err)
	}
	defer rows.Close()

	var users []registry.StaffUser
	for rows.Next() {
		var (
			u         registry.StaffUser
			role      string
			createdAt string
		)
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &role, &u.Active, &createdAt); err != nil {
			return nil, err
		}
		u.Role = access.Role(role)
		u.CreatedAt = parseTime(createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// =============================================================================
// MEETINGS
// =============================================================================

func (s *Store) CreateMeeting(ctx context.Context, m registry.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meetings (id, group_id, scheduled_at, location, agenda, scheduled_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.GroupID, formatTime(m.ScheduledAt), nullString(m.Location),
		nullString(m.Agenda), nullString(m.ScheduledBy), formatTime(orNow(m.CreatedAt)),
	)
	return err
}

// ListMeetings returns a group's meetings at or after from, soonest first.
func (s *Store) ListMeetings(ctx context.Context, groupID string, from time.Time) ([]registry.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, scheduled_at, location, agenda, scheduled_by, created_at
		FROM meetings
		WHERE group_id = ? AND scheduled_at >= ?
		ORDER BY scheduled_at`,
		groupID, formatTime(from))
	if err != nil {
		return nil, fmt.Errorf("failed to query meetings: %w", err)
	}
	defer rows.Close()

	var meetings []registry.Meeting
	for rows.Next() {
		var (
			m                           registry.Meeting
			scheduledAt, createdAt      string
			location, agenda, scheduler sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.GroupID, &scheduledAt, &location, &agenda, &scheduler, &createdAt); err != nil {
			return nil, err
		}
		m.ScheduledAt = parseTime(scheduledAt)
		m.Location = location.String
		m.Agenda = agenda.String
		m.ScheduledBy = scheduler.String
		m.CreatedAt = parseTime(createdAt)
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

var _ registry.Store = (*Store)(nil)
