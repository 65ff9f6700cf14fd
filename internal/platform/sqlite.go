package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
)

// NewSQLite returns providers backed by the platform tables reachable through q.
// Messages go to notifier; nil drops them.
func NewSQLite(q db.DBTX, notifier Notifier) Providers {
	if notifier == nil {
		notifier = DiscardNotifier{}
	}
	return Providers{
		Enrolments:     &SQLiteEnrolments{db: q},
		Roles:          &SQLiteRoles{db: q},
		Groups:         &SQLiteGroups{db: q},
		Calendar:       &SQLiteCalendar{db: q},
		Notifier:       notifier,
		Certificates:   &SQLiteCertificates{db: q},
		Training:       &SQLiteTraining{db: q},
		Certifications: &SQLiteCertifications{db: q},
		Modules:        &SQLiteModules{db: q},
		Cohorts:        &SQLiteCohorts{db: q},
	}
}

// SQLiteEnrolments manages enrol_instances and user_enrolments.
type SQLiteEnrolments struct {
	db db.DBTX
}

func (e *SQLiteEnrolments) CreateInstance(ctx context.Context, courseID, programID int64, enabled bool) (int64, error) {
	status := StatusActive
	if !enabled {
		status = StatusSuspended
	}
	res, err := e.db.ExecContext(ctx,
		`INSERT INTO enrol_instances (courseid, enrol, customint1, status) VALUES (?, ?, ?, ?)`,
		courseID, Component, programID, status)
	if err != nil {
		return 0, fmt.Errorf("inserting enrol instance: %w", err)
	}
	return res.LastInsertId()
}

func (e *SQLiteEnrolments) DeleteInstance(ctx context.Context, instanceID int64) error {
	if _, err := e.db.ExecContext(ctx,
		`DELETE FROM role_assignments WHERE component = ? AND itemid = ?`, Component, instanceID); err != nil {
		return fmt.Errorf("removing instance roles: %w", err)
	}
	if _, err := e.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE component = ? AND itemid = ?`, Component, instanceID); err != nil {
		return fmt.Errorf("removing instance group members: %w", err)
	}
	if _, err := e.db.ExecContext(ctx, `DELETE FROM user_enrolments WHERE enrolid = ?`, instanceID); err != nil {
		return fmt.Errorf("removing instance enrolments: %w", err)
	}
	if _, err := e.db.ExecContext(ctx, `DELETE FROM enrol_instances WHERE id = ?`, instanceID); err != nil {
		return fmt.Errorf("deleting enrol instance: %w", err)
	}
	return nil
}

func (e *SQLiteEnrolments) SetInstanceStatus(ctx context.Context, instanceID int64, enabled bool) error {
	status := StatusActive
	if !enabled {
		status = StatusSuspended
	}
	if _, err := e.db.ExecContext(ctx, `UPDATE enrol_instances SET status = ? WHERE id = ?`, status, instanceID); err != nil {
		return fmt.Errorf("updating enrol instance status: %w", err)
	}
	return nil
}

func (e *SQLiteEnrolments) EnrolUser(ctx context.Context, instanceID, userID int64, suspended bool) error {
	status := StatusActive
	if suspended {
		status = StatusSuspended
	}
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO user_enrolments (enrolid, userid, status) VALUES (?, ?, ?)
		ON CONFLICT (enrolid, userid) DO NOTHING`, instanceID, userID, status)
	if err != nil {
		return fmt.Errorf("enrolling user: %w", err)
	}
	return nil
}

func (e *SQLiteEnrolments) UnenrolUser(ctx context.Context, instanceID, userID int64) error {
	if _, err := e.db.ExecContext(ctx,
		`DELETE FROM role_assignments WHERE component = ? AND itemid = ? AND userid = ?`, Component, instanceID, userID); err != nil {
		return fmt.Errorf("removing user roles: %w", err)
	}
	if _, err := e.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE component = ? AND itemid = ? AND userid = ?`, Component, instanceID, userID); err != nil {
		return fmt.Errorf("removing user group memberships: %w", err)
	}
	if _, err := e.db.ExecContext(ctx,
		`DELETE FROM user_enrolments WHERE enrolid = ? AND userid = ?`, instanceID, userID); err != nil {
		return fmt.Errorf("unenrolling user: %w", err)
	}
	return nil
}

func (e *SQLiteEnrolments) SetEnrolmentStatus(ctx context.Context, userEnrolmentID int64, suspended bool) error {
	status := StatusActive
	if suspended {
		status = StatusSuspended
	}
	if _, err := e.db.ExecContext(ctx, `UPDATE user_enrolments SET status = ? WHERE id = ?`, status, userEnrolmentID); err != nil {
		return fmt.Errorf("updating enrolment status: %w", err)
	}
	return nil
}

func (e *SQLiteEnrolments) UnenrolFromCourses(ctx context.Context, userID int64, courseIDs []int64) error {
	if len(courseIDs) == 0 {
		return nil
	}
	in, args := inClause(courseIDs)
	args = append([]any{userID}, args...)
	queries := []string{
		`DELETE FROM role_assignments WHERE userid = ? AND courseid IN ` + in,
		`DELETE FROM group_members WHERE userid = ? AND groupid IN (SELECT id FROM course_groups WHERE courseid IN ` + in + `)`,
		`DELETE FROM user_enrolments WHERE userid = ? AND enrolid IN (SELECT id FROM enrol_instances WHERE courseid IN ` + in + `)`,
	}
	for _, q := range queries {
		if _, err := e.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("unenrolling from courses: %w", err)
		}
	}
	return nil
}

// SQLiteRoles manages role_assignments owned by Component.
type SQLiteRoles struct {
	db db.DBTX
}

func (r *SQLiteRoles) Assign(ctx context.Context, roleID, userID, courseID, itemID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO role_assignments (roleid, userid, courseid, component, itemid) VALUES (?, ?, ?, ?, ?)`,
		roleID, userID, courseID, Component, itemID)
	if err != nil {
		return fmt.Errorf("assigning role: %w", err)
	}
	return nil
}

func (r *SQLiteRoles) Unassign(ctx context.Context, roleID, userID, courseID, itemID int64) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM role_assignments WHERE roleid = ? AND userid = ? AND courseid = ? AND component = ? AND itemid = ?`,
		roleID, userID, courseID, Component, itemID)
	if err != nil {
		return fmt.Errorf("unassigning role: %w", err)
	}
	return nil
}

// SQLiteGroups manages course_groups and group_members.
type SQLiteGroups struct {
	db db.DBTX
}

func (g *SQLiteGroups) CreateGroup(ctx context.Context, courseID int64, name string) (int64, error) {
	res, err := g.db.ExecContext(ctx, `INSERT INTO course_groups (courseid, name) VALUES (?, ?)`, courseID, name)
	if err != nil {
		return 0, fmt.Errorf("creating group: %w", err)
	}
	return res.LastInsertId()
}

func (g *SQLiteGroups) RenameGroup(ctx context.Context, groupID int64, name string) error {
	if _, err := g.db.ExecContext(ctx, `UPDATE course_groups SET name = ? WHERE id = ?`, name, groupID); err != nil {
		return fmt.Errorf("renaming group: %w", err)
	}
	return nil
}

func (g *SQLiteGroups) DeleteGroup(ctx context.Context, groupID int64) error {
	if _, err := g.db.ExecContext(ctx, `DELETE FROM course_groups WHERE id = ?`, groupID); err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	return nil
}

func (g *SQLiteGroups) AddMember(ctx context.Context, groupID, userID, itemID int64) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_members (groupid, userid, component, itemid) VALUES (?, ?, ?, ?)`,
		groupID, userID, Component, itemID)
	if err != nil {
		return fmt.Errorf("adding group member: %w", err)
	}
	return nil
}

// SQLiteCalendar stores per-allocation events in calendar_events.
type SQLiteCalendar struct {
	db db.DBTX
}

func (c *SQLiteCalendar) Upsert(ctx context.Context, e CalendarEvent) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO calendar_events (component, eventtype, programid, allocationid, userid, name, timestart)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (allocationid, eventtype) DO UPDATE SET name = excluded.name, timestart = excluded.timestart`,
		Component, e.EventType, e.ProgramID, e.AllocationID, e.UserID, e.Name, e.TimeStart.Unix())
	if err != nil {
		return fmt.Errorf("saving calendar event: %w", err)
	}
	return nil
}

func (c *SQLiteCalendar) Delete(ctx context.Context, allocationID int64, eventType string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM calendar_events WHERE allocationid = ? AND eventtype = ?`, allocationID, eventType)
	if err != nil {
		return fmt.Errorf("deleting calendar event: %w", err)
	}
	return nil
}

func (c *SQLiteCalendar) DeleteAll(ctx context.Context, allocationID int64) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM calendar_events WHERE allocationid = ?`, allocationID); err != nil {
		return fmt.Errorf("deleting calendar events: %w", err)
	}
	return nil
}

func (c *SQLiteCalendar) List(ctx context.Context, allocationID int64) ([]CalendarEvent, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT programid, allocationid, userid, eventtype, name, timestart
		FROM calendar_events WHERE allocationid = ? ORDER BY timestart, eventtype`, allocationID)
	if err != nil {
		return nil, fmt.Errorf("listing calendar events: %w", err)
	}
	defer rows.Close()

	var out []CalendarEvent
	for rows.Next() {
		var e CalendarEvent
		var start int64
		if err := rows.Scan(&e.ProgramID, &e.AllocationID, &e.UserID, &e.EventType, &e.Name, &start); err != nil {
			return nil, fmt.Errorf("scanning calendar event: %w", err)
		}
		e.TimeStart = time.Unix(start, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// SQLiteModules reads installed_modules and purges activity_data.
type SQLiteModules struct {
	db db.DBTX
}

func (m *SQLiteModules) ListInstalled(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT name FROM installed_modules WHERE enabled = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing modules: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scanning module: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (m *SQLiteModules) DeleteUserData(ctx context.Context, modname string, userID int64, courseIDs []int64) error {
	if len(courseIDs) == 0 {
		return nil
	}
	in, args := inClause(courseIDs)
	args = append([]any{modname, userID}, args...)
	_, err := m.db.ExecContext(ctx, `DELETE FROM activity_data WHERE modname = ? AND userid = ? AND courseid IN `+in, args...)
	if err != nil {
		return fmt.Errorf("deleting %s data: %w", modname, err)
	}
	return nil
}

func (m *SQLiteModules) DeleteCompletions(ctx context.Context, userID int64, courseIDs []int64) error {
	if len(courseIDs) == 0 {
		return nil
	}
	in, args := inClause(courseIDs)
	args = append([]any{userID}, args...)
	if _, err := m.db.ExecContext(ctx, `DELETE FROM module_completions WHERE userid = ? AND courseid IN `+in, args...); err != nil {
		return fmt.Errorf("deleting module completions: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, `DELETE FROM course_completions WHERE userid = ? AND courseid IN `+in, args...); err != nil {
		return fmt.Errorf("deleting course completions: %w", err)
	}
	return nil
}

func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + ")", args
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("reading %s: %w", what, err)
}

// SQLiteCohorts manages cohort_members.
type SQLiteCohorts struct {
	db db.DBTX
}

func (c *SQLiteCohorts) AddMember(ctx context.Context, cohortID, userID int64) error {
	if _, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cohort_members (cohortid, userid) VALUES (?, ?)`, cohortID, userID); err != nil {
		return fmt.Errorf("adding cohort member: %w", err)
	}
	return nil
}

func (c *SQLiteCohorts) RemoveMember(ctx context.Context, cohortID, userID int64) error {
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM cohort_members WHERE cohortid = ? AND userid = ?`, cohortID, userID); err != nil {
		return fmt.Errorf("removing cohort member: %w", err)
	}
	return nil
}

func (c *SQLiteCohorts) Exists(ctx context.Context, cohortID int64) (bool, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cohorts WHERE id = ?`, cohortID).Scan(&n); err != nil {
		return false, fmt.Errorf("checking cohort: %w", err)
	}
	return n > 0, nil
}
