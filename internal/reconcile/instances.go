package reconcile

import (
	"context"
	"errors"
	"fmt"
)

// FixEnrolInstances keeps one enrol instance per (program, course) item, its
// enabled state in step with the program archived flag, and the program
// groups in step with the creategroups setting.
func (r *Reconciler) FixEnrolInstances(ctx context.Context, programID *int64) error {
	var errs []error
	errs = append(errs, r.pass(ctx, "create_instances", programID, nil, func() (int, error) { return r.createInstances(ctx, programID) }))
	errs = append(errs, r.pass(ctx, "delete_instances", programID, nil, func() (int, error) { return r.deleteInstances(ctx, programID) }))
	errs = append(errs, r.pass(ctx, "instance_status", programID, nil, func() (int, error) { return r.syncInstanceStatus(ctx, programID) }))
	errs = append(errs, r.pass(ctx, "program_groups", programID, nil, func() (int, error) { return r.syncGroups(ctx, programID) }))
	return errors.Join(errs...)
}

func (r *Reconciler) createInstances(ctx context.Context, programID *int64) (int, error) {
	filter, args := scopeFilter(programID, nil, "i.programid", "")
	rows, err := queryInts(ctx, r.db, 3, `
		SELECT DISTINCT i.programid, i.courseid, p.archived
		FROM items i
		JOIN programs p ON p.id = i.programid
		JOIN courses c ON c.id = i.courseid
		WHERE i.courseid IS NOT NULL
			AND NOT EXISTS (
				SELECT 1 FROM enrol_instances e
				WHERE e.enrol = 'programs' AND e.customint1 = i.programid AND e.courseid = i.courseid
			)`+filter+`
		ORDER BY i.programid, i.courseid`, args...)
	if err != nil {
		return 0, err
	}
	for n, row := range rows {
		if _, err := r.platform.Enrolments.CreateInstance(ctx, row[1], row[0], row[2] == 0); err != nil {
			return n, fmt.Errorf("program %d course %d: %w", row[0], row[1], err)
		}
	}
	return len(rows), nil
}

func (r *Reconciler) deleteInstances(ctx context.Context, programID *int64) (int, error) {
	filter, args := scopeFilter(programID, nil, "e.customint1", "")
	rows, err := queryInts(ctx, r.db, 1, `
		SELECT e.id
		FROM enrol_instances e
		WHERE e.enrol = 'programs'
			AND NOT EXISTS (
				SELECT 1 FROM items i WHERE i.programid = e.customint1 AND i.courseid = e.courseid
			)`+filter+`
		ORDER BY e.id`, args...)
	if err != nil {
		return 0, err
	}
	for n, row := range rows {
		if err := r.platform.Enrolments.DeleteInstance(ctx, row[0]); err != nil {
			return n, fmt.Errorf("instance %d: %w", row[0], err)
		}
	}
	return len(rows), nil
}

// syncInstanceStatus disables instances of archived programs and enables the
// rest. Roles are left to the role pass.
func (r *Reconciler) syncInstanceStatus(ctx context.Context, programID *int64) (int, error) {
	filter, args := scopeFilter(programID, nil, "e.customint1", "")
	rows, err := queryInts(ctx, r.db, 2, `
		SELECT e.id, p.archived
		FROM enrol_instances e
		JOIN programs p ON p.id = e.customint1
		WHERE e.enrol = 'programs'
			AND ((p.archived = 1 AND e.status = 0) OR (p.archived = 0 AND e.status <> 0))`+filter+`
		ORDER BY e.id`, args...)
	if err != nil {
		return 0, err
	}
	for n, row := range rows {
		if err := r.platform.Enrolments.SetInstanceStatus(ctx, row[0], row[1] == 0); err != nil {
			return n, fmt.Errorf("instance %d: %w", row[0], err)
		}
	}
	return len(rows), nil
}

// syncGroups creates a course group per (program, course) item of programs
// with creategroups set, renames groups after the program and deletes groups
// no longer justified.
func (r *Reconciler) syncGroups(ctx context.Context, programID *int64) (int, error) {
	changed := 0

	filter, args := scopeFilter(programID, nil, "g.programid", "")
	stale, err := queryInts(ctx, r.db, 2, `
		SELECT g.id, g.groupid
		FROM program_groups g
		LEFT JOIN programs p ON p.id = g.programid
		WHERE (p.id IS NULL OR p.creategroups = 0
			OR NOT EXISTS (SELECT 1 FROM items i WHERE i.programid = g.programid AND i.courseid = g.courseid))`+filter+`
		ORDER BY g.id`, args...)
	if err != nil {
		return changed, err
	}
	for _, row := range stale {
		if err := r.platform.Groups.DeleteGroup(ctx, row[1]); err != nil {
			return changed, fmt.Errorf("group %d: %w", row[1], err)
		}
		if _, err := r.db.ExecContext(ctx, `DELETE FROM program_groups WHERE id = ?`, row[0]); err != nil {
			return changed, fmt.Errorf("deleting program group: %w", err)
		}
		changed++
	}

	filter, args = scopeFilter(programID, nil, "i.programid", "")
	missing, err := queryInts(ctx, r.db, 2, `
		SELECT DISTINCT i.programid, i.courseid
		FROM items i
		JOIN programs p ON p.id = i.programid AND p.creategroups = 1
		JOIN courses c ON c.id = i.courseid
		WHERE i.courseid IS NOT NULL
			AND NOT EXISTS (SELECT 1 FROM program_groups g WHERE g.programid = i.programid AND g.courseid = i.courseid)`+filter+`
		ORDER BY i.programid, i.courseid`, args...)
	if err != nil {
		return changed, err
	}
	for _, row := range missing {
		var name string
		if err := r.db.QueryRowContext(ctx, `SELECT fullname FROM programs WHERE id = ?`, row[0]).Scan(&name); err != nil {
			return changed, fmt.Errorf("reading program name: %w", err)
		}
		groupID, err := r.platform.Groups.CreateGroup(ctx, row[1], name)
		if err != nil {
			return changed, fmt.Errorf("program %d course %d: %w", row[0], row[1], err)
		}
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO program_groups (programid, courseid, groupid) VALUES (?, ?, ?)`, row[0], row[1], groupID); err != nil {
			_ = r.platform.Groups.DeleteGroup(ctx, groupID)
			return changed, fmt.Errorf("inserting program group: %w", err)
		}
		changed++
	}

	filter, args = scopeFilter(programID, nil, "g.programid", "")
	renamed, err := queryInts(ctx, r.db, 2, `
		SELECT g.groupid, g.programid
		FROM program_groups g
		JOIN programs p ON p.id = g.programid
		JOIN course_groups cg ON cg.id = g.groupid
		WHERE cg.name <> p.fullname`+filter+`
		ORDER BY g.id`, args...)
	if err != nil {
		return changed, err
	}
	for _, row := range renamed {
		var name string
		if err := r.db.QueryRowContext(ctx, `SELECT fullname FROM programs WHERE id = ?`, row[1]).Scan(&name); err != nil {
			return changed, fmt.Errorf("reading program name: %w", err)
		}
		if err := r.platform.Groups.RenameGroup(ctx, row[0], name); err != nil {
			return changed, fmt.Errorf("group %d: %w", row[0], err)
		}
		changed++
	}
	return changed, nil
}
