package reconcile

import (
	"context"
	"fmt"
	"time"
)

// unenrolUnallocated removes enrolments of users that have no allocation in
// the instance's program.
func (r *Reconciler) unenrolUnallocated(ctx context.Context, programID, userID *int64) (int, error) {
	filter, args := scopeFilter(programID, userID, "e.customint1", "ue.userid")
	rows, err := queryInts(ctx, r.db, 2, `
		SELECT e.id, ue.userid
		FROM user_enrolments ue
		JOIN enrol_instances e ON e.id = ue.enrolid AND e.enrol = 'programs'
		WHERE NOT EXISTS (
			SELECT 1 FROM allocations a WHERE a.programid = e.customint1 AND a.userid = ue.userid
		)`+filter+`
		ORDER BY e.id, ue.userid`, args...)
	if err != nil {
		return 0, err
	}
	for n, row := range rows {
		if err := r.platform.Enrolments.UnenrolUser(ctx, row[0], row[1]); err != nil {
			return n, fmt.Errorf("instance %d user %d: %w", row[0], row[1], err)
		}
	}
	return len(rows), nil
}

// enrolAllocated enrols suspended every allocated user lacking an enrolment.
// Later passes unsuspend what is due.
func (r *Reconciler) enrolAllocated(ctx context.Context, programID, userID *int64) (int, error) {
	filter, args := scopeFilter(programID, userID, "a.programid", "a.userid")
	rows, err := queryInts(ctx, r.db, 2, `
		SELECT e.id, a.userid
		FROM allocations a
		JOIN programs p ON p.id = a.programid AND p.archived = 0
		JOIN users u ON u.id = a.userid AND u.deleted = 0
		JOIN enrol_instances e ON e.enrol = 'programs' AND e.customint1 = a.programid
		LEFT JOIN user_enrolments ue ON ue.enrolid = e.id AND ue.userid = a.userid
		WHERE a.archived = 0 AND ue.id IS NULL`+filter+`
		ORDER BY e.id, a.userid`, args...)
	if err != nil {
		return 0, err
	}
	for n, row := range rows {
		if err := r.platform.Enrolments.EnrolUser(ctx, row[0], row[1], true); err != nil {
			return n, fmt.Errorf("instance %d user %d: %w", row[0], row[1], err)
		}
	}
	return len(rows), nil
}

// suspendFrozen suspends active enrolments whose allocation is archived, in an
// archived program or outside its window, and drops the role with it.
func (r *Reconciler) suspendFrozen(ctx context.Context, programID, userID *int64, now time.Time) (int, error) {
	filter, args := scopeFilter(programID, userID, "a.programid", "a.userid")
	args = append([]any{now.Unix(), now.Unix()}, args...)
	rows, err := queryInts(ctx, r.db, 4, `
		SELECT ue.id, ue.userid, e.courseid, e.id
		FROM user_enrolments ue
		JOIN enrol_instances e ON e.id = ue.enrolid AND e.enrol = 'programs'
		JOIN allocations a ON a.programid = e.customint1 AND a.userid = ue.userid
		JOIN programs p ON p.id = a.programid
		WHERE ue.status = 0
			AND (a.archived = 1 OR p.archived = 1 OR a.timestart > ? OR (a.timeend IS NOT NULL AND a.timeend <= ?))`+filter+`
		ORDER BY ue.id`, args...)
	if err != nil {
		return 0, err
	}
	for n, row := range rows {
		if err := r.platform.Enrolments.SetEnrolmentStatus(ctx, row[0], true); err != nil {
			return n, fmt.Errorf("enrolment %d: %w", row[0], err)
		}
		if err := r.platform.Roles.Unassign(ctx, r.roleID, row[1], row[2], row[3]); err != nil {
			return n, fmt.Errorf("enrolment %d: %w", row[0], err)
		}
	}
	return len(rows), nil
}

// unsuspendSequenced activates suspended enrolments of live allocations once
// the course item is unlocked: it has no previous item or the previous item
// is completed.
func (r *Reconciler) unsuspendSequenced(ctx context.Context, programID, userID *int64, now time.Time) (int, error) {
	filter, args := scopeFilter(programID, userID, "a.programid", "a.userid")
	args = append([]any{now.Unix(), now.Unix(), now.Unix()}, args...)
	rows, err := queryInts(ctx, r.db, 1, `
		SELECT ue.id
		FROM user_enrolments ue
		JOIN enrol_instances e ON e.id = ue.enrolid AND e.enrol = 'programs'
		JOIN allocations a ON a.programid = e.customint1 AND a.userid = ue.userid
		JOIN programs p ON p.id = a.programid
		JOIN items i ON i.programid = a.programid AND i.courseid = e.courseid
		WHERE ue.status = 1 AND `+liveAllocation+`
			AND (i.previtemid IS NULL OR EXISTS (
				SELECT 1 FROM item_completions c
				WHERE c.itemid = i.previtemid AND c.allocationid = a.id AND c.timecompleted <= ?
			))`+filter+`
		ORDER BY ue.id`, args...)
	if err != nil {
		return 0, err
	}
	for n, row := range rows {
		if err := r.platform.Enrolments.SetEnrolmentStatus(ctx, row[0], false); err != nil {
			return n, fmt.Errorf("enrolment %d: %w", row[0], err)
		}
	}
	return len(rows), nil
}

// fixRoles removes component roles that are no longer backed by an active
// enrolment in an enabled instance, then assigns the configured role where
// one is missing.
func (r *Reconciler) fixRoles(ctx context.Context, programID, userID *int64) (int, error) {
	// Roles of deleted instances have no program left to scope by.
	filter, args := scopeFilter(nil, userID, "", "ra.userid")
	if programID != nil {
		filter += " AND (e.id IS NULL OR e.customint1 = ?)"
		args = append(args, *programID)
	}
	stale, err := queryInts(ctx, r.db, 4, `
		SELECT ra.roleid, ra.userid, ra.courseid, ra.itemid
		FROM role_assignments ra
		LEFT JOIN enrol_instances e ON e.id = ra.itemid AND e.enrol = 'programs'
		LEFT JOIN user_enrolments ue ON ue.enrolid = e.id AND ue.userid = ra.userid
		LEFT JOIN allocations a ON a.programid = e.customint1 AND a.userid = ra.userid
		LEFT JOIN programs p ON p.id = e.customint1
		WHERE ra.component = 'programs'
			AND (e.id IS NULL OR e.status <> 0
				OR ue.id IS NULL OR ue.status <> 0
				OR a.id IS NULL OR a.archived = 1
				OR p.id IS NULL OR p.archived = 1)`+filter+`
		ORDER BY ra.id`, args...)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, row := range stale {
		if err := r.platform.Roles.Unassign(ctx, row[0], row[1], row[2], row[3]); err != nil {
			return changed, fmt.Errorf("user %d course %d: %w", row[1], row[2], err)
		}
		changed++
	}

	filter, args = scopeFilter(programID, userID, "e.customint1", "ue.userid")
	args = append([]any{r.roleID}, args...)
	missing, err := queryInts(ctx, r.db, 3, `
		SELECT ue.userid, e.courseid, e.id
		FROM user_enrolments ue
		JOIN enrol_instances e ON e.id = ue.enrolid AND e.enrol = 'programs' AND e.status = 0
		JOIN allocations a ON a.programid = e.customint1 AND a.userid = ue.userid AND a.archived = 0
		JOIN programs p ON p.id = a.programid AND p.archived = 0
		WHERE ue.status = 0
			AND NOT EXISTS (
				SELECT 1 FROM role_assignments ra
				WHERE ra.roleid = ? AND ra.userid = ue.userid AND ra.courseid = e.courseid
					AND ra.component = 'programs' AND ra.itemid = e.id
			)`+filter+`
		ORDER BY ue.id`, args...)
	if err != nil {
		return changed, err
	}
	for _, row := range missing {
		if err := r.platform.Roles.Assign(ctx, r.roleID, row[0], row[1], row[2]); err != nil {
			return changed, fmt.Errorf("user %d course %d: %w", row[0], row[1], err)
		}
		changed++
	}
	return changed, nil
}

// addGroupMembers puts actively enrolled users into their program group.
func (r *Reconciler) addGroupMembers(ctx context.Context, programID, userID *int64) (int, error) {
	filter, args := scopeFilter(programID, userID, "g.programid", "ue.userid")
	rows, err := queryInts(ctx, r.db, 3, `
		SELECT g.groupid, ue.userid, e.id
		FROM program_groups g
		JOIN enrol_instances e ON e.enrol = 'programs' AND e.customint1 = g.programid AND e.courseid = g.courseid
		JOIN user_enrolments ue ON ue.enrolid = e.id AND ue.status = 0
		WHERE NOT EXISTS (
			SELECT 1 FROM group_members gm WHERE gm.groupid = g.groupid AND gm.userid = ue.userid
		)`+filter+`
		ORDER BY g.id, ue.userid`, args...)
	if err != nil {
		return 0, err
	}
	for n, row := range rows {
		if err := r.platform.Groups.AddMember(ctx, row[0], row[1], row[2]); err != nil {
			return n, fmt.Errorf("group %d user %d: %w", row[0], row[1], err)
		}
	}
	return len(rows), nil
}
