package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/platform"
	"github.com/alexanderramin/programs/internal/repository"
)

const noItemCompletion = `NOT EXISTS (
	SELECT 1 FROM item_completions c WHERE c.itemid = i.id AND c.allocationid = a.id
)`

func (r *Reconciler) execAffected(ctx context.Context, query string, args ...any) (int, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("executing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return int(n), nil
}

// copyEvidence turns manual evidence into item completions of live
// allocations, shifted by the item's completion delay.
func (r *Reconciler) copyEvidence(ctx context.Context, programID, userID *int64, now time.Time) (int, error) {
	filter, args := scopeFilter(programID, userID, "a.programid", "a.userid")
	args = append([]any{now.Unix(), now.Unix()}, args...)
	return r.execAffected(ctx, `
		INSERT INTO item_completions (itemid, allocationid, timecompleted)
		SELECT i.id, a.id, ev.timecompleted + i.completiondelay
		FROM evidence ev
		JOIN items i ON i.id = ev.itemid
		JOIN allocations a ON a.programid = i.programid AND a.userid = ev.userid
		JOIN programs p ON p.id = a.programid
		WHERE `+liveAllocation+` AND `+noItemCompletion+filter, args...)
}

// trainingCompletions completes training items whose framework credits reach
// the required amount. Frameworks requiring nothing never complete.
func (r *Reconciler) trainingCompletions(ctx context.Context, programID, userID *int64, now time.Time) (int, error) {
	filter, args := scopeFilter(programID, userID, "a.programid", "a.userid")
	args = append([]any{now.Unix(), now.Unix()}, args...)
	rows, err := queryInts(ctx, r.db, 6, `
		SELECT i.id, a.id, a.userid, i.trainingid, a.timestart, i.completiondelay
		FROM items i
		JOIN allocations a ON a.programid = i.programid
		JOIN programs p ON p.id = a.programid
		WHERE i.kind = 'training' AND i.trainingid IS NOT NULL
			AND `+liveAllocation+` AND `+noItemCompletion+filter+`
		ORDER BY a.id, i.id`, args...)
	if err != nil {
		return 0, err
	}

	frameworks := make(map[int64]*platform.Framework)
	changed := 0
	for _, row := range rows {
		itemID, allocationID, uid, frameworkID := row[0], row[1], row[2], row[3]
		fw, ok := frameworks[frameworkID]
		if !ok {
			fw, err = r.platform.Training.Framework(ctx, frameworkID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return changed, err
			}
			frameworks[frameworkID] = fw
		}
		if fw == nil || !fw.RequiredTraining.IsPositive() {
			continue
		}
		var since *time.Time
		if fw.RestrictedCompletion {
			start := time.Unix(row[4], 0).UTC()
			since = &start
		}
		credits, err := r.platform.Training.Credits(ctx, frameworkID, uid, since)
		if err != nil {
			return changed, fmt.Errorf("framework %d user %d: %w", frameworkID, uid, err)
		}
		if credits.LessThan(fw.RequiredTraining) {
			continue
		}
		n, err := r.execAffected(ctx, `
			INSERT OR IGNORE INTO item_completions (itemid, allocationid, timecompleted) VALUES (?, ?, ?)`,
			itemID, allocationID, now.Unix()+row[5])
		if err != nil {
			return changed, err
		}
		changed += n
	}
	return changed, nil
}

// copyCourseCompletions copies aggregated course completions onto course
// items of live allocations.
func (r *Reconciler) copyCourseCompletions(ctx context.Context, programID, userID *int64, now time.Time) (int, error) {
	filter, args := scopeFilter(programID, userID, "a.programid", "a.userid")
	args = append([]any{now.Unix(), now.Unix()}, args...)
	return r.execAffected(ctx, `
		INSERT INTO item_completions (itemid, allocationid, timecompleted)
		SELECT i.id, a.id, cc.timecompleted + i.completiondelay
		FROM items i
		JOIN allocations a ON a.programid = i.programid
		JOIN programs p ON p.id = a.programid
		JOIN course_completions cc ON cc.courseid = i.courseid AND cc.userid = a.userid
			AND cc.timecompleted IS NOT NULL AND cc.reaggregate = 0
		WHERE i.courseid IS NOT NULL AND `+liveAllocation+` AND `+noItemCompletion+filter, args...)
}

// propagatePrerequisites completes sets whose prerequisites are satisfied,
// by count or by points, repeating until a round adds nothing. Only
// prerequisite completions already in effect at now count.
func (r *Reconciler) propagatePrerequisites(ctx context.Context, programID, userID *int64, now time.Time) (int, error) {
	filter, fargs := scopeFilter(programID, userID, "a.programid", "a.userid")
	ts := now.Unix()
	queries := []string{`
		INSERT INTO item_completions (itemid, allocationid, timecompleted)
		SELECT i.id, a.id, ? + i.completiondelay
		FROM items i
		JOIN allocations a ON a.programid = i.programid
		JOIN programs p ON p.id = a.programid
		WHERE i.minprerequisites > 0 AND ` + liveAllocation + ` AND ` + noItemCompletion + `
			AND (
				SELECT COUNT(*) FROM item_prerequisites pr
				JOIN item_completions pc ON pc.itemid = pr.prerequisiteitemid AND pc.allocationid = a.id
				WHERE pr.itemid = i.id AND pc.timecompleted <= ?
			) >= i.minprerequisites` + filter, `
		INSERT INTO item_completions (itemid, allocationid, timecompleted)
		SELECT i.id, a.id, ? + i.completiondelay
		FROM items i
		JOIN allocations a ON a.programid = i.programid
		JOIN programs p ON p.id = a.programid
		WHERE i.minpoints > 0 AND ` + liveAllocation + ` AND ` + noItemCompletion + `
			AND (
				SELECT COALESCE(SUM(pi.points), 0) FROM item_prerequisites pr
				JOIN items pi ON pi.id = pr.prerequisiteitemid
				JOIN item_completions pc ON pc.itemid = pr.prerequisiteitemid AND pc.allocationid = a.id
				WHERE pr.itemid = i.id AND pc.timecompleted <= ?
			) >= i.minpoints` + filter,
	}
	args := append([]any{ts, ts, ts, ts}, fargs...)

	total := 0
	for round := 1; round <= r.maxRounds; round++ {
		added := 0
		for _, q := range queries {
			n, err := r.execAffected(ctx, q, args...)
			if err != nil {
				return total, fmt.Errorf("round %d: %w", round, err)
			}
			added += n
		}
		total += added
		if added == 0 {
			r.logger.DebugContext(ctx, "prerequisite propagation settled", "rounds", round-1, "completions", total)
			return total, nil
		}
	}
	r.logger.WarnContext(ctx, "prerequisite propagation did not settle",
		"rounds", r.maxRounds, "completions", total)
	return total, nil
}

// completeAllocations stamps allocations whose top item is completed and
// announces each one with an allocation_completed event after commit.
func (r *Reconciler) completeAllocations(ctx context.Context, programID, userID *int64, now time.Time) (int, error) {
	filter, args := scopeFilter(programID, userID, "a.programid", "a.userid")
	args = append([]any{now.Unix()}, args...)
	rows, err := queryInts(ctx, r.db, 4, `
		SELECT a.id, a.programid, a.userid, c.timecompleted
		FROM allocations a
		JOIN programs p ON p.id = a.programid AND p.archived = 0
		JOIN items i ON i.programid = a.programid AND i.topitem = 1
		JOIN item_completions c ON c.itemid = i.id AND c.allocationid = a.id
		WHERE a.archived = 0 AND a.timecompleted IS NULL AND c.timecompleted <= ?`+filter+`
		ORDER BY a.id`, args...)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, row := range rows {
		allocationID, pid, uid, completed := row[0], row[1], row[2], row[3]
		var evt *domain.Event
		err := r.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
			res, err := tx.ExecContext(ctx,
				`UPDATE allocations SET timecompleted = ? WHERE id = ? AND timecompleted IS NULL`, completed, allocationID)
			if err != nil {
				return fmt.Errorf("stamping allocation %d: %w", allocationID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return nil
			}
			evt = &domain.Event{
				Name:          domain.EventAllocationCompleted,
				ProgramID:     &pid,
				AllocationID:  &allocationID,
				UserID:        &uid,
				CorrelationID: uuid.New().String(),
				Payload:       fmt.Sprintf(`{"timecompleted":%d}`, completed),
				TimeCreated:   now,
			}
			return repository.NewRepos(tx).Events.Append(ctx, evt)
		})
		if err != nil {
			return changed, err
		}
		if evt != nil {
			r.bus.Publish(ctx, evt)
			changed++
		}
	}
	return changed, nil
}
