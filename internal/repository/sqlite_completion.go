package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
)

// SQLiteCompletionRepo stores item completions and user evidence.
type SQLiteCompletionRepo struct {
	db db.DBTX
}

// NewSQLiteCompletionRepo creates a new SQLiteCompletionRepo.
func NewSQLiteCompletionRepo(db db.DBTX) *SQLiteCompletionRepo {
	return &SQLiteCompletionRepo{db: db}
}

func (r *SQLiteCompletionRepo) GetItemCompletion(ctx context.Context, itemID, allocationID int64) (*domain.ItemCompletion, error) {
	var c domain.ItemCompletion
	var completed int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, itemid, allocationid, timecompleted FROM item_completions WHERE itemid = ? AND allocationid = ?`,
		itemID, allocationID,
	).Scan(&c.ID, &c.ItemID, &c.AllocationID, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("completion of item %d: %w", itemID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning item completion: %w", err)
	}
	c.TimeCompleted = unixToTime(completed)
	return &c, nil
}

func (r *SQLiteCompletionRepo) UpsertItemCompletion(ctx context.Context, itemID, allocationID int64, completed time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO item_completions (itemid, allocationid, timecompleted) VALUES (?, ?, ?)
		ON CONFLICT (itemid, allocationid) DO UPDATE SET timecompleted = excluded.timecompleted`,
		itemID, allocationID, completed.Unix())
	if err != nil {
		return fmt.Errorf("upserting item completion: %w", err)
	}
	return nil
}

func (r *SQLiteCompletionRepo) DeleteItemCompletion(ctx context.Context, itemID, allocationID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM item_completions WHERE itemid = ? AND allocationid = ?`, itemID, allocationID)
	if err != nil {
		return fmt.Errorf("deleting item completion: %w", err)
	}
	return nil
}

func (r *SQLiteCompletionRepo) ListByAllocation(ctx context.Context, allocationID int64) ([]*domain.ItemCompletion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, itemid, allocationid, timecompleted FROM item_completions WHERE allocationid = ? ORDER BY itemid`, allocationID)
	if err != nil {
		return nil, fmt.Errorf("listing item completions: %w", err)
	}
	defer rows.Close()

	var out []*domain.ItemCompletion
	for rows.Next() {
		var c domain.ItemCompletion
		var completed int64
		if err := rows.Scan(&c.ID, &c.ItemID, &c.AllocationID, &completed); err != nil {
			return nil, fmt.Errorf("scanning item completion: %w", err)
		}
		c.TimeCompleted = unixToTime(completed)
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating item completions: %w", err)
	}
	return out, nil
}

func (r *SQLiteCompletionRepo) DeleteByAllocation(ctx context.Context, allocationID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM item_completions WHERE allocationid = ?`, allocationID); err != nil {
		return fmt.Errorf("deleting allocation completions: %w", err)
	}
	return nil
}

func (r *SQLiteCompletionRepo) GetEvidence(ctx context.Context, userID, itemID int64) (*domain.Evidence, error) {
	var e domain.Evidence
	var completed, created int64
	var createdBy sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, userid, itemid, evidencejson, timecompleted, timecreated, createdby
		FROM evidence WHERE userid = ? AND itemid = ?`, userID, itemID,
	).Scan(&e.ID, &e.UserID, &e.ItemID, &e.Details, &completed, &created, &createdBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("evidence of user %d for item %d: %w", userID, itemID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning evidence: %w", err)
	}
	e.TimeCompleted = unixToTime(completed)
	e.TimeCreated = unixToTime(created)
	e.CreatedBy = parseNullableInt64(createdBy)
	return &e, nil
}

func (r *SQLiteCompletionRepo) UpsertEvidence(ctx context.Context, e *domain.Evidence) error {
	if e.Details == "" {
		e.Details = "{}"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO evidence (userid, itemid, evidencejson, timecompleted, timecreated, createdby)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (userid, itemid) DO UPDATE SET
			evidencejson = excluded.evidencejson,
			timecompleted = excluded.timecompleted,
			createdby = excluded.createdby`,
		e.UserID, e.ItemID, e.Details, e.TimeCompleted.Unix(), e.TimeCreated.Unix(), nullableInt64(e.CreatedBy))
	if err != nil {
		return fmt.Errorf("upserting evidence: %w", err)
	}
	return nil
}

func (r *SQLiteCompletionRepo) DeleteEvidence(ctx context.Context, userID, itemID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM evidence WHERE userid = ? AND itemid = ?`, userID, itemID); err != nil {
		return fmt.Errorf("deleting evidence: %w", err)
	}
	return nil
}

func (r *SQLiteCompletionRepo) DeleteProgramEvidence(ctx context.Context, programID, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM evidence WHERE userid = ? AND itemid IN (SELECT id FROM items WHERE programid = ?)`, userID, programID)
	if err != nil {
		return fmt.Errorf("deleting program evidence: %w", err)
	}
	return nil
}
