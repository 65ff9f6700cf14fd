package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
)

// SQLiteEventRepo appends domain events to the events table.
type SQLiteEventRepo struct {
	db db.DBTX
}

// NewSQLiteEventRepo creates a new SQLiteEventRepo.
func NewSQLiteEventRepo(db db.DBTX) *SQLiteEventRepo {
	return &SQLiteEventRepo{db: db}
}

func (r *SQLiteEventRepo) Append(ctx context.Context, e *domain.Event) error {
	if e.Payload == "" {
		e.Payload = "{}"
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO events (name, programid, allocationid, userid, correlationid, payload, timecreated)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.Name), nullableInt64(e.ProgramID), nullableInt64(e.AllocationID), nullableInt64(e.UserID),
		e.CorrelationID, e.Payload, e.TimeCreated.Unix())
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading event id: %w", err)
	}
	e.ID = id
	return nil
}

func (r *SQLiteEventRepo) ListByName(ctx context.Context, name domain.EventName) ([]*domain.Event, error) {
	return r.list(ctx, `SELECT id, name, programid, allocationid, userid, correlationid, payload, timecreated
		FROM events WHERE name = ? ORDER BY id`, string(name))
}

func (r *SQLiteEventRepo) ListByAllocation(ctx context.Context, allocationID int64) ([]*domain.Event, error) {
	return r.list(ctx, `SELECT id, name, programid, allocationid, userid, correlationid, payload, timecreated
		FROM events WHERE allocationid = ? ORDER BY id`, allocationID)
}

func (r *SQLiteEventRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		var e domain.Event
		var name string
		var program, allocation, user sql.NullInt64
		var created int64
		if err := rows.Scan(&e.ID, &name, &program, &allocation, &user, &e.CorrelationID, &e.Payload, &created); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Name = domain.EventName(name)
		e.ProgramID = parseNullableInt64(program)
		e.AllocationID = parseNullableInt64(allocation)
		e.UserID = parseNullableInt64(user)
		e.TimeCreated = unixToTime(created)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return out, nil
}
