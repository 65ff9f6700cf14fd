package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
)

// SQLiteAllocationRepo implements AllocationRepo using a SQLite database.
type SQLiteAllocationRepo struct {
	db db.DBTX
}

// NewSQLiteAllocationRepo creates a new SQLiteAllocationRepo.
func NewSQLiteAllocationRepo(db db.DBTX) *SQLiteAllocationRepo {
	return &SQLiteAllocationRepo{db: db}
}

const allocationColumns = `id, programid, userid, sourceid, sourcedatajson, sourceinstanceid, archived,
	timeallocated, timestart, timedue, timeend, timecompleted, calendarupdated, timecreated`

func (r *SQLiteAllocationRepo) Create(ctx context.Context, a *domain.Allocation) error {
	if a.SourceData == "" {
		a.SourceData = "{}"
	}
	query := `INSERT INTO allocations (programid, userid, sourceid, sourcedatajson, sourceinstanceid, archived,
		timeallocated, timestart, timedue, timeend, timecompleted, calendarupdated, timecreated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		a.ProgramID,
		a.UserID,
		a.SourceID,
		a.SourceData,
		nullableInt64(a.SourceInstanceID),
		boolToInt(a.Archived),
		a.TimeAllocated.Unix(),
		a.TimeStart.Unix(),
		nullableUnix(a.TimeDue),
		nullableUnix(a.TimeEnd),
		nullableUnix(a.TimeCompleted),
		boolToInt(a.CalendarUpdated),
		a.TimeCreated.Unix(),
	)
	if err != nil {
		return fmt.Errorf("inserting allocation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading allocation id: %w", err)
	}
	a.ID = id
	return nil
}

func (r *SQLiteAllocationRepo) GetByID(ctx context.Context, id int64) (*domain.Allocation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+allocationColumns+` FROM allocations WHERE id = ?`, id)
	a, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("allocation %d: %w", id, domain.ErrNotFound)
	}
	return a, err
}

func (r *SQLiteAllocationRepo) GetByProgramUser(ctx context.Context, programID, userID int64) (*domain.Allocation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+allocationColumns+` FROM allocations WHERE programid = ? AND userid = ?`, programID, userID)
	a, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("allocation of user %d in program %d: %w", userID, programID, domain.ErrNotFound)
	}
	return a, err
}

func (r *SQLiteAllocationRepo) ListByProgram(ctx context.Context, programID int64) ([]*domain.Allocation, error) {
	return r.list(ctx, `SELECT `+allocationColumns+` FROM allocations WHERE programid = ? ORDER BY id`, programID)
}

func (r *SQLiteAllocationRepo) ListBySource(ctx context.Context, sourceID int64) ([]*domain.Allocation, error) {
	return r.list(ctx, `SELECT `+allocationColumns+` FROM allocations WHERE sourceid = ? ORDER BY id`, sourceID)
}

func (r *SQLiteAllocationRepo) ListByUser(ctx context.Context, userID int64) ([]*domain.Allocation, error) {
	return r.list(ctx, `SELECT `+allocationColumns+` FROM allocations WHERE userid = ? ORDER BY id`, userID)
}

func (r *SQLiteAllocationRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Allocation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing allocations: %w", err)
	}
	defer rows.Close()

	var allocations []*domain.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating allocations: %w", err)
	}
	return allocations, nil
}

func (r *SQLiteAllocationRepo) CountBySource(ctx context.Context, sourceID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM allocations WHERE sourceid = ?`, sourceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting allocations: %w", err)
	}
	return n, nil
}

func (r *SQLiteAllocationRepo) Update(ctx context.Context, a *domain.Allocation) error {
	query := `UPDATE allocations SET sourceid = ?, sourcedatajson = ?, sourceinstanceid = ?, archived = ?,
		timestart = ?, timedue = ?, timeend = ?, timecompleted = ?, calendarupdated = ?
		WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query,
		a.SourceID,
		a.SourceData,
		nullableInt64(a.SourceInstanceID),
		boolToInt(a.Archived),
		a.TimeStart.Unix(),
		nullableUnix(a.TimeDue),
		nullableUnix(a.TimeEnd),
		nullableUnix(a.TimeCompleted),
		boolToInt(a.CalendarUpdated),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating allocation: %w", err)
	}
	return nil
}

func (r *SQLiteAllocationRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM allocations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting allocation: %w", err)
	}
	return nil
}

func scanAllocation(s rowScanner) (*domain.Allocation, error) {
	var a domain.Allocation
	var archived, calendar int
	var instance, due, end, completed sql.NullInt64
	var allocated, start, created int64

	err := s.Scan(
		&a.ID, &a.ProgramID, &a.UserID, &a.SourceID, &a.SourceData, &instance, &archived,
		&allocated, &start, &due, &end, &completed, &calendar, &created,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning allocation: %w", err)
	}

	a.SourceInstanceID = parseNullableInt64(instance)
	a.Archived = intToBool(archived)
	a.TimeAllocated = unixToTime(allocated)
	a.TimeStart = unixToTime(start)
	a.TimeDue = parseNullableUnix(due)
	a.TimeEnd = parseNullableUnix(end)
	a.TimeCompleted = parseNullableUnix(completed)
	a.CalendarUpdated = intToBool(calendar)
	a.TimeCreated = unixToTime(created)
	return &a, nil
}
