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

// SQLiteRequestRepo implements RequestRepo using a SQLite database.
type SQLiteRequestRepo struct {
	db db.DBTX
}

// NewSQLiteRequestRepo creates a new SQLiteRequestRepo.
func NewSQLiteRequestRepo(db db.DBTX) *SQLiteRequestRepo {
	return &SQLiteRequestRepo{db: db}
}

const requestColumns = `id, sourceid, userid, timerequested, datajson, timerejected, rejectedby`

func (r *SQLiteRequestRepo) Create(ctx context.Context, req *domain.Request) error {
	if req.Data == "" {
		req.Data = "{}"
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO requests (sourceid, userid, timerequested, datajson) VALUES (?, ?, ?, ?)`,
		req.SourceID, req.UserID, req.TimeRequested.Unix(), req.Data)
	if err != nil {
		return fmt.Errorf("inserting request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading request id: %w", err)
	}
	req.ID = id
	return nil
}

func (r *SQLiteRequestRepo) GetBySourceUser(ctx context.Context, sourceID, userID int64) (*domain.Request, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE sourceid = ? AND userid = ?`, sourceID, userID)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request of user %d: %w", userID, domain.ErrNotFound)
	}
	return req, err
}

func (r *SQLiteRequestRepo) GetByID(ctx context.Context, id int64) (*domain.Request, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %d: %w", id, domain.ErrNotFound)
	}
	return req, err
}

func (r *SQLiteRequestRepo) ListBySource(ctx context.Context, sourceID int64) ([]*domain.Request, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE sourceid = ? ORDER BY timerequested, id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	defer rows.Close()

	var out []*domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating requests: %w", err)
	}
	return out, nil
}

func (r *SQLiteRequestRepo) Reject(ctx context.Context, id int64, rejectedBy int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE requests SET timerejected = ?, rejectedby = ? WHERE id = ?`, at.Unix(), rejectedBy, id)
	if err != nil {
		return fmt.Errorf("rejecting request: %w", err)
	}
	return nil
}

func (r *SQLiteRequestRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM requests WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting request: %w", err)
	}
	return nil
}

func scanRequest(s rowScanner) (*domain.Request, error) {
	var req domain.Request
	var requested int64
	var rejected, rejectedBy sql.NullInt64
	if err := s.Scan(&req.ID, &req.SourceID, &req.UserID, &requested, &req.Data, &rejected, &rejectedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning request: %w", err)
	}
	req.TimeRequested = unixToTime(requested)
	req.TimeRejected = parseNullableUnix(rejected)
	req.RejectedBy = parseNullableInt64(rejectedBy)
	return &req, nil
}
