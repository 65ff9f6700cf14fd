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

// SQLiteNotificationRepo stores per-program notification settings and the send log.
type SQLiteNotificationRepo struct {
	db db.DBTX
}

// NewSQLiteNotificationRepo creates a new SQLiteNotificationRepo.
func NewSQLiteNotificationRepo(db db.DBTX) *SQLiteNotificationRepo {
	return &SQLiteNotificationRepo{db: db}
}

func (r *SQLiteNotificationRepo) SetEnabled(ctx context.Context, programID int64, t domain.NotificationType, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO program_notifications (programid, type, enabled) VALUES (?, ?, ?)
		ON CONFLICT (programid, type) DO UPDATE SET enabled = excluded.enabled`,
		programID, string(t), boolToInt(enabled))
	if err != nil {
		return fmt.Errorf("saving notification setting: %w", err)
	}
	return nil
}

func (r *SQLiteNotificationRepo) IsEnabled(ctx context.Context, programID int64, t domain.NotificationType) (bool, error) {
	var enabled int
	err := r.db.QueryRowContext(ctx,
		`SELECT enabled FROM program_notifications WHERE programid = ? AND type = ?`, programID, string(t),
	).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading notification setting: %w", err)
	}
	return intToBool(enabled), nil
}

func (r *SQLiteNotificationRepo) Log(ctx context.Context, programID, allocationID, userID int64, t domain.NotificationType, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notification_log (programid, allocationid, userid, type, timecreated) VALUES (?, ?, ?, ?, ?)`,
		programID, allocationID, userID, string(t), at.Unix())
	if err != nil {
		return fmt.Errorf("logging notification: %w", err)
	}
	return nil
}

func (r *SQLiteNotificationRepo) WasSent(ctx context.Context, allocationID int64, t domain.NotificationType) (bool, error) {
	n, err := r.Count(ctx, allocationID, t)
	return n > 0, err
}

func (r *SQLiteNotificationRepo) Count(ctx context.Context, allocationID int64, t domain.NotificationType) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notification_log WHERE allocationid = ? AND type = ?`, allocationID, string(t),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting notifications: %w", err)
	}
	return n, nil
}
