package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
)

// SQLiteCertificateRepo stores program certificate settings and issue history.
type SQLiteCertificateRepo struct {
	db db.DBTX
}

// NewSQLiteCertificateRepo creates a new SQLiteCertificateRepo.
func NewSQLiteCertificateRepo(db db.DBTX) *SQLiteCertificateRepo {
	return &SQLiteCertificateRepo{db: db}
}

func (r *SQLiteCertificateRepo) GetConfig(ctx context.Context, programID int64) (*domain.ProgramCertificate, error) {
	var c domain.ProgramCertificate
	var expiry string
	err := r.db.QueryRowContext(ctx,
		`SELECT programid, templateid, expirydatejson FROM program_certificates WHERE programid = ?`, programID,
	).Scan(&c.ProgramID, &c.TemplateID, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("certificate of program %d: %w", programID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning program certificate: %w", err)
	}
	if c.Expiry, err = domain.ParseScheduleSpec(expiry); err != nil {
		return nil, fmt.Errorf("parsing expirydatejson: %w", err)
	}
	return &c, nil
}

func (r *SQLiteCertificateRepo) SetConfig(ctx context.Context, c *domain.ProgramCertificate) error {
	if c.Expiry.Type == "" {
		c.Expiry.Type = domain.ScheduleNotSet
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO program_certificates (programid, templateid, expirydatejson) VALUES (?, ?, ?)
		ON CONFLICT (programid) DO UPDATE SET templateid = excluded.templateid, expirydatejson = excluded.expirydatejson`,
		c.ProgramID, c.TemplateID, c.Expiry.JSON())
	if err != nil {
		return fmt.Errorf("saving program certificate: %w", err)
	}
	return nil
}

func (r *SQLiteCertificateRepo) DeleteConfig(ctx context.Context, programID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM program_certificates WHERE programid = ?`, programID); err != nil {
		return fmt.Errorf("deleting program certificate: %w", err)
	}
	return nil
}

// ListPending returns completed allocations of live programs that have not
// been issued a certificate for their current completion time.
func (r *SQLiteCertificateRepo) ListPending(ctx context.Context) ([]PendingCertificate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.programid, a.id, a.userid, pc.templateid, pc.expirydatejson, a.timecompleted
		FROM allocations a
		JOIN programs p ON p.id = a.programid AND p.archived = 0
		JOIN program_certificates pc ON pc.programid = p.id
		WHERE a.archived = 0 AND a.timecompleted IS NOT NULL
			AND NOT EXISTS (
				SELECT 1 FROM certificate_issues ci
				WHERE ci.allocationid = a.id AND ci.timecompleted = a.timecompleted
			)
		ORDER BY a.id`)
	if err != nil {
		return nil, fmt.Errorf("listing pending certificates: %w", err)
	}
	defer rows.Close()

	var out []PendingCertificate
	for rows.Next() {
		var pc PendingCertificate
		var expiry string
		var completed int64
		if err := rows.Scan(&pc.ProgramID, &pc.AllocationID, &pc.UserID, &pc.TemplateID, &expiry, &completed); err != nil {
			return nil, fmt.Errorf("scanning pending certificate: %w", err)
		}
		spec, err := domain.ParseScheduleSpec(expiry)
		if err != nil {
			return nil, fmt.Errorf("parsing expirydatejson: %w", err)
		}
		pc.Expiry = spec
		pc.TimeCompleted = unixToTime(completed)
		out = append(out, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending certificates: %w", err)
	}
	return out, nil
}

func (r *SQLiteCertificateRepo) RecordIssue(ctx context.Context, issue *domain.CertificateIssue) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO certificate_issues (programid, allocationid, userid, issueid, timecompleted, timecreated)
		VALUES (?, ?, ?, ?, ?, ?)`,
		issue.ProgramID, issue.AllocationID, issue.UserID, issue.IssueID, issue.TimeCompleted.Unix(), issue.TimeCreated.Unix())
	if err != nil {
		return fmt.Errorf("recording certificate issue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading certificate issue id: %w", err)
	}
	issue.ID = id
	return nil
}

func (r *SQLiteCertificateRepo) ListIssues(ctx context.Context, allocationID int64) ([]*domain.CertificateIssue, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, programid, allocationid, userid, issueid, timecompleted, timecreated
		FROM certificate_issues WHERE allocationid = ? ORDER BY id`, allocationID)
	if err != nil {
		return nil, fmt.Errorf("listing certificate issues: %w", err)
	}
	defer rows.Close()

	var out []*domain.CertificateIssue
	for rows.Next() {
		var ci domain.CertificateIssue
		var completed, created int64
		if err := rows.Scan(&ci.ID, &ci.ProgramID, &ci.AllocationID, &ci.UserID, &ci.IssueID, &completed, &created); err != nil {
			return nil, fmt.Errorf("scanning certificate issue: %w", err)
		}
		ci.TimeCompleted = unixToTime(completed)
		ci.TimeCreated = unixToTime(created)
		out = append(out, &ci)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating certificate issues: %w", err)
	}
	return out, nil
}
