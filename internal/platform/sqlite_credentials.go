package platform

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SQLiteCertificates issues certificates into issued_certificates.
type SQLiteCertificates struct {
	db db.DBTX
}

func (c *SQLiteCertificates) Issue(ctx context.Context, templateID, userID int64, expires *time.Time, data map[string]any) (int64, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("encoding certificate data: %w", err)
	}
	var exp any
	if expires != nil {
		exp = expires.Unix()
	}
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO issued_certificates (templateid, userid, code, expires, component, data, timecreated)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		templateID, userID, uuid.New().String(), exp, Component, string(payload), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("issuing certificate: %w", err)
	}
	return res.LastInsertId()
}

// SQLiteTraining reads training_frameworks and training_completions.
// Credits are stored as decimal strings.
type SQLiteTraining struct {
	db db.DBTX
}

func (t *SQLiteTraining) Framework(ctx context.Context, id int64) (*Framework, error) {
	var f Framework
	var required string
	var restricted int
	err := t.db.QueryRowContext(ctx,
		`SELECT id, name, requiredtraining, restrictedcompletion FROM training_frameworks WHERE id = ?`, id,
	).Scan(&f.ID, &f.Name, &required, &restricted)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("training framework %d", id))
	}
	if f.RequiredTraining, err = decimal.NewFromString(required); err != nil {
		return nil, fmt.Errorf("parsing requiredtraining %q: %w", required, err)
	}
	f.RestrictedCompletion = restricted != 0
	return &f, nil
}

func (t *SQLiteTraining) Credits(ctx context.Context, frameworkID, userID int64, since *time.Time) (decimal.Decimal, error) {
	query := `SELECT credits FROM training_completions WHERE frameworkid = ? AND userid = ?`
	args := []any{frameworkID, userID}
	if since != nil {
		query += ` AND timecompleted >= ?`
		args = append(args, since.Unix())
	}
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("listing training credits: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("scanning training credits: %w", err)
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parsing training credits %q: %w", raw, err)
		}
		total = total.Add(v)
	}
	return total, rows.Err()
}

// SQLiteCertifications reads certifications and certification_periods.
type SQLiteCertifications struct {
	db db.DBTX
}

func (c *SQLiteCertifications) GetCertification(ctx context.Context, id int64) (*Certification, error) {
	var cert Certification
	var archived int
	err := c.db.QueryRowContext(ctx,
		`SELECT id, fullname, resettype, archived FROM certifications WHERE id = ?`, id,
	).Scan(&cert.ID, &cert.FullName, &cert.ResetType, &archived)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("certification %d", id))
	}
	cert.Archived = archived != 0
	return &cert, nil
}

const periodColumns = `id, certificationid, userid, programid, allocationid, timewindowstart, timewindowdue,
	timewindowend, timecertified, timerevoked`

func (c *SQLiteCertifications) ListPeriods(ctx context.Context, programID int64, userID *int64) ([]Period, error) {
	query := `SELECT ` + periodColumns + ` FROM certification_periods WHERE programid = ?`
	args := []any{programID}
	if userID != nil {
		query += ` AND userid = ?`
		args = append(args, *userID)
	}
	query += ` ORDER BY userid, timewindowstart, id`
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing certification periods: %w", err)
	}
	defer rows.Close()

	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (c *SQLiteCertifications) GetPeriod(ctx context.Context, id int64) (*Period, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+periodColumns+` FROM certification_periods WHERE id = ?`, id)
	p, err := scanPeriod(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("certification period %d", id))
	}
	return p, nil
}

func (c *SQLiteCertifications) LinkAllocation(ctx context.Context, periodID int64, allocationID *int64) error {
	var v any
	if allocationID != nil {
		v = *allocationID
	}
	if _, err := c.db.ExecContext(ctx, `UPDATE certification_periods SET allocationid = ? WHERE id = ?`, v, periodID); err != nil {
		return fmt.Errorf("linking certification period: %w", err)
	}
	return nil
}

func (c *SQLiteCertifications) MarkCertified(ctx context.Context, periodID int64, at time.Time) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE certification_periods SET timecertified = ? WHERE id = ? AND timecertified IS NULL`, at.Unix(), periodID)
	if err != nil {
		return fmt.Errorf("marking period certified: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPeriod(s scanner) (*Period, error) {
	var p Period
	var alloc, due, end, certified, revoked sql.NullInt64
	var start int64
	if err := s.Scan(&p.ID, &p.CertificationID, &p.UserID, &p.ProgramID, &alloc, &start, &due, &end, &certified, &revoked); err != nil {
		return nil, err
	}
	p.TimeWindowStart = time.Unix(start, 0).UTC()
	if alloc.Valid {
		v := alloc.Int64
		p.AllocationID = &v
	}
	p.TimeWindowDue = nullTime(due)
	p.TimeWindowEnd = nullTime(end)
	p.TimeCertified = nullTime(certified)
	p.TimeRevoked = nullTime(revoked)
	return &p, nil
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
