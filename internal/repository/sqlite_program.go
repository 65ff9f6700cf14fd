package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
)

// SQLiteProgramRepo implements ProgramRepo using a SQLite database.
type SQLiteProgramRepo struct {
	db db.DBTX
}

// NewSQLiteProgramRepo creates a new SQLiteProgramRepo.
func NewSQLiteProgramRepo(db db.DBTX) *SQLiteProgramRepo {
	return &SQLiteProgramRepo{db: db}
}

const programColumns = `id, contextid, fullname, idnumber, description, archived, publicaccess, creategroups,
	timeallocationstart, timeallocationend, startdatejson, duedatejson, enddatejson, timecreated`

func (r *SQLiteProgramRepo) Create(ctx context.Context, p *domain.Program) error {
	if p.ContextID == 0 {
		p.ContextID = 1
	}
	query := `INSERT INTO programs (contextid, fullname, idnumber, description, archived, publicaccess, creategroups,
		timeallocationstart, timeallocationend, startdatejson, duedatejson, enddatejson, timecreated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		p.ContextID,
		p.FullName,
		p.IDNumber,
		p.Description,
		boolToInt(p.Archived),
		boolToInt(p.PublicAccess),
		boolToInt(p.CreateGroups),
		nullableUnix(p.TimeAllocationStart),
		nullableUnix(p.TimeAllocationEnd),
		p.StartDate.JSON(),
		p.DueDate.JSON(),
		p.EndDate.JSON(),
		p.TimeCreated.Unix(),
	)
	if err != nil {
		return fmt.Errorf("inserting program: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading program id: %w", err)
	}
	p.ID = id
	return nil
}

func (r *SQLiteProgramRepo) GetByID(ctx context.Context, id int64) (*domain.Program, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+programColumns+` FROM programs WHERE id = ?`, id)
	p, err := scanProgram(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("program %d: %w", id, domain.ErrNotFound)
	}
	return p, err
}

func (r *SQLiteProgramRepo) GetByIDNumber(ctx context.Context, idnumber string) (*domain.Program, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+programColumns+` FROM programs WHERE idnumber = ?`, idnumber)
	p, err := scanProgram(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("program %q: %w", idnumber, domain.ErrNotFound)
	}
	return p, err
}

func (r *SQLiteProgramRepo) List(ctx context.Context, includeArchived bool) ([]*domain.Program, error) {
	query := `SELECT ` + programColumns + ` FROM programs`
	if !includeArchived {
		query += ` WHERE archived = 0`
	}
	query += ` ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var programs []*domain.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		programs = append(programs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating programs: %w", err)
	}
	return programs, nil
}

func (r *SQLiteProgramRepo) Update(ctx context.Context, p *domain.Program) error {
	query := `UPDATE programs SET fullname = ?, idnumber = ?, description = ?, publicaccess = ?, creategroups = ?,
		timeallocationstart = ?, timeallocationend = ?, startdatejson = ?, duedatejson = ?, enddatejson = ?
		WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query,
		p.FullName,
		p.IDNumber,
		p.Description,
		boolToInt(p.PublicAccess),
		boolToInt(p.CreateGroups),
		nullableUnix(p.TimeAllocationStart),
		nullableUnix(p.TimeAllocationEnd),
		p.StartDate.JSON(),
		p.DueDate.JSON(),
		p.EndDate.JSON(),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating program: %w", err)
	}
	return nil
}

func (r *SQLiteProgramRepo) SetArchived(ctx context.Context, id int64, archived bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE programs SET archived = ? WHERE id = ?`, boolToInt(archived), id)
	if err != nil {
		return fmt.Errorf("archiving program: %w", err)
	}
	return nil
}

func (r *SQLiteProgramRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM programs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting program: %w", err)
	}
	return nil
}

func (r *SQLiteProgramRepo) HasActive(ctx context.Context) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM programs WHERE archived = 0)`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking active programs: %w", err)
	}
	return intToBool(n), nil
}

func (r *SQLiteProgramRepo) SetCohorts(ctx context.Context, programID int64, cohortIDs []int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM program_cohorts WHERE programid = ?`, programID); err != nil {
		return fmt.Errorf("clearing program cohorts: %w", err)
	}
	for _, cid := range cohortIDs {
		if _, err := r.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO program_cohorts (programid, cohortid) VALUES (?, ?)`, programID, cid); err != nil {
			return fmt.Errorf("inserting program cohort: %w", err)
		}
	}
	return nil
}

func (r *SQLiteProgramRepo) ListCohorts(ctx context.Context, programID int64) ([]int64, error) {
	return queryIDs(ctx, r.db, `SELECT cohortid FROM program_cohorts WHERE programid = ? ORDER BY cohortid`, programID)
}

// IsVisibleTo reports whether a program is public or shares a visible
// cohort with the user.
func (r *SQLiteProgramRepo) IsVisibleTo(ctx context.Context, programID, userID int64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM programs p
			WHERE p.id = ? AND (p.publicaccess = 1 OR EXISTS (
				SELECT 1 FROM program_cohorts pc
				JOIN cohort_members cm ON cm.cohortid = pc.cohortid
				WHERE pc.programid = p.id AND cm.userid = ?
			))
		)`, programID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking program visibility: %w", err)
	}
	return intToBool(n), nil
}

func scanProgram(s rowScanner) (*domain.Program, error) {
	var p domain.Program
	var archived, public, groups int
	var allocStart, allocEnd sql.NullInt64
	var startJSON, dueJSON, endJSON string
	var created int64

	err := s.Scan(
		&p.ID, &p.ContextID, &p.FullName, &p.IDNumber, &p.Description,
		&archived, &public, &groups,
		&allocStart, &allocEnd,
		&startJSON, &dueJSON, &endJSON,
		&created,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning program: %w", err)
	}

	p.Archived = intToBool(archived)
	p.PublicAccess = intToBool(public)
	p.CreateGroups = intToBool(groups)
	p.TimeAllocationStart = parseNullableUnix(allocStart)
	p.TimeAllocationEnd = parseNullableUnix(allocEnd)
	p.TimeCreated = unixToTime(created)

	if p.StartDate, err = domain.ParseScheduleSpec(startJSON); err != nil {
		return nil, fmt.Errorf("parsing startdatejson: %w", err)
	}
	if p.DueDate, err = domain.ParseScheduleSpec(dueJSON); err != nil {
		return nil, fmt.Errorf("parsing duedatejson: %w", err)
	}
	if p.EndDate, err = domain.ParseScheduleSpec(endJSON); err != nil {
		return nil, fmt.Errorf("parsing enddatejson: %w", err)
	}
	return &p, nil
}

// queryIDs runs a single-column integer query.
func queryIDs(ctx context.Context, q db.DBTX, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ids: %w", err)
	}
	return ids, nil
}
