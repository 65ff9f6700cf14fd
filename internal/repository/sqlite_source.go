package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
)

// SQLiteSourceRepo implements SourceRepo using a SQLite database.
type SQLiteSourceRepo struct {
	db db.DBTX
}

// NewSQLiteSourceRepo creates a new SQLiteSourceRepo.
func NewSQLiteSourceRepo(db db.DBTX) *SQLiteSourceRepo {
	return &SQLiteSourceRepo{db: db}
}

const sourceColumns = `id, programid, type, datajson, auxint1, auxint2, auxint3`

func (r *SQLiteSourceRepo) Create(ctx context.Context, s *domain.Source) error {
	if s.Data == "" {
		s.Data = "{}"
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO sources (programid, type, datajson, auxint1, auxint2, auxint3) VALUES (?, ?, ?, ?, ?, ?)`,
		s.ProgramID, string(s.Type), s.Data,
		nullableInt64(s.AuxInt1), nullableInt64(s.AuxInt2), nullableInt64(s.AuxInt3),
	)
	if err != nil {
		return fmt.Errorf("inserting source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading source id: %w", err)
	}
	s.ID = id
	return nil
}

func (r *SQLiteSourceRepo) GetByID(ctx context.Context, id int64) (*domain.Source, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	s, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %d: %w", id, domain.ErrNotFound)
	}
	return s, err
}

func (r *SQLiteSourceRepo) GetByProgramType(ctx context.Context, programID int64, t domain.SourceType) (*domain.Source, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE programid = ? AND type = ?`, programID, string(t))
	s, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s source of program %d: %w", t, programID, domain.ErrNotFound)
	}
	return s, err
}

func (r *SQLiteSourceRepo) ListByProgram(ctx context.Context, programID int64) ([]*domain.Source, error) {
	return r.list(ctx, `SELECT `+sourceColumns+` FROM sources WHERE programid = ? ORDER BY id`, programID)
}

func (r *SQLiteSourceRepo) ListByType(ctx context.Context, t domain.SourceType) ([]*domain.Source, error) {
	return r.list(ctx, `SELECT `+sourceColumns+` FROM sources WHERE type = ? ORDER BY id`, string(t))
}

func (r *SQLiteSourceRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Source, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	var sources []*domain.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sources: %w", err)
	}
	return sources, nil
}

func (r *SQLiteSourceRepo) Update(ctx context.Context, s *domain.Source) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET datajson = ?, auxint1 = ?, auxint2 = ?, auxint3 = ? WHERE id = ?`,
		s.Data, nullableInt64(s.AuxInt1), nullableInt64(s.AuxInt2), nullableInt64(s.AuxInt3), s.ID,
	)
	if err != nil {
		return fmt.Errorf("updating source: %w", err)
	}
	return nil
}

func (r *SQLiteSourceRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting source: %w", err)
	}
	return nil
}

func (r *SQLiteSourceRepo) SetCohorts(ctx context.Context, sourceID int64, cohortIDs []int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM source_cohorts WHERE sourceid = ?`, sourceID); err != nil {
		return fmt.Errorf("clearing source cohorts: %w", err)
	}
	for _, cid := range cohortIDs {
		if _, err := r.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO source_cohorts (sourceid, cohortid) VALUES (?, ?)`, sourceID, cid); err != nil {
			return fmt.Errorf("inserting source cohort: %w", err)
		}
	}
	return nil
}

func (r *SQLiteSourceRepo) ListCohorts(ctx context.Context, sourceID int64) ([]int64, error) {
	return queryIDs(ctx, r.db, `SELECT cohortid FROM source_cohorts WHERE sourceid = ? ORDER BY cohortid`, sourceID)
}

func scanSource(s rowScanner) (*domain.Source, error) {
	var src domain.Source
	var t string
	var a1, a2, a3 sql.NullInt64
	if err := s.Scan(&src.ID, &src.ProgramID, &t, &src.Data, &a1, &a2, &a3); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning source: %w", err)
	}
	src.Type = domain.SourceType(t)
	src.AuxInt1 = parseNullableInt64(a1)
	src.AuxInt2 = parseNullableInt64(a2)
	src.AuxInt3 = parseNullableInt64(a3)
	return &src, nil
}
