package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
)

// SQLiteItemRepo implements ItemRepo using a SQLite database.
type SQLiteItemRepo struct {
	db db.DBTX
}

// NewSQLiteItemRepo creates a new SQLiteItemRepo.
func NewSQLiteItemRepo(db db.DBTX) *SQLiteItemRepo {
	return &SQLiteItemRepo{db: db}
}

const itemColumns = `id, programid, topitem, parentid, sortorder, idnumber, fullname, kind, courseid, trainingid,
	sequencetype, minprerequisites, minpoints, points, completiondelay, previtemid`

func (r *SQLiteItemRepo) Create(ctx context.Context, i *domain.Item) error {
	query := `INSERT INTO items (programid, topitem, parentid, sortorder, idnumber, fullname, kind, courseid, trainingid,
		sequencetype, minprerequisites, minpoints, points, completiondelay, previtemid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		i.ProgramID,
		boolToInt(i.TopItem),
		nullableInt64(i.ParentID),
		i.SortOrder,
		i.IDNumber,
		i.FullName,
		string(i.Kind),
		nullableInt64(i.CourseID),
		nullableInt64(i.TrainingID),
		nullableSequence(i.SequenceType),
		nullableIntToValue(i.MinPrerequisites),
		nullableIntToValue(i.MinPoints),
		i.Points,
		i.CompletionDelay,
		nullableInt64(i.PrevItemID),
	)
	if err != nil {
		return fmt.Errorf("inserting item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading item id: %w", err)
	}
	i.ID = id
	return nil
}

func (r *SQLiteItemRepo) GetByID(ctx context.Context, id int64) (*domain.Item, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	i, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %d: %w", id, domain.ErrNotFound)
	}
	return i, err
}

func (r *SQLiteItemRepo) GetTop(ctx context.Context, programID int64) (*domain.Item, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE programid = ? AND topitem = 1`, programID)
	i, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("top item of program %d: %w", programID, domain.ErrNotFound)
	}
	return i, err
}

func (r *SQLiteItemRepo) ListByProgram(ctx context.Context, programID int64) ([]*domain.Item, error) {
	return r.list(ctx, `SELECT `+itemColumns+` FROM items WHERE programid = ? ORDER BY parentid, sortorder, id`, programID)
}

func (r *SQLiteItemRepo) ListChildren(ctx context.Context, parentID int64) ([]*domain.Item, error) {
	return r.list(ctx, `SELECT `+itemColumns+` FROM items WHERE parentid = ? ORDER BY sortorder, id`, parentID)
}

func (r *SQLiteItemRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []*domain.Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating items: %w", err)
	}
	return items, nil
}

func (r *SQLiteItemRepo) Update(ctx context.Context, i *domain.Item) error {
	query := `UPDATE items SET parentid = ?, sortorder = ?, idnumber = ?, fullname = ?, sequencetype = ?,
		minprerequisites = ?, minpoints = ?, points = ?, completiondelay = ?, previtemid = ?
		WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query,
		nullableInt64(i.ParentID),
		i.SortOrder,
		i.IDNumber,
		i.FullName,
		nullableSequence(i.SequenceType),
		nullableIntToValue(i.MinPrerequisites),
		nullableIntToValue(i.MinPoints),
		i.Points,
		i.CompletionDelay,
		nullableInt64(i.PrevItemID),
		i.ID,
	)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	return nil
}

func (r *SQLiteItemRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

func (r *SQLiteItemRepo) ReplacePrerequisites(ctx context.Context, itemID int64, prerequisiteIDs []int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM item_prerequisites WHERE itemid = ?`, itemID); err != nil {
		return fmt.Errorf("clearing prerequisites: %w", err)
	}
	for _, pid := range prerequisiteIDs {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO item_prerequisites (itemid, prerequisiteitemid) VALUES (?, ?)`, itemID, pid); err != nil {
			return fmt.Errorf("inserting prerequisite: %w", err)
		}
	}
	return nil
}

func (r *SQLiteItemRepo) ListPrerequisites(ctx context.Context, itemID int64) ([]int64, error) {
	return queryIDs(ctx, r.db,
		`SELECT prerequisiteitemid FROM item_prerequisites WHERE itemid = ? ORDER BY prerequisiteitemid`, itemID)
}

func nullableSequence(s domain.SequenceType) any {
	if s == "" {
		return nil
	}
	return string(s)
}

func scanItem(s rowScanner) (*domain.Item, error) {
	var i domain.Item
	var top int
	var kind string
	var parent, course, training, minPrereq, minPoints, prev sql.NullInt64
	var seq sql.NullString

	err := s.Scan(
		&i.ID, &i.ProgramID, &top, &parent, &i.SortOrder, &i.IDNumber, &i.FullName, &kind,
		&course, &training, &seq, &minPrereq, &minPoints, &i.Points, &i.CompletionDelay, &prev,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning item: %w", err)
	}

	i.TopItem = intToBool(top)
	i.Kind = domain.ItemKind(kind)
	i.ParentID = parseNullableInt64(parent)
	i.CourseID = parseNullableInt64(course)
	i.TrainingID = parseNullableInt64(training)
	i.SequenceType = domain.SequenceType(seq.String)
	i.MinPrerequisites = parseNullableInt(minPrereq)
	i.MinPoints = parseNullableInt(minPoints)
	i.PrevItemID = parseNullableInt64(prev)
	return &i, nil
}
