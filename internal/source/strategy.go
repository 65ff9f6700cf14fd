// Package source implements the allocation source strategies: the policies
// that decide which users hold an allocation in a program.
package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/repository"
)

// Scope narrows a fix run. Nil ids mean every program or every user; Now is
// the pinned sweep time.
type Scope struct {
	ProgramID *int64
	UserID    *int64
	Now       time.Time
}

// where appends the scope filters for the given columns.
func (s Scope) where(programCol, userCol string) (string, []any) {
	var b strings.Builder
	var args []any
	if s.ProgramID != nil {
		b.WriteString(" AND " + programCol + " = ?")
		args = append(args, *s.ProgramID)
	}
	if s.UserID != nil {
		b.WriteString(" AND " + userCol + " = ?")
		args = append(args, *s.UserID)
	}
	return b.String(), args
}

// Strategy is one allocation source type.
type Strategy interface {
	Type() domain.SourceType
	IsNewAllowed(p *domain.Program) bool
	IsUpdateAllowed(p *domain.Program) bool
	// ValidateSettings checks the source datajson before it is stored.
	ValidateSettings(p *domain.Program, data string) error
	// FixAllocations re-derives the allocations this source justifies and
	// reports whether any row changed.
	FixAllocations(ctx context.Context, scope Scope) (bool, error)
	IsAllocationDeletePossible(ctx context.Context, p *domain.Program, s *domain.Source, a *domain.Allocation) (bool, error)
	IsAllocationArchivePossible(p *domain.Program, s *domain.Source, a *domain.Allocation) bool
	IsAllocationRestorePossible(p *domain.Program, s *domain.Source, a *domain.Allocation) bool
	IsImportAllowed(from, to *domain.Program) bool
	ImportSourceData(ctx context.Context, fromProgramID, toProgramID int64) error
}

// base carries the defaults most strategies share.
type base struct {
	typ     domain.SourceType
	enabled bool
	db      db.DBTX
	alloc   *Allocator
}

func (b *base) Type() domain.SourceType { return b.typ }

func (b *base) IsNewAllowed(p *domain.Program) bool {
	return b.enabled && !p.Archived
}

func (b *base) IsUpdateAllowed(p *domain.Program) bool {
	return !p.Archived
}

func (b *base) ValidateSettings(_ *domain.Program, data string) error {
	if data == "" {
		return nil
	}
	if !json.Valid([]byte(data)) {
		return domain.NewValidationError("datajson", "must be a JSON object", domain.ErrSourceNotAllowed)
	}
	return nil
}

func (b *base) FixAllocations(context.Context, Scope) (bool, error) {
	return false, nil
}

func (b *base) IsAllocationDeletePossible(context.Context, *domain.Program, *domain.Source, *domain.Allocation) (bool, error) {
	return true, nil
}

func (b *base) IsAllocationArchivePossible(_ *domain.Program, _ *domain.Source, a *domain.Allocation) bool {
	return !a.Archived
}

func (b *base) IsAllocationRestorePossible(p *domain.Program, _ *domain.Source, a *domain.Allocation) bool {
	return a.Archived && !p.Archived
}

func (b *base) IsImportAllowed(_, to *domain.Program) bool {
	return b.IsNewAllowed(to)
}

// ImportSourceData copies the source row of fromProgramID into toProgramID,
// updating the target source when it already exists.
func (b *base) ImportSourceData(ctx context.Context, fromProgramID, toProgramID int64) error {
	_, err := b.importRow(ctx, fromProgramID, toProgramID)
	return err
}

func (b *base) importRow(ctx context.Context, fromProgramID, toProgramID int64) (*domain.Source, error) {
	var target *domain.Source
	err := b.alloc.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		repos := repository.NewRepos(tx)
		from, err := repos.Sources.GetByProgramType(ctx, fromProgramID, b.typ)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("program %d %s source: %w", fromProgramID, b.typ, domain.ErrSourceMissing)
		}
		if err != nil {
			return err
		}
		to, err := repos.Sources.GetByProgramType(ctx, toProgramID, b.typ)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			to = &domain.Source{ProgramID: toProgramID, Type: b.typ, Data: from.Data,
				AuxInt1: from.AuxInt1, AuxInt2: from.AuxInt2, AuxInt3: from.AuxInt3}
			if err := repos.Sources.Create(ctx, to); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			to.Data, to.AuxInt1, to.AuxInt2, to.AuxInt3 = from.Data, from.AuxInt1, from.AuxInt2, from.AuxInt3
			if err := repos.Sources.Update(ctx, to); err != nil {
				return err
			}
		}
		target = to
		return nil
	})
	return target, err
}

// candidate is one row of a fix query: a program, a referenced row (source
// or allocation, depending on the query) and a user.
type candidate struct {
	ProgramID int64
	RefID     int64
	UserID    int64
}

func queryCandidates(ctx context.Context, q db.DBTX, query string, args ...any) ([]candidate, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying candidates: %w", err)
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.ProgramID, &c.RefID, &c.UserID); err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating candidates: %w", err)
	}
	return out, nil
}

// lookup caches programs and sources for the duration of one fix run.
type lookup struct {
	repos    *repository.Repos
	programs map[int64]*domain.Program
	sources  map[int64]*domain.Source
}

func newLookup(q db.DBTX) *lookup {
	return &lookup{
		repos:    repository.NewRepos(q),
		programs: make(map[int64]*domain.Program),
		sources:  make(map[int64]*domain.Source),
	}
}

func (l *lookup) program(ctx context.Context, id int64) (*domain.Program, error) {
	if p, ok := l.programs[id]; ok {
		return p, nil
	}
	p, err := l.repos.Programs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	l.programs[id] = p
	return p, nil
}

func (l *lookup) source(ctx context.Context, id int64) (*domain.Source, error) {
	if s, ok := l.sources[id]; ok {
		return s, nil
	}
	s, err := l.repos.Sources.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	l.sources[id] = s
	return s, nil
}

// windowOpen is the allocation window condition on programs p, bound twice to now.
const windowOpen = `(p.timeallocationstart IS NULL OR p.timeallocationstart <= ?)
	AND (p.timeallocationend IS NULL OR p.timeallocationend > ?)`

func decodeSettings(data string, v any) error {
	if data == "" {
		data = "{}"
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("decoding source settings: %w", err)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, domain.ErrNotFound)
}
