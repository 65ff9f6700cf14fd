package app

import (
	"context"
	"fmt"

	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/importer"
	"github.com/alexanderramin/programs/internal/service"
)

type importUseCase struct {
	engine *Engine
}

func (u *importUseCase) ImportFile(ctx context.Context, path string) (*ImportResult, error) {
	f, err := importer.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return u.Import(ctx, f)
}

// Import creates every valid program of f. A program that fails while
// being committed is deleted again and reported like a validation failure.
func (u *importUseCase) Import(ctx context.Context, f *importer.File) (*ImportResult, error) {
	res := &ImportResult{Errors: importer.Validate(f)}
	for i, p := range f.Programs {
		row := p.Row(i)
		if res.Errors.Has(row) {
			continue
		}
		prog, items, sources, err := u.commit(ctx, p)
		if err != nil {
			res.Errors.Add(row, err)
			continue
		}
		res.Programs = append(res.Programs, prog)
		res.Items += items
		res.Sources += sources
	}
	return res, nil
}

func (u *importUseCase) commit(ctx context.Context, p importer.ProgramImport) (*domain.Program, int, int, error) {
	e := u.engine
	prog, err := p.Program()
	if err != nil {
		return nil, 0, 0, err
	}
	if err := e.Programs.Create(ctx, prog); err != nil {
		return nil, 0, 0, err
	}

	items, sources, err := u.fill(ctx, prog, p)
	if err != nil {
		if delErr := e.Programs.Delete(ctx, prog.ID); delErr != nil {
			e.Logger.WarnContext(ctx, "removing partially imported program", "program_id", prog.ID, "error", delErr)
		}
		return nil, 0, 0, err
	}
	if err := e.Reconciler.Sync(ctx, &prog.ID, nil); err != nil {
		return nil, 0, 0, fmt.Errorf("syncing program %s: %w", prog.IDNumber, err)
	}
	return prog, items, sources, nil
}

func (u *importUseCase) fill(ctx context.Context, prog *domain.Program, p importer.ProgramImport) (items, sources int, err error) {
	e := u.engine
	tree, err := e.Content.Tree(ctx, prog.ID)
	if err != nil {
		return 0, 0, err
	}
	top := tree.Item.ID
	for i, it := range p.Content {
		n, err := u.appendItem(ctx, top, it)
		if err != nil {
			return 0, 0, fmt.Errorf("content[%d]: %w", i, err)
		}
		items += n
	}
	if err := e.Content.UpdateSet(ctx, top, p.TopRules(), service.ItemOptions{}); err != nil {
		return 0, 0, fmt.Errorf("top set: %w", err)
	}

	for i, s := range p.Sources {
		typ := domain.SourceType(s.Type)
		if typ == domain.SourceManual {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return 0, 0, err
		}
		if _, err := e.Sources.UpdateSource(ctx, prog.ID, typ, data); err != nil {
			return 0, 0, fmt.Errorf("sources[%d]: %w", i, err)
		}
		if typ == domain.SourceCohort && len(s.Cohorts) > 0 {
			if err := e.Sources.Cohort().SetCohorts(ctx, prog.ID, s.Cohorts); err != nil {
				return 0, 0, fmt.Errorf("sources[%d].cohorts: %w", i, err)
			}
		}
		sources++
	}

	for _, n := range p.Notifications {
		if err := e.Programs.SetNotification(ctx, prog.ID, domain.NotificationType(n), true); err != nil {
			return 0, 0, err
		}
	}
	return items, sources, nil
}

func (u *importUseCase) appendItem(ctx context.Context, parentID int64, it importer.ItemImport) (int, error) {
	opts := service.ItemOptions{
		FullName:        it.Name(),
		IDNumber:        it.IDNumber,
		Points:          it.Points,
		CompletionDelay: it.CompletionDelay,
	}
	content := u.engine.Content
	switch it.Kind() {
	case domain.ItemCourse:
		_, err := content.AppendCourse(ctx, parentID, it.Course, opts)
		return 1, err
	case domain.ItemTraining:
		_, err := content.AppendTraining(ctx, parentID, it.Training, opts)
		return 1, err
	}

	set, err := content.AppendSet(ctx, parentID, it.Rules(), opts)
	if err != nil {
		return 0, err
	}
	count := 1
	for i, child := range it.Items {
		n, err := u.appendItem(ctx, set.ID, child)
		if err != nil {
			return 0, fmt.Errorf("items[%d]: %w", i, err)
		}
		count += n
	}
	return count, nil
}
