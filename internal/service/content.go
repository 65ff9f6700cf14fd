package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexanderramin/programs/internal/db"
	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/repository"
)

type contentService struct {
	deps     Deps
	items    repository.ItemRepo
	observer UseCaseObserver
}

func NewContentService(deps Deps, observers ...UseCaseObserver) ContentService {
	return &contentService{
		deps:     deps,
		items:    repository.NewSQLiteItemRepo(deps.DB),
		observer: useCaseObserverOrNoop(observers),
	}
}

// Tree returns the program's content as an explicit tree rooted at the top
// item. Children are ordered by sortorder.
func (s *contentService) Tree(ctx context.Context, programID int64) (*domain.ItemNode, error) {
	items, err := s.items.ListByProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	return buildTree(programID, items)
}

func buildTree(programID int64, items []*domain.Item) (*domain.ItemNode, error) {
	nodes := make(map[int64]*domain.ItemNode, len(items))
	var root *domain.ItemNode
	for _, it := range items {
		nodes[it.ID] = &domain.ItemNode{Item: it}
		if it.TopItem {
			root = nodes[it.ID]
		}
	}
	if root == nil {
		return nil, fmt.Errorf("top item of program %d: %w", programID, domain.ErrNotFound)
	}
	// ListByProgram orders by parent then sortorder, so appends keep order.
	for _, it := range items {
		if it.ParentID == nil {
			continue
		}
		parent, ok := nodes[*it.ParentID]
		if !ok {
			return nil, fmt.Errorf("item %d: parent %d: %w", it.ID, *it.ParentID, domain.ErrNotFound)
		}
		parent.Children = append(parent.Children, nodes[it.ID])
	}
	return root, nil
}

func (s *contentService) AppendCourse(ctx context.Context, parentID, courseID int64, opts ItemOptions) (*domain.Item, error) {
	item := &domain.Item{Kind: domain.ItemCourse, CourseID: &courseID}
	err := s.append(ctx, "item-append-course", parentID, item, opts, func(ctx context.Context, tx db.DBTX, parent *domain.Item) error {
		var name string
		err := tx.QueryRowContext(ctx, `SELECT fullname FROM courses WHERE id = ?`, courseID).Scan(&name)
		if err != nil {
			return fmt.Errorf("course %d: %w", courseID, domain.ErrNotFound)
		}
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM items WHERE programid = ? AND courseid = ?`, parent.ProgramID, courseID).Scan(&n); err != nil {
			return fmt.Errorf("checking course items: %w", err)
		}
		if n > 0 {
			return domain.NewValidationError("courseid", fmt.Sprintf("course %d is already in the program", courseID), domain.ErrInvalidItem)
		}
		if item.FullName == "" {
			item.FullName = name
		}
		return nil
	})
	return item, err
}

func (s *contentService) AppendTraining(ctx context.Context, parentID, frameworkID int64, opts ItemOptions) (*domain.Item, error) {
	item := &domain.Item{Kind: domain.ItemTraining, TrainingID: &frameworkID}
	err := s.append(ctx, "item-append-training", parentID, item, opts, func(ctx context.Context, tx db.DBTX, _ *domain.Item) error {
		var name string
		if err := tx.QueryRowContext(ctx, `SELECT name FROM training_frameworks WHERE id = ?`, frameworkID).Scan(&name); err != nil {
			return fmt.Errorf("training framework %d: %w", frameworkID, domain.ErrNotFound)
		}
		if item.FullName == "" {
			item.FullName = name
		}
		return nil
	})
	return item, err
}

func (s *contentService) AppendSet(ctx context.Context, parentID int64, rules domain.SetRules, opts ItemOptions) (*domain.Item, error) {
	item := &domain.Item{Kind: domain.ItemSet}
	err := s.append(ctx, "item-append-set", parentID, item, opts, func(context.Context, db.DBTX, *domain.Item) error {
		if item.FullName == "" {
			return domain.NewValidationError("fullname", "is required", domain.ErrInvalidItem)
		}
		if rules.SequenceType == "" {
			rules.SequenceType = domain.SequenceAllInAnyOrder
		}
		minPrereq, minPoints, err := rules.Resolve(0)
		if err != nil {
			return err
		}
		item.SequenceType = rules.SequenceType
		item.MinPrerequisites = minPrereq
		item.MinPoints = minPoints
		return nil
	})
	return item, err
}

// append inserts item as the last child of parentID. prepare fills the
// kind specific fields inside the transaction.
func (s *contentService) append(ctx context.Context, name string, parentID int64, item *domain.Item, opts ItemOptions,
	prepare func(ctx context.Context, tx db.DBTX, parent *domain.Item) error) (err error) {
	defer track(ctx, s.observer, name, map[string]any{"parent_id": parentID})(&err)

	item.FullName = opts.FullName
	item.IDNumber = opts.IDNumber
	item.Points = 1
	if opts.Points != nil {
		item.Points = *opts.Points
	}
	if opts.CompletionDelay != nil {
		item.CompletionDelay = *opts.CompletionDelay
	}
	if err := domain.ValidateItemValues(item.Points, item.CompletionDelay); err != nil {
		return err
	}

	err = s.deps.UoW.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		items := repository.NewSQLiteItemRepo(tx)
		parent, err := items.GetByID(ctx, parentID)
		if err != nil {
			return err
		}
		if !parent.IsSet() {
			return domain.NewValidationError("parentid", "items can only be added to sets", domain.ErrInvalidItem)
		}
		if err := prepare(ctx, tx, parent); err != nil {
			return err
		}
		siblings, err := items.ListChildren(ctx, parent.ID)
		if err != nil {
			return err
		}
		item.ProgramID = parent.ProgramID
		item.ParentID = &parent.ID
		item.SortOrder = len(siblings)
		if err := items.Create(ctx, item); err != nil {
			return err
		}
		return recomputeSet(ctx, items, parent.ID)
	})
	if err != nil {
		return err
	}
	return s.deps.Sync.Sync(ctx, &item.ProgramID, nil)
}

// UpdateSet changes the completion rules of a set. The stored
// minprerequisites and minpoints follow the sequence type and child count.
func (s *contentService) UpdateSet(ctx context.Context, itemID int64, rules domain.SetRules, opts ItemOptions) (err error) {
	defer track(ctx, s.observer, "item-update-set", map[string]any{"item_id": itemID})(&err)

	var programID int64
	err = s.deps.UoW.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		items := repository.NewSQLiteItemRepo(tx)
		item, err := items.GetByID(ctx, itemID)
		if err != nil {
			return err
		}
		if !item.IsSet() {
			return domain.NewValidationError("itemid", "is not a set", domain.ErrInvalidItem)
		}
		children, err := items.ListChildren(ctx, itemID)
		if err != nil {
			return err
		}
		if _, _, err := rules.Resolve(len(children)); err != nil {
			return err
		}
		item.SequenceType = rules.SequenceType
		if rules.SequenceType == domain.SequenceAtLeast {
			item.MinPrerequisites = ptr(rules.MinPrerequisites)
		}
		if rules.SequenceType == domain.SequenceMinPoints {
			item.MinPoints = ptr(rules.MinPoints)
		}
		if err := applyOptions(item, opts); err != nil {
			return err
		}
		if err := items.Update(ctx, item); err != nil {
			return err
		}
		programID = item.ProgramID
		return recomputeSet(ctx, items, itemID)
	})
	if err != nil {
		return err
	}
	return s.deps.Sync.Sync(ctx, &programID, nil)
}

func (s *contentService) UpdateItem(ctx context.Context, itemID int64, opts ItemOptions) (err error) {
	defer track(ctx, s.observer, "item-update", map[string]any{"item_id": itemID})(&err)

	var programID int64
	err = s.deps.UoW.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		items := repository.NewSQLiteItemRepo(tx)
		item, err := items.GetByID(ctx, itemID)
		if err != nil {
			return err
		}
		if err := applyOptions(item, opts); err != nil {
			return err
		}
		programID = item.ProgramID
		if err := items.Update(ctx, item); err != nil {
			return err
		}
		if item.ParentID != nil {
			// Points feed the parent's min-points rule.
			return recomputeSet(ctx, items, *item.ParentID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.deps.Sync.Sync(ctx, &programID, nil)
}

func applyOptions(item *domain.Item, opts ItemOptions) error {
	if opts.FullName != "" {
		item.FullName = opts.FullName
	}
	if opts.IDNumber != "" {
		item.IDNumber = opts.IDNumber
	}
	if opts.Points != nil {
		item.Points = *opts.Points
	}
	if opts.CompletionDelay != nil {
		item.CompletionDelay = *opts.CompletionDelay
	}
	return domain.ValidateItemValues(item.Points, item.CompletionDelay)
}

// MoveItem reparents an item as the last child of newParentID. Moving an
// item below itself is rejected with domain.ErrCycle.
func (s *contentService) MoveItem(ctx context.Context, itemID, newParentID int64) (err error) {
	defer track(ctx, s.observer, "item-move", map[string]any{"item_id": itemID, "parent_id": newParentID})(&err)

	var programID int64
	err = s.deps.UoW.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		items := repository.NewSQLiteItemRepo(tx)
		item, err := items.GetByID(ctx, itemID)
		if err != nil {
			return err
		}
		if item.TopItem {
			return domain.NewValidationError("itemid", "the top item cannot be moved", domain.ErrInvalidItem)
		}
		parent, err := items.GetByID(ctx, newParentID)
		if err != nil {
			return err
		}
		if parent.ProgramID != item.ProgramID {
			return domain.NewValidationError("parentid", "belongs to another program", domain.ErrInvalidItem)
		}
		if !parent.IsSet() {
			return domain.NewValidationError("parentid", "items can only be added to sets", domain.ErrInvalidItem)
		}
		if err := checkNotDescendant(ctx, items, itemID, parent); err != nil {
			return err
		}
		oldParent := item.ParentID
		siblings, err := items.ListChildren(ctx, parent.ID)
		if err != nil {
			return err
		}
		item.ParentID = &parent.ID
		item.SortOrder = len(siblings)
		item.PrevItemID = nil
		if err := items.Update(ctx, item); err != nil {
			return err
		}
		programID = item.ProgramID
		if oldParent != nil && *oldParent != parent.ID {
			if err := recomputeSet(ctx, items, *oldParent); err != nil {
				return err
			}
		}
		return recomputeSet(ctx, items, parent.ID)
	})
	if err != nil {
		return err
	}
	return s.deps.Sync.Sync(ctx, &programID, nil)
}

// checkNotDescendant walks up from parent and fails when it meets itemID.
func checkNotDescendant(ctx context.Context, items repository.ItemRepo, itemID int64, parent *domain.Item) error {
	cur := parent
	for {
		if cur.ID == itemID {
			return fmt.Errorf("moving item %d below itself: %w", itemID, domain.ErrCycle)
		}
		if cur.ParentID == nil {
			return nil
		}
		next, err := items.GetByID(ctx, *cur.ParentID)
		if err != nil {
			return err
		}
		cur = next
	}
}

// DeleteItem removes a course, training or empty set. The top item cannot
// be deleted.
func (s *contentService) DeleteItem(ctx context.Context, itemID int64) (err error) {
	defer track(ctx, s.observer, "item-delete", map[string]any{"item_id": itemID})(&err)

	var programID int64
	err = s.deps.UoW.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		items := repository.NewSQLiteItemRepo(tx)
		item, err := items.GetByID(ctx, itemID)
		if err != nil {
			return err
		}
		if item.TopItem {
			return domain.NewValidationError("itemid", "the top item cannot be deleted", domain.ErrInvalidItem)
		}
		children, err := items.ListChildren(ctx, itemID)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return domain.NewValidationError("itemid", "set is not empty", domain.ErrInvalidItem)
		}
		if err := items.Delete(ctx, itemID); err != nil {
			return err
		}
		programID = item.ProgramID
		return recomputeSet(ctx, items, *item.ParentID)
	})
	if err != nil {
		return err
	}
	return s.deps.Sync.Sync(ctx, &programID, nil)
}

// recomputeSet rewrites the prerequisites of a set from its children,
// renumbers their sortorder, links previtemid for allinorder sets and
// refreshes the derived minprerequisites/minpoints.
func recomputeSet(ctx context.Context, items repository.ItemRepo, setID int64) error {
	set, err := items.GetByID(ctx, setID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	children, err := items.ListChildren(ctx, setID)
	if err != nil {
		return err
	}

	ids := make([]int64, len(children))
	var prev *int64
	for i, c := range children {
		ids[i] = c.ID
		want := (*int64)(nil)
		if set.SequenceType == domain.SequenceAllInOrder {
			want = prev
		}
		if c.SortOrder != i || !sameID(c.PrevItemID, want) {
			c.SortOrder = i
			c.PrevItemID = want
			if err := items.Update(ctx, c); err != nil {
				return err
			}
		}
		prev = &children[i].ID
	}
	if err := items.ReplacePrerequisites(ctx, setID, ids); err != nil {
		return err
	}

	rules := domain.SetRules{SequenceType: set.SequenceType}
	if set.MinPrerequisites != nil {
		rules.MinPrerequisites = *set.MinPrerequisites
	}
	if set.MinPoints != nil {
		rules.MinPoints = *set.MinPoints
	}
	minPrereq, minPoints, err := rules.Resolve(len(children))
	if err != nil {
		return err
	}
	set.MinPrerequisites = minPrereq
	set.MinPoints = minPoints
	return items.Update(ctx, set)
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
