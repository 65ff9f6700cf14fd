package domain

import "fmt"

type ItemKind string

const (
	ItemSet      ItemKind = "set"
	ItemCourse   ItemKind = "course"
	ItemTraining ItemKind = "training"
)

// SequenceType controls how many children of a set must be completed.
type SequenceType string

const (
	SequenceAllInOrder    SequenceType = "allinorder"
	SequenceAllInAnyOrder SequenceType = "allinanyorder"
	SequenceAtLeast       SequenceType = "atleast"
	SequenceMinPoints     SequenceType = "minpoints"
)

type Item struct {
	ID               int64
	ProgramID        int64
	TopItem          bool
	ParentID         *int64
	SortOrder        int
	IDNumber         string
	FullName         string
	Kind             ItemKind
	CourseID         *int64
	TrainingID       *int64
	SequenceType     SequenceType
	MinPrerequisites *int
	MinPoints        *int
	Points           int
	CompletionDelay  int64
	PrevItemID       *int64
}

// IsSet reports whether the item can hold children.
func (i *Item) IsSet() bool {
	return i.Kind == ItemSet
}

// ItemNode is an item together with its ordered children.
type ItemNode struct {
	Item     *Item
	Children []*ItemNode
}

// Walk visits n and its descendants depth-first, parents before children.
func (n *ItemNode) Walk(fn func(node *ItemNode, depth int)) {
	n.walk(fn, 0)
}

func (n *ItemNode) walk(fn func(node *ItemNode, depth int), depth int) {
	fn(n, depth)
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}

// SetRules are the user-facing completion rules of a set.
type SetRules struct {
	SequenceType     SequenceType
	MinPrerequisites int
	MinPoints        int
}

// Resolve computes the stored minprerequisites/minpoints pair for a set with
// childCount children. All-children types track the child count, at-least
// keeps N and min-points clears the prerequisite count.
func (r SetRules) Resolve(childCount int) (minPrereq *int, minPoints *int, err error) {
	switch r.SequenceType {
	case SequenceAllInOrder, SequenceAllInAnyOrder, "":
		n := childCount
		return &n, nil, nil
	case SequenceAtLeast:
		if r.MinPrerequisites < 1 {
			return nil, nil, NewValidationError("minprerequisites", "must be at least 1", ErrInvalidSequence)
		}
		n := r.MinPrerequisites
		return &n, nil, nil
	case SequenceMinPoints:
		if r.MinPoints < 1 {
			return nil, nil, NewValidationError("minpoints", "must be at least 1", ErrInvalidSequence)
		}
		n := r.MinPoints
		return nil, &n, nil
	default:
		return nil, nil, NewValidationError("sequencetype", fmt.Sprintf("unknown value %q", r.SequenceType), ErrInvalidSequence)
	}
}

// ValidateItemValues rejects negative points and completion delays.
func ValidateItemValues(points int, completionDelay int64) error {
	if points < 0 {
		return NewValidationError("points", "must not be negative", ErrInvalidItem)
	}
	if completionDelay < 0 {
		return NewValidationError("completiondelay", "must not be negative", ErrInvalidItem)
	}
	return nil
}
