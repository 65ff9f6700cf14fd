package service

import (
	"context"
	"testing"

	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func childIDs(n *domain.ItemNode) []int64 {
	out := make([]int64, len(n.Children))
	for i, c := range n.Children {
		out[i] = c.Item.ID
	}
	return out
}

func TestContentService_AppendKeepsPrerequisitesInOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProgram(t)
	top := env.top(t, p.ID)

	a, _ := env.appendCourse(t, top.ID)
	set, err := env.content.AppendSet(ctx, top.ID, domain.SetRules{SequenceType: domain.SequenceAtLeast, MinPrerequisites: 1}, ItemOptions{FullName: "Electives"})
	require.NoError(t, err)
	b, _ := env.appendCourse(t, set.ID)

	tree, err := env.content.Tree(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, set.ID}, childIDs(tree))
	assert.Equal(t, []int64{b.ID}, childIDs(tree.Children[1]))

	prereqs, err := env.repos.Items.ListPrerequisites(ctx, top.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{a.ID, set.ID}, prereqs)

	reloaded := env.top(t, p.ID)
	require.NotNil(t, reloaded.MinPrerequisites)
	assert.Equal(t, 2, *reloaded.MinPrerequisites, "all-children sets track the child count")

	electives, err := env.repos.Items.GetByID(ctx, set.ID)
	require.NoError(t, err)
	require.NotNil(t, electives.MinPrerequisites)
	assert.Equal(t, 1, *electives.MinPrerequisites)
}

func TestContentService_AllInOrderLinksPreviousSibling(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProgram(t)
	top := env.top(t, p.ID)

	require.NoError(t, env.content.UpdateSet(ctx, top.ID, domain.SetRules{SequenceType: domain.SequenceAllInOrder}, ItemOptions{}))
	first, _ := env.appendCourse(t, top.ID)
	second, _ := env.appendCourse(t, top.ID)
	third, _ := env.appendCourse(t, top.ID)

	load := func(id int64) *domain.Item {
		it, err := env.repos.Items.GetByID(ctx, id)
		require.NoError(t, err)
		return it
	}
	assert.Nil(t, load(first.ID).PrevItemID)
	assert.Equal(t, first.ID, *load(second.ID).PrevItemID)
	assert.Equal(t, second.ID, *load(third.ID).PrevItemID)

	require.NoError(t, env.content.DeleteItem(ctx, second.ID))
	assert.Equal(t, first.ID, *load(third.ID).PrevItemID)
	assert.Equal(t, 1, load(third.ID).SortOrder)

	require.NoError(t, env.content.UpdateSet(ctx, top.ID, domain.SetRules{SequenceType: domain.SequenceAllInAnyOrder}, ItemOptions{}))
	assert.Nil(t, load(third.ID).PrevItemID)
}

func TestContentService_MoveRejectsCycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProgram(t)
	top := env.top(t, p.ID)

	outer, err := env.content.AppendSet(ctx, top.ID, domain.SetRules{}, ItemOptions{FullName: "Outer"})
	require.NoError(t, err)
	inner, err := env.content.AppendSet(ctx, outer.ID, domain.SetRules{}, ItemOptions{FullName: "Inner"})
	require.NoError(t, err)

	err = env.content.MoveItem(ctx, outer.ID, inner.ID)
	assert.ErrorIs(t, err, domain.ErrCycle)
	err = env.content.MoveItem(ctx, outer.ID, outer.ID)
	assert.ErrorIs(t, err, domain.ErrCycle)

	require.NoError(t, env.content.MoveItem(ctx, inner.ID, top.ID))
	tree, err := env.content.Tree(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{outer.ID, inner.ID}, childIDs(tree))
	assert.Empty(t, tree.Children[0].Children)
}

func TestContentService_DeleteAndAppendRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProgram(t)
	top := env.top(t, p.ID)

	set, err := env.content.AppendSet(ctx, top.ID, domain.SetRules{}, ItemOptions{FullName: "Block"})
	require.NoError(t, err)
	course, courseID := env.appendCourse(t, set.ID)

	assert.ErrorIs(t, env.content.DeleteItem(ctx, top.ID), domain.ErrInvalidItem)
	assert.ErrorIs(t, env.content.DeleteItem(ctx, set.ID), domain.ErrInvalidItem)

	_, err = env.content.AppendCourse(ctx, top.ID, courseID, ItemOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidItem, "a course appears once per program")

	_, err = env.content.AppendCourse(ctx, course.ID, testutil.SeedCourse(t, env.db), ItemOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidItem, "courses cannot hold children")

	_, err = env.content.AppendCourse(ctx, top.ID, 9999, ItemOptions{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	negative := -1
	assert.ErrorIs(t, env.content.UpdateItem(ctx, course.ID, ItemOptions{Points: &negative}), domain.ErrInvalidItem)

	require.NoError(t, env.content.DeleteItem(ctx, course.ID))
	require.NoError(t, env.content.DeleteItem(ctx, set.ID))
	tree, err := env.content.Tree(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, tree.Children)
}

func TestContentService_MinPointsFollowsItemPoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.createProgram(t)
	top := env.top(t, p.ID)

	set, err := env.content.AppendSet(ctx, top.ID, domain.SetRules{SequenceType: domain.SequenceMinPoints, MinPoints: 5}, ItemOptions{FullName: "Credits"})
	require.NoError(t, err)
	assert.Nil(t, set.MinPrerequisites)
	require.NotNil(t, set.MinPoints)
	assert.Equal(t, 5, *set.MinPoints)

	_, err = env.content.AppendSet(ctx, top.ID, domain.SetRules{SequenceType: domain.SequenceMinPoints}, ItemOptions{FullName: "Broken"})
	assert.ErrorIs(t, err, domain.ErrInvalidSequence)
}
