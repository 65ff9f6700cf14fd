package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetRules_Resolve(t *testing.T) {
	minPrereq, minPoints, err := SetRules{SequenceType: SequenceAllInAnyOrder}.Resolve(3)
	require.NoError(t, err)
	require.NotNil(t, minPrereq)
	assert.Equal(t, 3, *minPrereq)
	assert.Nil(t, minPoints)

	minPrereq, _, err = SetRules{SequenceType: SequenceAtLeast, MinPrerequisites: 2}.Resolve(5)
	require.NoError(t, err)
	assert.Equal(t, 2, *minPrereq)

	minPrereq, minPoints, err = SetRules{SequenceType: SequenceMinPoints, MinPoints: 10}.Resolve(5)
	require.NoError(t, err)
	assert.Nil(t, minPrereq)
	assert.Equal(t, 10, *minPoints)

	_, _, err = SetRules{SequenceType: SequenceAtLeast}.Resolve(2)
	assert.ErrorIs(t, err, ErrInvalidSequence)
	_, _, err = SetRules{SequenceType: "random"}.Resolve(2)
	assert.ErrorIs(t, err, ErrInvalidSequence)
}

func TestValidateItemValues(t *testing.T) {
	assert.NoError(t, ValidateItemValues(0, 0))
	assert.ErrorIs(t, ValidateItemValues(-1, 0), ErrInvalidItem)
	assert.ErrorIs(t, ValidateItemValues(1, -5), ErrInvalidItem)
}

func TestItemNode_WalkOrder(t *testing.T) {
	root := &ItemNode{Item: &Item{ID: 1}, Children: []*ItemNode{
		{Item: &Item{ID: 2}, Children: []*ItemNode{{Item: &Item{ID: 3}}}},
		{Item: &Item{ID: 4}},
	}}
	var ids []int64
	var depths []int
	root.Walk(func(n *ItemNode, depth int) {
		ids = append(ids, n.Item.ID)
		depths = append(depths, depth)
	})
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)
	assert.Equal(t, []int{0, 1, 2, 1}, depths)
}
