package model

import (
	"testing"

	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReducedTreeMatrix_Reorder_AlreadyOrdered(t *testing.T) {
	m := &ReducedTreeMatrix{
		IP:  []int{-1, 0, 0, 1},
		D:   []float64{1, 2, 3, 4},
		A:   []float64{0, 0.1, 0.2, 0.3},
		B:   []float64{0, 0.1, 0.2, 0.3},
		RHS: []float64{10, 20, 30, 40},
	}

	perm, err := m.Reorder()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, perm)
	for i, p := range m.IP {
		if p != -1 {
			assert.Less(t, p, i)
		}
	}
}

func TestReducedTreeMatrix_Reorder_OutOfOrderInput(t *testing.T) {
	// Row 0's parent is row 2, which is numbered after it -- the matrix
	// arrived from the wire in an arbitrary row order and must be
	// topologically reordered (§4.8).
	m := &ReducedTreeMatrix{
		IP:  []int{2, 2, -1, 0},
		D:   []float64{10, 20, 30, 40},
		A:   []float64{1, 2, 3, 4},
		B:   []float64{1, 2, 3, 4},
		RHS: []float64{100, 200, 300, 400},
	}

	perm, err := m.Reorder()
	require.NoError(t, err)
	require.Len(t, perm, 4)

	for i, p := range m.IP {
		if p != -1 {
			assert.Less(t, p, i)
		}
	}

	// The D value that was at old index 2 (the root, D=30) must now be at
	// the new index of row 2 in perm.
	newRootIdx := -1
	for newIdx, oldIdx := range perm {
		if oldIdx == 2 {
			newRootIdx = newIdx
		}
	}
	require.NotEqual(t, -1, newRootIdx)
	assert.Equal(t, float64(30), m.D[newRootIdx])
	assert.Equal(t, -1, m.IP[newRootIdx])
}

func TestReducedTreeMatrix_Reorder_NoRoot(t *testing.T) {
	m := &ReducedTreeMatrix{
		IP:  []int{1, 0},
		D:   []float64{1, 2},
		A:   []float64{0, 0},
		B:   []float64{0, 0},
		RHS: []float64{0, 0},
	}

	_, err := m.Reorder()
	require.Error(t, err)
	assert.True(t, apperrors.IsInvariantViolation(err))
}

func TestReducedTreeMatrix_Reorder_Empty(t *testing.T) {
	m := &ReducedTreeMatrix{}
	perm, err := m.Reorder()
	assert.NoError(t, err)
	assert.Nil(t, perm)
}

func TestReducedTreeMatrix_N(t *testing.T) {
	m := &ReducedTreeMatrix{D: []float64{1, 2, 3}}
	assert.Equal(t, 3, m.N())
}
