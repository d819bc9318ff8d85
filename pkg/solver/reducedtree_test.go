package solver

import (
	"testing"

	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReducedTreeSolver_Solve(t *testing.T) {
	m := &model.ReducedTreeMatrix{
		IP:  []int{-1, 0, 0},
		D:   []float64{2, 3, 4},
		A:   []float64{0, 1, 1},
		B:   []float64{0, 1, 1},
		RHS: []float64{5, 7, 9},
	}

	s := NewReducedTreeSolver()
	require.NoError(t, s.Solve(m))

	assert.InDelta(t, 5.0/17.0, m.RHS[0], 1e-9)
	assert.InDelta(t, 2.235294, m.RHS[1], 1e-6)
	assert.InDelta(t, 2.176471, m.RHS[2], 1e-6)
}

func TestReducedTreeSolver_SingularPivot(t *testing.T) {
	m := &model.ReducedTreeMatrix{
		IP:  []int{-1, 0},
		D:   []float64{1, 1},
		A:   []float64{0, 1},
		B:   []float64{0, 1},
		RHS: []float64{0, 1},
	}
	s := NewReducedTreeSolver()
	err := s.Solve(m)
	require.Error(t, err)
	assert.True(t, apperrors.IsSingular(err))
}

func TestReducedTreeSolver_SingularPivotDuringElimination(t *testing.T) {
	m := &model.ReducedTreeMatrix{
		IP:  []int{-1, 0},
		D:   []float64{1, 0},
		A:   []float64{0, 1},
		B:   []float64{0, 1},
		RHS: []float64{1, 0},
	}
	s := NewReducedTreeSolver()
	err := s.Solve(m)
	require.Error(t, err)
	assert.True(t, apperrors.IsSingular(err))
}

func TestReducedTreeSolver_GatherReplaceAndAccumulate(t *testing.T) {
	m := &model.ReducedTreeMatrix{
		IP:  []int{-1, 0},
		D:   []float64{1, 1},
		A:   []float64{0, 0},
		B:   []float64{0, 0},
		RHS: []float64{0, 0},
		RecvMap: []model.MapEntry{
			{Row: 0, Slot: model.SlotD, Source: model.ArenaRef{Arena: model.ArenaNodeD, Index: 3}},
			{Row: 0, Slot: model.SlotD, Replace: true, FromWire: true, WireSlot: 0},
			{Row: 1, Slot: model.SlotRHS, Source: model.ArenaRef{Arena: model.ArenaNodeRHS, Index: 9}},
		},
	}

	local := func(ref model.ArenaRef) float64 {
		switch ref.Index {
		case 3:
			return 2.5
		case 9:
			return 4.0
		}
		return 0
	}
	wire := []float64{99.0}

	s := NewReducedTreeSolver()
	require.NoError(t, s.Gather(m, local, wire))

	// D[0] accumulated 2.5, then got overwritten by the Replace wire entry.
	assert.Equal(t, 99.0, m.D[0])
	assert.Equal(t, 4.0, m.RHS[1])
}

func TestReducedTreeSolver_GatherOutOfRangeWireSlot(t *testing.T) {
	m := &model.ReducedTreeMatrix{
		IP:  []int{-1},
		D:   []float64{1},
		A:   []float64{0},
		B:   []float64{0},
		RHS: []float64{0},
		RecvMap: []model.MapEntry{
			{Row: 0, Slot: model.SlotRHS, FromWire: true, WireSlot: 5},
		},
	}
	s := NewReducedTreeSolver()
	err := s.Gather(m, func(model.ArenaRef) float64 { return 0 }, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsInvariantViolation(err))
}

func TestReducedTreeSolver_Scatter(t *testing.T) {
	m := &model.ReducedTreeMatrix{
		IP:  []int{-1, 0},
		D:   []float64{1, 1},
		A:   []float64{0, 0},
		B:   []float64{0, 0},
		RHS: []float64{3.0, 4.0},
		SendMap: []model.MapEntry{
			{Row: 0, Source: model.ArenaRef{Arena: model.ArenaNodeRHS, Index: 0}},
			{Row: 1, FromWire: true, WireSlot: 0, Replace: true},
		},
	}

	var captured float64
	local := func(ref model.ArenaRef, v float64) { captured = v }
	wire := make([]float64, 1)

	s := NewReducedTreeSolver()
	require.NoError(t, s.Scatter(m, local, wire))

	assert.Equal(t, 3.0, captured)
	assert.Equal(t, 4.0, wire[0])
}
