package solver

import (
	"testing"

	"github.com/nrnmpi/multisplit/pkg/model"
	"github.com/nrnmpi/multisplit/pkg/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The dense 3x3 form of this 3-node chain (2x0+x1=5, x0+3x1+x2=7,
// x1+4x2=9) solves by hand to x = (2, 1, 2); the triangulate/back-substitute
// pair is checked against that answer.
func TestBackboneSolver_PlainChainNoMultisplit(t *testing.T) {
	nodes := []model.Node{
		{Parent: -1, D: 2, RHS: 5},
		{Parent: 0, D: 3, A: 1, B: 1, RHS: 7},
		{Parent: 1, D: 4, A: 1, B: 1, RHS: 9},
	}

	topo, err := topology.Build(nodes, nil)
	require.NoError(t, err)

	s := NewBackboneSolver()
	require.NoError(t, s.Triangulate(topo.Nodes, topo))
	require.NoError(t, s.SolveBackbones(topo.Nodes, topo, nil))
	s.BackSubstitute(topo.Nodes, topo)

	assert.InDelta(t, 2.0, topo.Nodes[0].RHS, 1e-9)
	assert.InDelta(t, 1.0, topo.Nodes[1].RHS, 1e-9)
	assert.InDelta(t, 2.0, topo.Nodes[2].RHS, 1e-9)
}

func TestBackboneSolver_LongBackboneNoExternalCorrection(t *testing.T) {
	nodes := []model.Node{
		{Parent: -1, D: 2, RHS: 5},
		{Parent: 0, D: 4, A: 1, B: 1, RHS: 9},
	}
	directives := []topology.Directive{
		{NodeIndex: 0, Sid: 1, Style: topology.StyleLong, Slot: 0},
		{NodeIndex: 1, Sid: 1, Style: topology.StyleLong, Slot: 1},
	}

	topo, err := topology.Build(nodes, directives)
	require.NoError(t, err)
	require.Equal(t, 2, topo.BackboneEnd-topo.BackboneBegin)

	s := NewBackboneSolver()
	require.NoError(t, s.Triangulate(topo.Nodes, topo))
	require.NoError(t, s.SolveBackbones(topo.Nodes, topo, nil))
	s.BackSubstitute(topo.Nodes, topo)

	// Solving 2x0+x1=5, x0+4x1=9 directly gives x0=11/7, x1=13/7.
	assert.InDelta(t, 11.0/7.0, topo.Nodes[0].RHS, 1e-9)
	assert.InDelta(t, 13.0/7.0, topo.Nodes[1].RHS, 1e-9)
}

func TestBackboneSolver_ExternalCorrectionShiftsSid0(t *testing.T) {
	nodes := []model.Node{
		{Parent: -1, D: 2, RHS: 5},
		{Parent: 0, D: 4, A: 1, B: 1, RHS: 9},
	}
	directives := []topology.Directive{
		{NodeIndex: 0, Sid: 1, Style: topology.StyleLong, Slot: 0},
		{NodeIndex: 1, Sid: 1, Style: topology.StyleLong, Slot: 1},
	}
	topo, err := topology.Build(nodes, directives)
	require.NoError(t, err)

	s := NewBackboneSolver()
	require.NoError(t, s.Triangulate(topo.Nodes, topo))

	// A correction pinning sid1 hard to zero (large diagonal, zero rhs)
	// should pull x1 toward zero and, through the reflected term, move
	// x0 away from the no-correction answer.
	require.NoError(t, s.SolveBackbones(topo.Nodes, topo, []BoundaryCorrection{
		{NodeIndex: 1, Diag: 1e6, RHS: 0},
	}))
	s.BackSubstitute(topo.Nodes, topo)

	assert.InDelta(t, 0, topo.Nodes[1].RHS, 1e-3)
	assert.NotInDelta(t, 11.0/7.0, topo.Nodes[0].RHS, 1e-3)
}

func TestBackboneSolver_SingularBoundaryIsReported(t *testing.T) {
	nodes := []model.Node{
		{Parent: -1, D: 0, RHS: 0},
		{Parent: 0, D: 1, A: 1, B: 1, RHS: 0},
	}
	directives := []topology.Directive{
		{NodeIndex: 0, Sid: 1, Style: topology.StyleLong, Slot: 0},
		{NodeIndex: 1, Sid: 1, Style: topology.StyleLong, Slot: 1},
	}
	topo, err := topology.Build(nodes, directives)
	require.NoError(t, err)

	s := NewBackboneSolver()
	require.NoError(t, s.Triangulate(topo.Nodes, topo))

	err = s.SolveBackbones(topo.Nodes, topo, nil)
	require.Error(t, err)
}

func TestPairBoundaries(t *testing.T) {
	nodes := []model.Node{
		{Parent: -1},
		{Parent: 0},
		{Parent: 1},
	}
	directives := []topology.Directive{
		{NodeIndex: 0, Sid: 7, Style: topology.StyleShort, Slot: 0},
		{NodeIndex: 2, Sid: 7, Style: topology.StyleShort, Slot: 1},
	}
	topo, err := topology.Build(nodes, directives)
	require.NoError(t, err)

	pairs := PairBoundaries(topo)
	require.Len(t, pairs, 1)
	for sid0, sid1 := range pairs {
		assert.Equal(t, topo.BackboneBegin, sid0)
		assert.True(t, sid1 >= topo.BackboneSid1Begin && sid1 < topo.BackboneEnd)
	}
}
