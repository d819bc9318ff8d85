package env

import (
	"testing"

	"github.com/nrnmpi/multisplit/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryAssembler_Assemble(t *testing.T) {
	a := &InMemoryAssembler{Nodes: []model.Node{
		{D: 1, RHS: 2, Parent: -1},
		{D: 3, RHS: 4, Parent: 0},
	}}

	got, err := a.Assemble()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.Nodes, got)

	// Mutating the returned slice must not affect the assembler's state.
	got[0].D = 999
	again, err := a.Assemble()
	require.NoError(t, err)
	assert.Equal(t, float64(1), again[0].D)
}

func TestInMemoryTopology(t *testing.T) {
	presyn := &model.PreSyn{Gid: 5}
	topo := &InMemoryTopology{
		Nodes: []model.Node{
			{A: 1, B: 2, D: 3, RHS: 4, Area: 5, Parent: -1, ClassicalParent: -1, SecNodeIndex: 0},
		},
		PreSyns: map[model.Gid]*model.PreSyn{5: presyn},
	}

	assert.Equal(t, 1, topo.NodeCount())
	assert.Equal(t, float64(1), topo.A(0))
	assert.Equal(t, float64(2), topo.B(0))
	assert.Equal(t, float64(3), topo.D(0))
	assert.Equal(t, float64(4), topo.RHS(0))
	assert.Equal(t, float64(5), topo.Area(0))
	assert.Equal(t, -1, topo.Parent(0))

	got, ok := topo.PreSynForGid(5)
	assert.True(t, ok)
	assert.Same(t, presyn, got)

	_, ok = topo.PreSynForGid(6)
	assert.False(t, ok)
}

func TestFixedClock_Wtime(t *testing.T) {
	c := &FixedClock{T: 3.5}
	assert.Equal(t, 3.5, c.Wtime())
}

func TestWallClock_Wtime_Monotonic(t *testing.T) {
	c := NewWallClock()
	first := c.Wtime()
	second := c.Wtime()
	assert.GreaterOrEqual(t, second, first)
}

func TestQueueFunc_Enqueue(t *testing.T) {
	var gotPresyn *model.PreSyn
	var gotTime float64
	var q EventQueue = QueueFunc(func(presyn *model.PreSyn, spiketime float64) {
		gotPresyn = presyn
		gotTime = spiketime
	})

	ps := &model.PreSyn{Gid: 9}
	q.Enqueue(ps, 1.25)

	assert.Same(t, ps, gotPresyn)
	assert.Equal(t, 1.25, gotTime)
}
