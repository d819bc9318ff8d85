package exchange

import (
	"context"
	"sync"
	"testing"

	"github.com/nrnmpi/multisplit/pkg/env"
	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/model"
	"github.com/nrnmpi/multisplit/pkg/parallel"
	"github.com/nrnmpi/multisplit/pkg/solver"
	"github.com/nrnmpi/multisplit/pkg/topology"
	"github.com/nrnmpi/multisplit/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrchestrator_ExchangeBoundaryRoundTrips(t *testing.T) {
	cluster := transport.NewInProcessCluster(2)
	ctx := context.Background()
	o := NewOrchestrator(cluster[0], env.NewWallClock())

	var wg sync.WaitGroup
	wg.Add(2)

	var got solver.BoundaryCorrection
	var errGot error
	go func() {
		defer wg.Done()
		got, errGot = o.ExchangeBoundary(ctx, 1, TagBoundaryLongLong, 7, solver.BoundaryCorrection{Diag: 2, RHS: 3}, 1, 1)
	}()
	go func() {
		defer wg.Done()
		h, err := cluster[1].PostRecv(ctx, 0, TagBoundaryLongLong)
		require.NoError(t, err)
		raw, err := cluster[1].Wait(ctx, h)
		require.NoError(t, err)
		c, err := decodeCorrection(raw)
		require.NoError(t, err)
		require.Equal(t, 2.0, c.Diag)
		require.Equal(t, 3.0, c.RHS)
		require.NoError(t, cluster[1].Send(ctx, 0, TagBoundaryLongLong, encodeCorrection(solver.BoundaryCorrection{Diag: 5, RHS: 9})))
	}()
	wg.Wait()

	require.NoError(t, errGot)
	assert.Equal(t, 7, got.NodeIndex)
	// ScaleIncoming with recvArea 1: 5*100/1 and 9*100/1.
	assert.Equal(t, 500.0, got.Diag)
	assert.Equal(t, 900.0, got.RHS)
}

func TestDecodeCorrection_RejectsWrongLength(t *testing.T) {
	_, err := decodeCorrection([]byte{1, 2, 3})
	require.Error(t, err)
	assert.True(t, apperrors.IsInvariantViolation(err))
}

func TestOrchestrator_RunStep_CrossRankBackbone(t *testing.T) {
	cluster := transport.NewInProcessCluster(2)
	ctx := context.Background()

	directives := []topology.Directive{
		{NodeIndex: 0, Sid: 1, Style: topology.StyleLong, Slot: 0},
		{NodeIndex: 1, Sid: 1, Style: topology.StyleLong, Slot: 1},
	}
	cells := []solver.Cell{{
		Assembler: &env.InMemoryAssembler{Nodes: []model.Node{
			{Parent: -1, D: 2, RHS: 5, Area: 1},
			{Parent: 0, D: 4, A: 1, B: 1, RHS: 9, Area: 1},
		}},
		Directives: directives,
	}}

	o := NewOrchestrator(cluster[0], env.NewWallClock())

	var wg sync.WaitGroup
	wg.Add(2)

	var solved []solver.Solved
	var runErr error
	go func() {
		defer wg.Done()
		solved, runErr = o.RunStep(ctx, cells, map[int]int{1: 1}, nil, parallel.DefaultPoolConfig())
	}()
	go func() {
		defer wg.Done()
		// Peer rank 1 echoes back a zero correction, i.e. its sid1 has no
		// external contribution of its own -- the round trip should then
		// reproduce the no-correction backbone answer.
		h, err := cluster[1].PostRecv(ctx, 0, TagBoundaryLongLong)
		require.NoError(t, err)
		_, err = cluster[1].Wait(ctx, h)
		require.NoError(t, err)
		require.NoError(t, cluster[1].Send(ctx, 0, TagBoundaryLongLong, encodeCorrection(solver.BoundaryCorrection{})))
	}()
	wg.Wait()

	require.NoError(t, runErr)
	require.Len(t, solved, 1)
	assert.InDelta(t, 11.0/7.0, solved[0].Topology.Nodes[0].RHS, 1e-9)
	assert.InDelta(t, 13.0/7.0, solved[0].Topology.Nodes[1].RHS, 1e-9)
}

func TestOrchestrator_RunStep_ReducedTreeGatherSolveScatter(t *testing.T) {
	cluster := transport.NewInProcessCluster(2)
	ctx := context.Background()

	directives := []topology.Directive{
		{NodeIndex: 0, Sid: 9, Style: topology.StyleReduced, Slot: 0},
		{NodeIndex: 1, Sid: 9, Style: topology.StyleReduced, Slot: 1},
	}
	route := map[model.Sid]ReducedTreeRoute{9: {HostRank: 0, Peers: []int{0, 1}}}

	cellFor := func(d, rhs float64) []solver.Cell {
		return []solver.Cell{{
			Assembler: &env.InMemoryAssembler{Nodes: []model.Node{
				{Parent: -1, D: d, RHS: rhs, Area: 1},
				{Parent: -1, D: d, RHS: rhs, Area: 1},
			}},
			Directives: directives,
		}}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	solved := make([][]solver.Solved, 2)
	errs := make([]error, 2)

	go func() {
		defer wg.Done()
		o := NewOrchestrator(cluster[0], env.NewWallClock())
		solved[0], errs[0] = o.RunStep(ctx, cellFor(2, 4), nil, route, parallel.DefaultPoolConfig())
	}()
	go func() {
		defer wg.Done()
		o := NewOrchestrator(cluster[1], env.NewWallClock())
		solved[1], errs[1] = o.RunStep(ctx, cellFor(1, 2), nil, route, parallel.DefaultPoolConfig())
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// Host (rank 0) accumulates both ranks' D/RHS (2+1, 4+2) before solving;
	// the contributing rank (rank 1) gets the same solved value scattered
	// back, so both ranks agree on the reduced tree's sids.
	for rank := range solved {
		require.Len(t, solved[rank], 1)
		assert.InDelta(t, 2.0, solved[rank][0].Topology.Nodes[0].RHS, 1e-9)
		assert.InDelta(t, 2.0, solved[rank][0].Topology.Nodes[1].RHS, 1e-9)
	}
}

func TestOrchestrator_ExchangeReducedTreeWire(t *testing.T) {
	cluster := transport.NewInProcessCluster(2)
	ctx := context.Background()

	send := [][]float64{{1, 2}, {10}}
	counts := [][]int{{1, 1}, {1, 0}}
	results := make([][]float64, 2)

	var wg sync.WaitGroup
	wg.Add(2)
	for i := range cluster {
		go func(rank int) {
			defer wg.Done()
			o := NewOrchestrator(cluster[rank], env.NewWallClock())
			recv, _, err := o.ExchangeReducedTreeWire(ctx, send[rank], counts[rank])
			require.NoError(t, err)
			results[rank] = recv
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []float64{1, 10}, results[0])
	assert.Equal(t, []float64{2}, results[1])
}
