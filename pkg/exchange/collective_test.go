package exchange

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/nrnmpi/multisplit/pkg/model"
	"github.com/nrnmpi/multisplit/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runOnAll(cluster []*transport.InProcessTransport, fn func(tr *transport.InProcessTransport, rank int)) {
	var wg sync.WaitGroup
	for i, tr := range cluster {
		wg.Add(1)
		go func(tr *transport.InProcessTransport, rank int) {
			defer wg.Done()
			fn(tr, rank)
		}(tr, i)
	}
	wg.Wait()
}

func sortSpikes(s []model.Spike) {
	sort.Slice(s, func(i, j int) bool { return s[i].Gid < s[j].Gid })
}

func TestCollectiveExchanger_AllInline(t *testing.T) {
	cluster := transport.NewInProcessCluster(3)
	ctx := context.Background()

	outgoing := [][]model.Spike{
		{{Gid: 1, Spiketime: 0.1}},
		{},
		{{Gid: 2, Spiketime: 0.2}, {Gid: 3, Spiketime: 0.3}},
	}
	results := make([][][]model.Spike, 3)

	runOnAll(cluster, func(tr *transport.InProcessTransport, rank int) {
		e := NewCollectiveExchanger(tr, 4)
		out, err := e.Exchange(ctx, outgoing[rank])
		require.NoError(t, err)
		results[rank] = out
	})

	for _, perRank := range results {
		require.Len(t, perRank, 3)
		assert.Equal(t, outgoing[0], perRank[0])
		assert.Equal(t, outgoing[1], perRank[1])
		assert.Equal(t, outgoing[2], perRank[2])
	}
}

func TestCollectiveExchanger_Overflow(t *testing.T) {
	cluster := transport.NewInProcessCluster(2)
	ctx := context.Background()

	// Rank 0 sends 5 spikes with inline capacity 2: 2 travel inline, 3 overflow.
	many := []model.Spike{
		{Gid: 1, Spiketime: 1}, {Gid: 2, Spiketime: 2}, {Gid: 3, Spiketime: 3},
		{Gid: 4, Spiketime: 4}, {Gid: 5, Spiketime: 5},
	}
	outgoing := [][]model.Spike{many, nil}
	results := make([][][]model.Spike, 2)

	runOnAll(cluster, func(tr *transport.InProcessTransport, rank int) {
		e := NewCollectiveExchanger(tr, 2)
		out, err := e.Exchange(ctx, outgoing[rank])
		require.NoError(t, err)
		results[rank] = out
	})

	for _, perRank := range results {
		got := append([]model.Spike(nil), perRank[0]...)
		sortSpikes(got)
		assert.Equal(t, many, got)
		assert.Empty(t, perRank[1])
	}
}

func TestCollectiveExchanger_Pack(t *testing.T) {
	e := NewCollectiveExchanger(nil, 2)
	buf := e.Pack([]model.Spike{{Gid: 1}, {Gid: 2}, {Gid: 3}})
	assert.Equal(t, 3, buf.NSpike)
	assert.Len(t, buf.Recs, 2)
	assert.Equal(t, model.Gid(1), buf.Recs[0].Gid)
	assert.Equal(t, model.Gid(2), buf.Recs[1].Gid)
}
