package gidtable

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

func TestBuild_SimpleFanout(t *testing.T) {
	// rank 0 owns gid 1; rank 1 and rank 2 both subscribe to it.
	cluster := transport.NewInProcessCluster(3)
	ctx := context.Background()

	locals := []Local{
		{OutputGids: []model.Gid{1}},
		{Subscriptions: []model.Subscription{{Gid: 1}}},
		{Subscriptions: []model.Subscription{{Gid: 1}}},
	}

	plans := make([]*Plan, 3)
	var wg sync.WaitGroup
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			p, err := Build(ctx, cluster[r], locals[r])
			require.NoError(t, err)
			plans[r] = p
		}(r)
	}
	wg.Wait()

	assert.Equal(t, []int{1, 2}, plans[0].Targets[model.Gid(1)])
	assert.Equal(t, 0, plans[1].SourceOf[model.Gid(1)])
	assert.Equal(t, 0, plans[2].SourceOf[model.Gid(1)])
}

func TestBuild_NoSubscribers(t *testing.T) {
	cluster := transport.NewInProcessCluster(2)
	ctx := context.Background()

	locals := []Local{
		{OutputGids: []model.Gid{5, 6}},
		{},
	}

	plans := make([]*Plan, 2)
	var wg sync.WaitGroup
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			p, err := Build(ctx, cluster[r], locals[r])
			require.NoError(t, err)
			plans[r] = p
		}(r)
	}
	wg.Wait()

	assert.Empty(t, plans[0].Targets[model.Gid(5)])
	assert.Empty(t, plans[0].Targets[model.Gid(6)])
}

func TestBuild_MultipleOutputsAndChunking(t *testing.T) {
	cluster := transport.NewInProcessCluster(4)
	ctx := context.Background()

	var outputs []model.Gid
	for i := 0; i < 50; i++ {
		outputs = append(outputs, model.Gid(i))
	}

	locals := []Local{
		{OutputGids: outputs},
		{Subscriptions: []model.Subscription{{Gid: 0}, {Gid: 25}}},
		{Subscriptions: []model.Subscription{{Gid: 0}, {Gid: 49}}},
		{Subscriptions: []model.Subscription{{Gid: 25}}},
	}

	plans := make([]*Plan, 4)
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			p, err := Build(ctx, cluster[r], locals[r])
			require.NoError(t, err)
			plans[r] = p
		}(r)
	}
	wg.Wait()

	assert.Equal(t, []int{1, 2}, plans[0].Targets[model.Gid(0)])
	assert.Equal(t, []int{1, 3}, plans[0].Targets[model.Gid(25)])
	assert.Equal(t, []int{2}, plans[0].Targets[model.Gid(49)])
	assert.Empty(t, plans[0].Targets[model.Gid(10)])
}

func TestRankTable_Lookup(t *testing.T) {
	m := map[model.Gid]int{5: 0, 1: 2, 9: 1}
	table := NewRankTable(m)

	assert.Equal(t, 3, table.Len())

	for gid, wantRank := range m {
		rank, ok := table.Lookup(gid)
		assert.True(t, ok)
		assert.Equal(t, wantRank, rank)
	}

	_, ok := table.Lookup(model.Gid(100))
	assert.False(t, ok)

	assert.True(t, sort.SliceIsSorted(table.gids, func(i, j int) bool { return table.gids[i] < table.gids[j] }))
}

func TestPreSynTable_Lookup(t *testing.T) {
	presyns := []*model.PreSyn{
		{Gid: 3},
		{Gid: 1},
		{Gid: 2},
	}
	table := NewPreSynTable(presyns)
	assert.Equal(t, 3, table.Len())

	got, ok := table.Lookup(model.Gid(2))
	require.True(t, ok)
	assert.Equal(t, model.Gid(2), got.Gid)

	_, ok = table.Lookup(model.Gid(99))
	assert.False(t, ok)
}
