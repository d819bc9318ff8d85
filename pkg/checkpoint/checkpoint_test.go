package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/model"
	"github.com/nrnmpi/multisplit/pkg/topology"
)

func openTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTopology() *topology.Result {
	return &topology.Result{
		Nodes:                 []model.Node{{D: 1}, {D: 2}},
		Perm:                  []int{1, 0},
		BackboneBegin:         0,
		BackboneLongBegin:     1,
		BackboneInteriorBegin: 1,
		BackboneSid1Begin:     1,
		BackboneLongSid1Begin: 1,
		BackboneEnd:           2,
		S1A:                   []float64{0, 1.5},
		S1B:                   []float64{1, -0.5},
		Sid0i:                 []int{0, 0},
		ReducedTreeSids:       []model.Sid{9},
	}
}

func TestGormStore_SaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d := FromResult(3, 42, sampleTopology())
	require.NoError(t, s.Save(ctx, d))

	got, err := s.Load(ctx, 3, 42)
	require.NoError(t, err)
	assert.Equal(t, d.Perm, got.Perm)
	assert.Equal(t, d.S1A, got.S1A)
	assert.Equal(t, d.S1B, got.S1B)
	assert.Equal(t, d.Sid0i, got.Sid0i)
	assert.Equal(t, d.ReducedTreeSids, got.ReducedTreeSids)
	assert.Equal(t, d.BackboneBegin, got.BackboneBegin)
	assert.Equal(t, d.BackboneEnd, got.BackboneEnd)
	assert.False(t, got.SavedAt.IsZero())
}

func TestGormStore_Load_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Load(context.Background(), 1, 1)
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeNotFound, appErr.Code)
}

func TestGormStore_Save_OverwritesSameRankStep(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := FromResult(0, 1, sampleTopology())
	require.NoError(t, s.Save(ctx, first))

	second := sampleTopology()
	second.S1A = []float64{9, 9}
	require.NoError(t, s.Save(ctx, FromResult(0, 1, second)))

	got, err := s.Load(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 9}, got.S1A)
}

func TestGormStore_LatestStep(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	none, err := s.LatestStep(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), none)

	require.NoError(t, s.Save(ctx, FromResult(5, 1, sampleTopology())))
	require.NoError(t, s.Save(ctx, FromResult(5, 7, sampleTopology())))
	require.NoError(t, s.Save(ctx, FromResult(5, 3, sampleTopology())))

	latest, err := s.LatestStep(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(7), latest)
}
