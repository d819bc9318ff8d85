package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopback_CollectivesShortCircuit(t *testing.T) {
	l := NewLoopback()
	ctx := context.Background()

	assert.Equal(t, 0, l.Rank())
	assert.Equal(t, 1, l.Size())

	require.NoError(t, l.Barrier(ctx))

	v, err := l.AllreduceDbl(ctx, 5.0, ReduceSum)
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)

	g, err := l.AllgatherInt(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, g)

	rb, counts, err := l.AllgathervDbl(ctx, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, rb)
	assert.Equal(t, []int{3}, counts)
}

func TestLoopback_SendRecvWait(t *testing.T) {
	l := NewLoopback()
	ctx := context.Background()

	require.NoError(t, l.Send(ctx, 0, Tag(2), []byte("ping")))
	h, err := l.PostRecv(ctx, 0, Tag(2))
	require.NoError(t, err)

	got, err := l.Wait(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), got)
}

func TestLoopback_BroadcastBytes(t *testing.T) {
	l := NewLoopback()
	out, err := l.BroadcastBytes(context.Background(), []byte("abc"), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), out)
}
