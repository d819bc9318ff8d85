package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
)

func TestDeterministicTransport_ScriptedAllgathervInt(t *testing.T) {
	tr := NewDeterministicTransport(0, 2)
	tr.ScriptAllgathervInt([]int{1, 2, 3}, []int{1, 2}, nil)

	recv, counts, err := tr.AllgathervInt(context.Background(), []int{1})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, recv)
	assert.Equal(t, []int{1, 2}, counts)
}

func TestDeterministicTransport_FailSend(t *testing.T) {
	tr := NewDeterministicTransport(0, 2)
	tr.FailSend(apperrors.ErrTransportFault)

	err := tr.Send(context.Background(), 1, 0, []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTransportFault)
}

func TestDeterministicTransport_UnscriptedCallFails(t *testing.T) {
	tr := NewDeterministicTransport(0, 2)
	_, _, err := tr.AlltoallvInt(context.Background(), []int{1}, []int{1})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeTransportFault, appErr.Code)
}

func TestTwoRankBackboneCells_PeerMapsAreSymmetric(t *testing.T) {
	_, _, peers0, peers1 := TwoRankBackboneCells(1)
	assert.Equal(t, map[int]int{0: 1}, peers0)
	assert.Equal(t, map[int]int{0: 0}, peers1)
}
