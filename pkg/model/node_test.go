package model

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArenaRef_Valid(t *testing.T) {
	assert.False(t, ArenaRef{}.Valid())
	assert.False(t, ArenaRef{Arena: ArenaNone, Index: 5}.Valid())
	assert.True(t, ArenaRef{Arena: ArenaS1A, Index: 0}.Valid())
}

func TestReceiveBuffer_BeginEndWrite(t *testing.T) {
	buf := NewReceiveBuffer(4)

	buf.BeginWrite()
	buf.Append(Spike{Gid: 1, Spiketime: 0.1})
	buf.EndWrite()

	assert.Equal(t, int64(1), buf.Received())
	assert.Len(t, buf.Records(), 1)
}

func TestReceiveBuffer_BeginWritePanicsOnReentry(t *testing.T) {
	buf := NewReceiveBuffer(4)
	buf.BeginWrite()

	assert.Panics(t, func() {
		buf.BeginWrite()
	})
}

func TestReceiveBuffer_Reset(t *testing.T) {
	buf := NewReceiveBuffer(4)
	buf.BeginWrite()
	buf.Append(Spike{Gid: 1, Spiketime: 0.1})
	buf.Append(Spike{Gid: 2, Spiketime: 0.2})
	buf.EndWrite()

	buf.Reset()
	assert.Empty(t, buf.Records())
	assert.Equal(t, int64(2), buf.Received(), "reset clears contents but not the conservation counters")
}

func TestReceiveBuffer_Imbalance(t *testing.T) {
	buf := NewReceiveBuffer(4)
	buf.AddSent(10)

	buf.BeginWrite()
	buf.Append(Spike{Gid: 1, Spiketime: 0.1})
	buf.Append(Spike{Gid: 2, Spiketime: 0.2})
	buf.EndWrite()

	assert.Equal(t, int64(10), buf.Sent())
	assert.Equal(t, int64(2), buf.Received())
	assert.Equal(t, int64(8), buf.Imbalance())
}

func TestReceiveBuffer_ConcurrentSendCounters(t *testing.T) {
	buf := NewReceiveBuffer(0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf.AddSent(1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), buf.Sent())
}
