package model

import "sync/atomic"

// Node is a single row of the distributed Hines (tree-banded) matrix: a
// compartment with its diagonal, off-diagonals, right-hand side, and the
// bookkeeping the multi-split topology builder needs to reorder it.
type Node struct {
	D, A, B, RHS float64
	Area         float64

	// Parent is the index, in the reordered node vector, of this node's
	// parent; -1 marks a root. ClassicalParent is the original (pre-reorder)
	// parent index, kept for re-rooting (see pkg/topology).
	Parent          int
	ClassicalParent int

	SecNodeIndex int

	// Sid is the split-point id of a node that participates in a multisplit
	// backbone or reduced tree (sid0 or sid1 endpoint); HasSid marks such
	// nodes, since 0 is itself a valid Sid.
	Sid     Sid
	HasSid  bool
	SidSlot int // 0 or 1: which end of the backbone this node is
}

// ArenaRef is a stable (arena, index) reference, used instead of raw
// pointers into S1A/S1B/receive-buffer storage so that growing or
// reallocating those arenas on topology rebuild never leaves a dangling
// pointer (see SPEC_FULL.md design notes on pointer graphs into mutable
// arrays).
type ArenaRef struct {
	Arena ArenaID
	Index int
}

// ArenaID names one of the growable backbone-fill arenas.
type ArenaID uint8

const (
	ArenaNone ArenaID = iota
	ArenaS1A
	ArenaS1B
	ArenaRecvBuf
	ArenaNodeD
	ArenaNodeRHS
)

// Valid reports whether the reference actually points somewhere.
func (r ArenaRef) Valid() bool { return r.Arena != ArenaNone }

// ReceiveBuffer is a growable, single-writer vector of spike records used by
// the DMA exchanger. busy enforces the single-writer invariant of §4.4/§5:
// entering with busy != 0 is a bug.
type ReceiveBuffer struct {
	busy  atomic.Bool
	recs  []Spike
	nsend int64
	nrecv int64
}

// NewReceiveBuffer creates an empty buffer with the given initial capacity.
func NewReceiveBuffer(capacity int) *ReceiveBuffer {
	return &ReceiveBuffer{recs: make([]Spike, 0, capacity)}
}

// BeginWrite asserts the single-writer invariant and marks the buffer busy.
// It panics (an InvariantViolation, per §7) if a write is already in flight.
func (b *ReceiveBuffer) BeginWrite() {
	if !b.busy.CompareAndSwap(false, true) {
		panic("model: receive buffer busy flag re-entered")
	}
}

// EndWrite clears the busy flag.
func (b *ReceiveBuffer) EndWrite() {
	b.busy.Store(false)
}

// Append records one incoming spike and bumps the receive counter. Must be
// called between BeginWrite/EndWrite.
func (b *ReceiveBuffer) Append(s Spike) {
	b.recs = append(b.recs, s)
	atomic.AddInt64(&b.nrecv, 1)
}

// Records returns the buffer's current contents. Safe to call once no
// writer is in flight (busy == false).
func (b *ReceiveBuffer) Records() []Spike { return b.recs }

// Reset clears the buffer contents but keeps the underlying array (buffers
// grow monotonically and are never shrunk during a run, per §3 Lifecycle).
func (b *ReceiveBuffer) Reset() {
	b.recs = b.recs[:0]
}

// AddSent increments the conservation send counter by n.
func (b *ReceiveBuffer) AddSent(n int64) { atomic.AddInt64(&b.nsend, n) }

// Sent and Received return the cumulative conservation counters.
func (b *ReceiveBuffer) Sent() int64     { return atomic.LoadInt64(&b.nsend) }
func (b *ReceiveBuffer) Received() int64 { return atomic.LoadInt64(&b.nrecv) }

// Imbalance returns sent-received, the quantity the DMA conservation loop
// all-reduces to zero (§4.4).
func (b *ReceiveBuffer) Imbalance() int64 { return b.Sent() - b.Received() }
