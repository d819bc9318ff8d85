// Package env declares the boundary operations the core depends on but does
// not implement (§6.4): the event queue, matrix assembly, topology provider,
// and wall-clock collaborators that surround the distributed solver.
package env

import "github.com/nrnmpi/multisplit/pkg/model"

// EventQueue enqueues an incoming spike into the local priority queue that
// drives simulated time advance. Enqueue must be re-entrant with respect to
// the local step advance (§6.4) and must not block.
//
// This is the single chosen enqueue path: the original simulator carried two
// near-identical enqueue routines (enqueue1/enqueue2) that differed only in
// whether the presyn or a raw gid was passed in. Per the design note in
// SPEC_FULL.md §9(ii) only one is kept here.
type EventQueue interface {
	Enqueue(presyn *model.PreSyn, spiketime float64)
}

// MatrixAssembler produces the sequential D/A/B/RHS node vector for one
// rank. Real assembly (mechanism kinetics, membrane currents) is out of
// scope (§1); the core only ever calls Assemble once per step and treats the
// result as opaque input to the topology builder and solver.
type MatrixAssembler interface {
	Assemble() ([]model.Node, error)
}

// TopologyProvider exposes the per-node matrix and tree-shape data the
// multi-split topology builder reorders (§6.4). Implementations own
// node_count and the four parallel vectors plus the gid→presyn hash used to
// resolve incoming spikes to local subscribers.
type TopologyProvider interface {
	NodeCount() int
	A(i int) float64
	B(i int) float64
	D(i int) float64
	RHS(i int) float64
	Area(i int) float64
	Parent(i int) int
	ClassicalParent(i int) int
	SecNodeIndex(i int) int
	PreSynForGid(gid model.Gid) (*model.PreSyn, bool)
}

// Clock returns monotonic wall-clock seconds, used only for telemetry
// (§6.4) -- never for correctness decisions.
type Clock interface {
	Wtime() float64
}
