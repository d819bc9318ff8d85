package env

import (
	"time"

	"github.com/nrnmpi/multisplit/pkg/model"
)

// WallClock implements Clock using the standard monotonic clock, in the same
// spirit as pkg/utils.RealClock: a thin wrapper so call sites can swap in a
// fake without reaching for time.Now directly.
type WallClock struct {
	start time.Time
}

// NewWallClock returns a Clock whose Wtime is relative to the instant it was
// constructed, matching the "monotonic seconds" contract of §6.4 without
// exposing an absolute epoch.
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

// Wtime returns seconds elapsed since the clock was constructed.
func (c *WallClock) Wtime() float64 {
	return time.Since(c.start).Seconds()
}

// FixedClock is a deterministic Clock for tests.
type FixedClock struct {
	T float64
}

// Wtime returns the fixed time.
func (c *FixedClock) Wtime() float64 { return c.T }

// InMemoryAssembler is a minimal reference MatrixAssembler: it replays a
// fixed slice of nodes on every Assemble call. Real mechanism-kinetics
// assembly is out of scope (§1); this exists so the solver and topology
// packages have something concrete to exercise in tests.
type InMemoryAssembler struct {
	Nodes []model.Node
}

// Assemble returns a defensive copy of the configured node vector.
func (a *InMemoryAssembler) Assemble() ([]model.Node, error) {
	out := make([]model.Node, len(a.Nodes))
	copy(out, a.Nodes)
	return out, nil
}

// InMemoryTopology is a minimal reference TopologyProvider backed by plain
// slices and a gid→presyn map, for use by topology/solver tests that need a
// TopologyProvider without wiring a real assembler.
type InMemoryTopology struct {
	Nodes   []model.Node
	PreSyns map[model.Gid]*model.PreSyn
}

func (t *InMemoryTopology) NodeCount() int             { return len(t.Nodes) }
func (t *InMemoryTopology) A(i int) float64            { return t.Nodes[i].A }
func (t *InMemoryTopology) B(i int) float64            { return t.Nodes[i].B }
func (t *InMemoryTopology) D(i int) float64            { return t.Nodes[i].D }
func (t *InMemoryTopology) RHS(i int) float64          { return t.Nodes[i].RHS }
func (t *InMemoryTopology) Area(i int) float64         { return t.Nodes[i].Area }
func (t *InMemoryTopology) Parent(i int) int           { return t.Nodes[i].Parent }
func (t *InMemoryTopology) ClassicalParent(i int) int  { return t.Nodes[i].ClassicalParent }
func (t *InMemoryTopology) SecNodeIndex(i int) int     { return t.Nodes[i].SecNodeIndex }

func (t *InMemoryTopology) PreSynForGid(gid model.Gid) (*model.PreSyn, bool) {
	ps, ok := t.PreSyns[gid]
	return ps, ok
}

// QueueFunc adapts a plain function to EventQueue, mirroring the
// http.HandlerFunc idiom the teacher repo uses elsewhere for small
// interfaces (see pkg/utils logger level funcs).
type QueueFunc func(presyn *model.PreSyn, spiketime float64)

// Enqueue calls f.
func (f QueueFunc) Enqueue(presyn *model.PreSyn, spiketime float64) { f(presyn, spiketime) }
