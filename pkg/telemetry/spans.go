package telemetry

import "strconv"

// Span names for the core simulation loop's tracer.Start calls (§4.9, §6.4).
// Keeping them as named constants (rather than inline literals at each call
// site) keeps every span name consistent; the spans are started in
// pkg/exchange's Orchestrator.RunStep.
const (
	SpanStep             = "psolve"
	SpanSpikeExchange    = "spike_exchange"
	SpanBackboneSolve    = "backbone_solve"
	SpanReducedTreeSolve = "reduced_tree_solve"
)

// RankAttrs builds the rank/world_size resource attributes every component's
// spans and logs should carry (§1 "REDESIGN FLAGS": attribute the whole trace
// to its owning rank so a collector can group a distributed step).
func RankAttrs(rank, worldSize int) map[string]string {
	return map[string]string{
		"rank":       strconv.Itoa(rank),
		"world_size": strconv.Itoa(worldSize),
	}
}
