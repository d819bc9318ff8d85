// Package exchange implements the distributed spike and boundary-value
// exchange (C3, C4, C9): collecting every rank's outgoing point events
// into a global schedule, moving them across ranks, and driving the
// cross-rank half of the multi-split solve -- the boundary corrections
// backbone endpoints need from their peer and the wire traffic a
// reduced-tree host needs from every rank hosting a piece of its cell.
package exchange

import "github.com/nrnmpi/multisplit/pkg/transport"

// The four backbone/reduced-tree descriptor groups of §4.9, each on its own
// tag so a rank's concurrent point-to-point traffic for one step never
// collides: a short backbone's boundary traffic (both directions) travels
// under TagBoundaryShortLong, a long backbone's under TagBoundaryLongLong,
// and a reduced-tree cell's gather/scatter legs are split across
// TagReducedGather/TagReducedScatter since they run in opposite directions
// between a contributing rank and its host.
const (
	TagSpikeInline transport.Tag = iota
	TagSpikeOverflow
	TagBoundaryShortLong
	TagBoundaryLongLong
	TagReducedGather
	TagReducedScatter
)

// offsets returns prefix-sum offsets into a flat buffer given per-rank
// counts, the same idiom used by pkg/transport and pkg/gidtable.
func offsets(counts []int) (off []int, total int) {
	off = make([]int, len(counts))
	sum := 0
	for i, c := range counts {
		off[i] = sum
		sum += c
	}
	return off, sum
}

// ScaleOutgoing converts a node quantity from the local per-unit-area
// convention to the absolute current carried across a rank boundary
// (§4.9's area scaling).
func ScaleOutgoing(value, area float64) float64 { return value * area }

// ScaleIncoming converts an absolute current received from a peer back into
// the local per-unit-area convention: it divides out area and applies a x100
// factor, so ScaleIncoming(ScaleOutgoing(v, a), a) is 100*v. The x100 factor is the legacy mV/nF<->mA/cm^2 unit conversion the original
// cable solver's exchange boundary carried.
func ScaleIncoming(value, area float64) float64 {
	if area == 0 {
		return 0
	}
	return value * 100 / area
}
