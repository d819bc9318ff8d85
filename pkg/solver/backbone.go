package solver

import (
	"fmt"

	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/model"
	"github.com/nrnmpi/multisplit/pkg/topology"
	"github.com/nrnmpi/multisplit/pkg/utils"
)

// BackboneSolver runs the local (single-rank) half of the multisplit
// triangularization: fold everything not on a backbone path into its
// attachment point, fold each backbone's interior/sid1 chain up into its
// sid0 row, and compose the sid0-relative transfer coefficients every
// backbone node needs for back-substitution once the boundary values are
// known (§4.7). Short and long backbones fill those coefficients via two
// different strategies -- see composeShort/composeLong.
type BackboneSolver struct {
	Log utils.Logger
}

// NewBackboneSolver returns a ready-to-use solver. It carries no state
// between calls other than Log; every numeric field it touches lives on the
// node slice or the topology.Result passed in.
func NewBackboneSolver() *BackboneSolver {
	return &BackboneSolver{Log: utils.GetGlobalLogger()}
}

// Triangulate performs the forward elimination sweep and then the reverse
// composition sweep that fills topo.S1A/S1B. Call once per rank per step,
// after topology.Build and before any cross-rank exchange.
func (s *BackboneSolver) Triangulate(nodes []model.Node, topo *topology.Result) error {
	if len(topo.S1A) != topo.BackboneEnd-topo.BackboneBegin || len(topo.S1B) != topo.BackboneEnd-topo.BackboneBegin {
		return apperrors.New(apperrors.CodeInvariantViolation, "S1A/S1B are not sized to the backbone range")
	}

	// Forward: fold every non-backbone descendant subtree into its
	// attachment point, then fold the interior+sid1 portion of every
	// backbone up into its sid0 row. Both sweeps are the standard
	// child-into-parent Gaussian fold; they're safe to run back to back
	// because parent(i) < i holds everywhere (P4) and children are never
	// revisited once folded.
	eliminateRange(nodes, topo.BackboneEnd, len(nodes))
	eliminateRange(nodes, topo.BackboneInteriorBegin, topo.BackboneEnd)

	// sid0 rows are their own coordinate origin regardless of style.
	begin := topo.BackboneBegin
	for i := topo.BackboneBegin; i < topo.BackboneInteriorBegin; i++ {
		topo.S1A[i-begin] = 0
		topo.S1B[i-begin] = 1
	}

	// Reverse: express every non-sid0 backbone node as an affine function
	// of its own backbone's (not-yet-solved) sid0 value, via whichever
	// strategy its style calls for (§4.7).
	composeShort(nodes, topo)
	composeLong(nodes, topo)
	if s.Log != nil {
		s.Log.Debug("triangulated backbone %d short + %d long rows", topo.BackboneLongSid1Begin-topo.BackboneSid1Begin, topo.BackboneEnd-topo.BackboneLongSid1Begin)
	}
	return nil
}

// eliminateRange folds nodes[hi-1..lo] into their parents, highest index
// first. Nodes outside [lo,hi) are untouched except as fold targets.
func eliminateRange(nodes []model.Node, lo, hi int) {
	for i := hi - 1; i >= lo; i-- {
		p := nodes[i].Parent
		if p < 0 {
			continue
		}
		factor := nodes[i].A / nodes[i].D
		nodes[p].D -= factor * nodes[i].B
		nodes[p].RHS -= factor * nodes[i].RHS
	}
}

// composeLong fills S1A/S1B for every long backbone's interior and sid1
// rows by a single ascending-index sweep. Per the node-ordering invariant
// this always visits a node's backbone parent before the node itself (sid0
// rows first, then interior root-to-leaf, then sid1), so each node's parent
// coefficients are already available when the node is reached. This is the
// general post-exchange path: a long backbone's boundary correction is
// folded in later, in SolveBackbones, once both sid0 and sid1's corrections
// have crossed the wire.
func composeLong(nodes []model.Node, topo *topology.Result) {
	begin := topo.BackboneBegin
	for i := topo.BackboneInteriorBegin; i < topo.BackboneEnd; i++ {
		owner := topo.Sid0i[i-begin]
		if owner < topo.BackboneLongBegin {
			continue // handled by composeShort
		}
		composeNode(nodes, topo, i)
	}
}

// composeShort fills S1A/S1B for every short backbone by walking each
// sid1's chain of Parent pointers directly back to its sid0, one backbone
// at a time, rather than relying on the single ascending sweep long
// backbones use. A short backbone's chain is bounded short by construction
// (§6.2 style 1), so this direct per-backbone walk resolves its 2x2
// analytically up front -- before any cross-rank exchange touches either
// end -- instead of waiting on the interleaved long-backbone sweep.
func composeShort(nodes []model.Node, topo *topology.Result) {
	begin := topo.BackboneBegin
	for sid1 := topo.BackboneSid1Begin; sid1 < topo.BackboneLongSid1Begin; sid1++ {
		owner := topo.Sid0i[sid1-begin]
		for _, i := range chainToSid0(nodes, sid1, owner) {
			composeNode(nodes, topo, i)
		}
	}
}

// composeNode sets S1A[i]/S1B[i] from its already-computed parent
// coefficients (or sid0's own identity coefficients, if the parent fell
// outside the backbone range -- a malformed topology the P4 check upstream
// would already have rejected, so this falls back to ground truth rather
// than panicking).
func composeNode(nodes []model.Node, topo *topology.Result, i int) {
	begin := topo.BackboneBegin
	p := nodes[i].Parent
	var pa, pb float64
	if p >= begin && p < topo.BackboneEnd {
		pa, pb = topo.S1A[p-begin], topo.S1B[p-begin]
	}
	invD := 1 / nodes[i].D
	topo.S1A[i-begin] = nodes[i].RHS*invD - nodes[i].B*invD*pa
	topo.S1B[i-begin] = -nodes[i].B * invD * pb
}

// chainToSid0 returns the node chain from (excluding) sid0 to (including)
// sid1, in root-to-leaf order -- the order composeNode must be applied in,
// since each node's coefficients depend on its parent's.
func chainToSid0(nodes []model.Node, sid1, sid0 int) []int {
	var leafToRoot []int
	for i := sid1; i != sid0 && i != -1; i = nodes[i].Parent {
		leafToRoot = append(leafToRoot, i)
	}
	chain := make([]int, len(leafToRoot))
	for k, idx := range leafToRoot {
		chain[len(leafToRoot)-1-k] = idx
	}
	return chain
}

// PairBoundaries returns, for every backbone, the absolute index of its
// sid1 row keyed by the absolute index of its sid0 row (found through
// topo.Sid0i): sid0Index -> sid1Index.
func PairBoundaries(topo *topology.Result) map[int]int {
	pairs := make(map[int]int)
	begin := topo.BackboneBegin
	for abs := topo.BackboneSid1Begin; abs < topo.BackboneEnd; abs++ {
		owner := topo.Sid0i[abs-begin]
		pairs[owner] = abs
	}
	return pairs
}

// SolveBackbones closes every backbone's 2x2 boundary system: the local
// sid0 row (already folded to reflect everything this rank owns) plus any
// external corrections received for sid0 or sid1, with sid1's correction
// reflected into sid0's equation via the composed transfer coefficients.
// The solved x[sid0] is written into nodes[sid0].RHS.
func (s *BackboneSolver) SolveBackbones(nodes []model.Node, topo *topology.Result, corrections []BoundaryCorrection) error {
	extra := make(map[int]BoundaryCorrection, len(corrections))
	for _, c := range corrections {
		if prev, ok := extra[c.NodeIndex]; ok {
			c.Diag += prev.Diag
			c.RHS += prev.RHS
		}
		extra[c.NodeIndex] = c
	}

	for sid0, sid1 := range PairBoundaries(topo) {
		d0 := nodes[sid0].D
		rhs0 := nodes[sid0].RHS
		if c, ok := extra[sid0]; ok {
			d0 += c.Diag
			rhs0 += c.RHS
		}

		var d1, rhs1 float64
		if c, ok := extra[sid1]; ok {
			d1, rhs1 = c.Diag, c.RHS
		}

		s1a := topo.S1A[sid1-topo.BackboneBegin]
		s1b := topo.S1B[sid1-topo.BackboneBegin]
		d0 += s1b * d1
		rhs0 += rhs1 - d1*s1a

		if d0 == 0 {
			return apperrors.New(apperrors.CodeSingular, "backbone boundary system is singular at sid0")
		}
		nodes[sid0].RHS = rhs0 / d0
	}
	return nil
}

// BackSubstitute propagates the solved sid0 values through every backbone
// (interior and sid1 rows, via S1A/S1B), resolves any plain root directly,
// and then sweeps the remaining subtree nodes in ascending index order
// using the standard bksub recurrence. Call once per rank per step, after
// SolveBackbones.
func (s *BackboneSolver) BackSubstitute(nodes []model.Node, topo *topology.Result) {
	backsubRange(nodes, 0, topo.BackboneBegin)

	begin := topo.BackboneBegin
	for i := begin; i < topo.BackboneEnd; i++ {
		if nodes[i].Parent == -1 {
			continue // sid0, already solved by SolveBackbones
		}
		owner := topo.Sid0i[i-begin]
		x0 := nodes[owner].RHS
		nodes[i].RHS = topo.S1A[i-begin] + topo.S1B[i-begin]*x0
	}

	backsubRange(nodes, topo.BackboneEnd, len(nodes))
}

// Dump renders the composed sid0-relative transfer coefficients Triangulate
// filled into topo.S1A/S1B, in the same terse printf style as
// topology.Result.Dump. Used by tests and the runtime bench CLI's --debug
// flag.
func (s *BackboneSolver) Dump(topo *topology.Result) string {
	var sumA, sumB float64
	for i := range topo.S1A {
		sumA += topo.S1A[i]
		sumB += topo.S1B[i]
	}
	return fmt.Sprintf("backbones=%d sum_s1a=%g sum_s1b=%g", len(topo.S1A), sumA, sumB)
}

// backsubRange solves nodes[lo..hi) in ascending index order; every
// node's parent either lies below lo (already solved) or earlier in this
// same range (P4 guarantees parent < i). A node with HasSid set in this
// range is a StyleReduced endpoint: its RHS was already written by the
// reduced-tree host's Scatter (C8, run by the exchange orchestrator between
// Triangulate and BackSubstitute), so it's left untouched rather than
// divided again -- only its non-reduced children, if any, still need the
// ordinary recurrence below.
func backsubRange(nodes []model.Node, lo, hi int) {
	for i := lo; i < hi; i++ {
		if nodes[i].HasSid {
			continue
		}
		p := nodes[i].Parent
		if p == -1 {
			nodes[i].RHS = nodes[i].RHS / nodes[i].D
		} else {
			nodes[i].RHS = (nodes[i].RHS - nodes[i].B*nodes[p].RHS) / nodes[i].D
		}
	}
}
