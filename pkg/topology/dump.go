package topology

import "fmt"

// Dump renders the backbone fences and per-group sizes in the terse
// printf style the original multisplit.cpp diagnostics used around
// backbone_begin et al. Used by tests and the runtime bench CLI's --debug
// flag (SPEC_FULL.md §3).
func (r *Result) Dump() string {
	return fmt.Sprintf(
		"nodes=%d backbone=[%d,%d) long_begin=%d interior_begin=%d sid1_begin=%d long_sid1_begin=%d reduced_sids=%d",
		len(r.Nodes), r.BackboneBegin, r.BackboneEnd, r.BackboneLongBegin,
		r.BackboneInteriorBegin, r.BackboneSid1Begin, r.BackboneLongSid1Begin,
		len(r.ReducedTreeSids),
	)
}
