// Package solver implements the distributed multi-split Hines matrix solve
// (C7, C8): triangulating each rank's local subtree down to its backbone
// boundary nodes, jointly resolving the shared sid0/sid1 values with the
// peer rank once their cross-rank contributions arrive, back-substituting
// the full node vector, and solving the dense reduced-tree matrix used by
// StyleReduced endpoints.
//
// The solved value for a node is written back into that node's RHS field,
// following the same in-place convention as the original cable solver: D,
// A, B are consumed during elimination and RHS ends up holding the
// unknown.
package solver

// BoundaryCorrection is one external contribution to add to a backbone
// endpoint's equation before the joint sid0/sid1 solve: the peer rank's
// locally-reduced view of everything beyond this cut, received via the
// spike/matrix exchange (§4.9). Diag and RHS add directly into the named
// node's D and RHS.
type BoundaryCorrection struct {
	NodeIndex int
	Diag      float64
	RHS       float64
}
