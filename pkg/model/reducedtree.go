package model

import apperrors "github.com/nrnmpi/multisplit/pkg/errors"

// ReducedTreeMatrix is the dense rank-n tree matrix describing the
// interaction of all sids on one whole partitioned cell (§3, §4.8). It is
// solved on exactly one "host" rank per cell.
type ReducedTreeMatrix struct {
	// IP holds the parent index of each row; the root row has IP[0] == -1.
	IP []int
	D, A, B, RHS []float64

	// RecvMap/SendMap route incoming/outgoing contributions between this
	// matrix's rows and the backbone rows or wire buffers that feed it.
	RecvMap []MapEntry
	SendMap []MapEntry

	// ZeroCapMask marks rows whose nodes are all zero-area (the §4.8
	// no-capacitance path); nil when the cell has no such rows.
	ZeroCapMask []bool
}

// N returns the number of sids (rows) in the matrix.
func (m *ReducedTreeMatrix) N() int { return len(m.D) }

// SlotKind names which of the four parallel vectors (D, A, B, RHS) a MapEntry
// addresses.
type SlotKind uint8

const (
	SlotD SlotKind = iota
	SlotA
	SlotB
	SlotRHS
)

// MapEntry routes one contribution into or out of a ReducedTreeMatrix row.
// Source (for RecvMap) is either a local ArenaRef (a backbone node's D/RHS/
// S1A/S1B) or a slot in the inbound wire buffer, selected by FromWire.
//
// Replace is the explicit replace-vs-add flag called for by the design
// notes (§9 "Scaling sentinels"): when true the destination slot is
// overwritten rather than accumulated into, which is what the legacy
// 1e30/1e50 magic-number scaling achieved implicitly. The component branches
// on Replace; no code writes or reads the numeric sentinels below.
type MapEntry struct {
	Row     int
	Slot    SlotKind
	Source  ArenaRef
	FromWire bool
	WireSlot int
	Replace  bool
}

// ScatterSentinelD is the legacy magic-number overwrite value of a
// reduced-tree scatter slot: scaling RHS by 1e30 and setting D to 1e30 makes
// whatever value pre-existed at the destination numerically irrelevant,
// which is what Replace now does explicitly. ZeroCapSentinelD is the legacy
// zero-capacitance marker (D == 1e50). Neither constant is used by any code
// in the module, and no solve path tests for ZeroCapSentinelD.
const (
	ScatterSentinelD = 1e30
	ZeroCapSentinelD = 1e50
)

// Reorder rewrites IP in place so that IP[i] < i for every i (the §4.8
// "Reorder" step): iteratively promote any node adjacent to an
// already-numbered node until all are numbered. Returns the permutation
// applied to old row indices (perm[newIndex] = oldIndex) and an error if no
// progress can be made in a full pass (an InvariantViolation per §7 — the
// reduced-tree graph is not actually a tree).
func (m *ReducedTreeMatrix) Reorder() ([]int, error) {
	n := len(m.IP)
	if n == 0 {
		return nil, nil
	}
	numbered := make([]bool, n)
	newIndexOf := make([]int, n)
	perm := make([]int, 0, n)

	// The root (IP == -1) is always eligible first.
	root := -1
	for i, p := range m.IP {
		if p == -1 {
			root = i
			break
		}
	}
	if root == -1 {
		return nil, apperrors.New(apperrors.CodeInvariantViolation, "reduced tree has no root")
	}

	numbered[root] = true
	newIndexOf[root] = 0
	perm = append(perm, root)

	for len(perm) < n {
		progressed := false
		for i := 0; i < n; i++ {
			if numbered[i] {
				continue
			}
			if numbered[m.IP[i]] {
				numbered[i] = true
				newIndexOf[i] = len(perm)
				perm = append(perm, i)
				progressed = true
			}
		}
		if !progressed {
			return nil, apperrors.New(apperrors.CodeInvariantViolation, "reduced tree reorder failed to terminate")
		}
	}

	newIP := make([]int, n)
	newD := make([]float64, n)
	newA := make([]float64, n)
	newB := make([]float64, n)
	newRHS := make([]float64, n)
	for newIdx, oldIdx := range perm {
		if m.IP[oldIdx] == -1 {
			newIP[newIdx] = -1
		} else {
			newIP[newIdx] = newIndexOf[m.IP[oldIdx]]
		}
		newD[newIdx] = m.D[oldIdx]
		newA[newIdx] = m.A[oldIdx]
		newB[newIdx] = m.B[oldIdx]
		newRHS[newIdx] = m.RHS[oldIdx]
	}
	m.IP, m.D, m.A, m.B, m.RHS = newIP, newD, newA, newB, newRHS

	for i, p := range m.IP {
		if p >= i && p != -1 {
			return nil, apperrors.New(apperrors.CodeInvariantViolation, "reduced tree reorder postcondition violated")
		}
	}
	return perm, nil
}
