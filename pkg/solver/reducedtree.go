package solver

import (
	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/model"
)

// ReducedTreeSolver solves the dense whole-cell reduced tree matrix built
// for StyleReduced backbones (§4.8, C8): a handful of sid rows, gathered
// from every rank that owns a piece of one split cell, solved on exactly
// one host rank per cell and scattered back out.
type ReducedTreeSolver struct{}

// NewReducedTreeSolver returns a ready-to-use solver.
func NewReducedTreeSolver() *ReducedTreeSolver { return &ReducedTreeSolver{} }

// Gather applies every RecvMap entry, pulling each row's contribution
// from either a local arena (via the accessor) or an inbound wire slot,
// honouring Replace (overwrite) vs accumulate semantics in place of the
// legacy 1e30/1e50 magic-number scaling (§9 "Scaling sentinels").
func (s *ReducedTreeSolver) Gather(m *model.ReducedTreeMatrix, local func(model.ArenaRef) float64, wire []float64) error {
	for _, e := range m.RecvMap {
		var v float64
		if e.FromWire {
			if e.WireSlot < 0 || e.WireSlot >= len(wire) {
				return apperrors.New(apperrors.CodeInvariantViolation, "reduced tree recv map references an out-of-range wire slot")
			}
			v = wire[e.WireSlot]
		} else {
			v = local(e.Source)
		}
		if err := assignSlot(m, e, v); err != nil {
			return err
		}
	}
	return nil
}

func assignSlot(m *model.ReducedTreeMatrix, e model.MapEntry, v float64) error {
	if e.Row < 0 || e.Row >= m.N() {
		return apperrors.New(apperrors.CodeInvariantViolation, "reduced tree map entry references an out-of-range row")
	}
	var dst *float64
	switch e.Slot {
	case model.SlotD:
		dst = &m.D[e.Row]
	case model.SlotA:
		dst = &m.A[e.Row]
	case model.SlotB:
		dst = &m.B[e.Row]
	case model.SlotRHS:
		dst = &m.RHS[e.Row]
	default:
		return apperrors.New(apperrors.CodeInvariantViolation, "reduced tree map entry names an unknown slot")
	}
	if e.Replace {
		*dst = v
	} else {
		*dst += v
	}
	return nil
}

// Solve performs standard tree Gaussian elimination: forward fold
// high-to-low using IP, then root-to-leaf back-substitution. Requires the
// IP[i] < i invariant established by model.ReducedTreeMatrix.Reorder.
// Returns a Singular error (§7) on a zero pivot rather than dividing by
// it.
func (s *ReducedTreeSolver) Solve(m *model.ReducedTreeMatrix) error {
	n := m.N()
	for i := n - 1; i >= 1; i-- {
		p := m.IP[i]
		if p < 0 {
			continue
		}
		if m.D[i] == 0 {
			return apperrors.New(apperrors.CodeSingular, "reduced tree matrix has a zero pivot during forward elimination")
		}
		factor := m.A[i] / m.D[i]
		m.D[p] -= factor * m.B[i]
		m.RHS[p] -= factor * m.RHS[i]
	}
	if n == 0 {
		return nil
	}
	if m.D[0] == 0 {
		return apperrors.New(apperrors.CodeSingular, "reduced tree matrix has a zero pivot at the root")
	}
	m.RHS[0] /= m.D[0]
	for i := 1; i < n; i++ {
		if p := m.IP[i]; p >= 0 {
			m.RHS[i] -= m.B[i] * m.RHS[p]
		}
		if m.D[i] == 0 {
			return apperrors.New(apperrors.CodeSingular, "reduced tree matrix has a zero pivot during back-substitution")
		}
		m.RHS[i] /= m.D[i]
	}
	return nil
}

// Scatter applies every SendMap entry, writing each row's solved value
// (m.RHS[row], post-Solve) back out to a local arena or an outbound wire
// slot, honouring Replace vs accumulate semantics.
func (s *ReducedTreeSolver) Scatter(m *model.ReducedTreeMatrix, local func(model.ArenaRef, float64), wire []float64) error {
	for _, e := range m.SendMap {
		if e.Row < 0 || e.Row >= m.N() {
			return apperrors.New(apperrors.CodeInvariantViolation, "reduced tree send map references an out-of-range row")
		}
		v := m.RHS[e.Row]
		if e.FromWire {
			if e.WireSlot < 0 || e.WireSlot >= len(wire) {
				return apperrors.New(apperrors.CodeInvariantViolation, "reduced tree send map references an out-of-range wire slot")
			}
			if e.Replace {
				wire[e.WireSlot] = v
			} else {
				wire[e.WireSlot] += v
			}
			continue
		}
		local(e.Source, v)
	}
	return nil
}
