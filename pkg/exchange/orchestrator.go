package exchange

import (
	"context"
	"encoding/binary"
	"math"

	"go.opentelemetry.io/otel"

	"github.com/nrnmpi/multisplit/pkg/env"
	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/model"
	"github.com/nrnmpi/multisplit/pkg/parallel"
	"github.com/nrnmpi/multisplit/pkg/solver"
	"github.com/nrnmpi/multisplit/pkg/telemetry"
	"github.com/nrnmpi/multisplit/pkg/topology"
	"github.com/nrnmpi/multisplit/pkg/transport"
	"github.com/nrnmpi/multisplit/pkg/utils"
)

var tracer = otel.Tracer("github.com/nrnmpi/multisplit/pkg/exchange")

// ReducedTreeRoute tells one rank how to handle one StyleReduced sid's
// dense matrix for a step: which rank solves it, and which other ranks
// (besides HostRank) also own a local endpoint and must be gathered from /
// scattered to. Every rank touching this sid sees the same route.
type ReducedTreeRoute struct {
	HostRank int
	Peers    []int
}

// Orchestrator drives one simulation step's cross-rank work (§4.9, C9):
// triangulating every cell this rank owns, exchanging each multisplit
// backbone's boundary value with the peer that owns the matching half
// (tagged by style per the original exchange's short<->long / long<->long
// split), gathering/solving/scattering every locally-hosted reduced tree
// (C8), and solving/back-substituting once every correction has arrived.
// Spike delivery (collective or DMA) runs on its own cadence and is driven
// separately by the caller between steps.
type Orchestrator struct {
	Transport transport.Transport
	Backbone  *solver.BackboneSolver
	Reduced   *solver.ReducedTreeSolver
	Clock     env.Clock
	Log       utils.Logger
}

// NewOrchestrator wires a fresh backbone and reduced-tree solver to tr.
func NewOrchestrator(tr transport.Transport, clock env.Clock) *Orchestrator {
	return &Orchestrator{
		Transport: tr,
		Backbone:  solver.NewBackboneSolver(),
		Reduced:   solver.NewReducedTreeSolver(),
		Clock:     clock,
		Log:       utils.GetGlobalLogger(),
	}
}

// ExchangeBoundary sends this rank's sid0-side contribution for one
// backbone to peer under tag and waits for the matching contribution back,
// returning it as a BoundaryCorrection ready for BackboneSolver.SolveBackbones.
// Both legs are area-scaled per §4.9: outgoing D/RHS are multiplied by
// sendArea before they leave this rank, and whatever arrives is multiplied
// by 100 and divided by recvArea (ScaleIncoming; recvArea is the area of the
// node the correction folds into here), so equations from nodes of different membrane area combine by
// their relative weight rather than equally. A failed wait aborts only this
// boundary's exchange -- per §4.9 there is no cancellation of other
// in-flight boundaries, so the caller decides whether to retry the step or
// fail the whole timestep.
func (o *Orchestrator) ExchangeBoundary(ctx context.Context, peer int, tag transport.Tag, sid1NodeIndex int, local solver.BoundaryCorrection, sendArea, recvArea float64) (solver.BoundaryCorrection, error) {
	scaled := local
	scaled.Diag = ScaleOutgoing(local.Diag, sendArea)
	scaled.RHS = ScaleOutgoing(local.RHS, sendArea)

	if err := o.Transport.Send(ctx, peer, tag, encodeCorrection(scaled)); err != nil {
		return solver.BoundaryCorrection{}, apperrors.Wrap(apperrors.CodeTransportFault, "boundary send failed", err)
	}
	h, err := o.Transport.PostRecv(ctx, peer, tag)
	if err != nil {
		return solver.BoundaryCorrection{}, apperrors.Wrap(apperrors.CodeTransportFault, "boundary recv post failed", err)
	}
	raw, err := o.Transport.Wait(ctx, h)
	if err != nil {
		return solver.BoundaryCorrection{}, apperrors.Wrap(apperrors.CodeTransportFault, "boundary wait failed", err)
	}
	remote, err := decodeCorrection(raw)
	if err != nil {
		return solver.BoundaryCorrection{}, err
	}
	remote.Diag = ScaleIncoming(remote.Diag, recvArea)
	remote.RHS = ScaleIncoming(remote.RHS, recvArea)
	remote.NodeIndex = sid1NodeIndex
	return remote, nil
}

// ExchangeReducedTreeWire performs the cross-rank all-to-all for a
// reduced-tree cell's wire-addressed rows: every rank contributes its
// per-target-rank slice of gathered (or scattered) values and receives back
// whatever the other ranks routed to it. The caller is responsible for the
// local half of the mapping (model.MapEntry.WireSlot addressing into
// sendbuf/the returned recvbuf). RunStep itself uses the simpler
// point-to-point gather/scatter below (one host, a handful of peers);
// ExchangeReducedTreeWire remains available for a caller assembling a
// larger, collective-friendly reduced-tree wire layout.
func (o *Orchestrator) ExchangeReducedTreeWire(ctx context.Context, sendbuf []float64, sendCounts []int) (recvbuf []float64, recvCounts []int, err error) {
	recvbuf, recvCounts, err = o.Transport.AlltoallvDbl(ctx, sendbuf, sendCounts)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeTransportFault, "reduced tree wire exchange failed", err)
	}
	return recvbuf, recvCounts, nil
}

// RunStep triangulates every cell, exchanges each backbone's boundary with
// its peer rank, runs every locally-relevant reduced tree (C8), solves the
// resulting 2x2 backbone systems, and back-substitutes. peers maps a
// backbone's sid1 node index (as assigned by topology.Build) to the rank
// that owns that sid1's own copy of the backbone; a sid1 not present in
// peers is assumed to be locally resolved already (e.g. both ends of the
// backbone live on this rank) and is skipped. reduced maps a StyleReduced
// sid to its ReducedTreeRoute; a sid this rank has no local endpoint for is
// silently skipped even if present in the map.
func (o *Orchestrator) RunStep(ctx context.Context, cells []solver.Cell, peers map[int]int, reduced map[model.Sid]ReducedTreeRoute, cfg parallel.PoolConfig) ([]solver.Solved, error) {
	ctx, span := tracer.Start(ctx, telemetry.SpanStep)
	defer span.End()

	solved, err := solver.TriangulateCells(ctx, cells, cfg)
	if err != nil {
		return nil, err
	}

	for _, cell := range solved {
		var corrections []solver.BoundaryCorrection
		boundaryCtx, boundarySpan := tracer.Start(ctx, telemetry.SpanSpikeExchange)
		for sid0, sid1 := range solver.PairBoundaries(cell.Topology) {
			peer, ok := peers[sid1]
			if !ok {
				continue
			}
			tag := TagBoundaryLongLong
			if sid0 < cell.Topology.BackboneLongBegin {
				tag = TagBoundaryShortLong
			}
			local := solver.BoundaryCorrection{
				NodeIndex: sid1,
				Diag:      cell.Topology.Nodes[sid0].D,
				RHS:       cell.Topology.Nodes[sid0].RHS,
			}
			remote, err := o.ExchangeBoundary(boundaryCtx, peer, tag, sid1, local, cell.Topology.Nodes[sid0].Area, cell.Topology.Nodes[sid1].Area)
			if err != nil {
				boundarySpan.End()
				return nil, err
			}
			corrections = append(corrections, remote)
		}
		boundarySpan.End()

		if len(reduced) > 0 && len(cell.Topology.ReducedTreeSids) > 0 {
			rtCtx, rtSpan := tracer.Start(ctx, telemetry.SpanReducedTreeSolve)
			if err := o.runReducedTrees(rtCtx, cell.Topology, reduced); err != nil {
				rtSpan.End()
				return nil, err
			}
			rtSpan.End()
		}

		_, solveSpan := tracer.Start(ctx, telemetry.SpanBackboneSolve)
		if err := o.Backbone.SolveBackbones(cell.Topology.Nodes, cell.Topology, corrections); err != nil {
			solveSpan.End()
			return nil, err
		}
		o.Backbone.BackSubstitute(cell.Topology.Nodes, cell.Topology)
		solveSpan.End()
	}
	return solved, nil
}

// runReducedTrees handles C8 for every sid in topo.ReducedTreeSids that
// this rank has a local endpoint for and a route was supplied: contributing
// ranks send their local row(s) (D/A/B/RHS, area-scaled) to the host under
// TagReducedGather; the host accumulates them onto its own area-scaled
// local rows (multiple ranks' equations for the same physical sid combine
// additively, by area, rather than overwrite each other), solves, and sends
// the solved RHS back under TagReducedScatter.
func (o *Orchestrator) runReducedTrees(ctx context.Context, topo *topology.Result, routes map[model.Sid]ReducedTreeRoute) error {
	rank := o.Transport.Rank()
	for _, sid := range topo.ReducedTreeSids {
		route, ok := routes[sid]
		if !ok {
			continue
		}
		rows := localReducedRows(topo.Nodes, sid)
		if len(rows) == 0 {
			continue
		}

		if route.HostRank == rank {
			m := newReducedMatrix(topo.Nodes, rows)
			for _, peer := range route.Peers {
				if peer == rank {
					continue
				}
				raw, err := o.recvFloats(ctx, peer, TagReducedGather, 4*len(rows))
				if err != nil {
					return err
				}
				foldReducedRow(m, raw)
			}
			if err := o.Reduced.Solve(m); err != nil {
				return err
			}
			for i, nd := range rows {
				topo.Nodes[nd].RHS = m.RHS[i]
			}
			for _, peer := range route.Peers {
				if peer == rank {
					continue
				}
				if err := o.sendFloats(ctx, peer, TagReducedScatter, m.RHS); err != nil {
					return err
				}
			}
			if o.Log != nil {
				o.Log.Debug("reduced tree sid %d solved on host rank %d (%d rows, %d peers)", sid, rank, len(rows), len(route.Peers))
			}
		} else {
			payload := packReducedRow(topo.Nodes, rows)
			if err := o.sendFloats(ctx, route.HostRank, TagReducedGather, payload); err != nil {
				return err
			}
			raw, err := o.recvFloats(ctx, route.HostRank, TagReducedScatter, len(rows))
			if err != nil {
				return err
			}
			for i, nd := range rows {
				topo.Nodes[nd].RHS = raw[i]
			}
		}
	}
	return nil
}

// localReducedRows returns the indices of this rank's local nodes tagged
// with sid (at most two: a sid0 and/or a sid1 endpoint), ordered sid0 before
// sid1 so the resulting ReducedTreeMatrix rows are reproducible regardless
// of node-vector layout.
func localReducedRows(nodes []model.Node, sid model.Sid) []int {
	var sid0, sid1 = -1, -1
	for i, nd := range nodes {
		if nd.HasSid && nd.Sid == sid {
			if nd.SidSlot == 0 {
				sid0 = i
			} else {
				sid1 = i
			}
		}
	}
	var rows []int
	if sid0 >= 0 {
		rows = append(rows, sid0)
	}
	if sid1 >= 0 {
		rows = append(rows, sid1)
	}
	return rows
}

// newReducedMatrix builds a fresh per-step ReducedTreeMatrix from the host's
// own local rows, area-scaled, with row 0 as root (IP[0] = -1) and any
// further row chained to it -- correct for the at-most-two-row case C9
// hands it (a lone sid or one backbone's two sids); a cell with more than
// one reduced sid calls this once per sid.
func newReducedMatrix(nodes []model.Node, rows []int) *model.ReducedTreeMatrix {
	n := len(rows)
	m := &model.ReducedTreeMatrix{
		IP:  make([]int, n),
		D:   make([]float64, n),
		A:   make([]float64, n),
		B:   make([]float64, n),
		RHS: make([]float64, n),
	}
	for i, idx := range rows {
		nd := nodes[idx]
		m.D[i] = ScaleOutgoing(nd.D, nd.Area)
		m.A[i] = ScaleOutgoing(nd.A, nd.Area)
		m.B[i] = ScaleOutgoing(nd.B, nd.Area)
		m.RHS[i] = ScaleOutgoing(nd.RHS, nd.Area)
		if i == 0 {
			m.IP[i] = -1
		} else {
			m.IP[i] = 0
		}
	}
	return m
}

// packReducedRow packs a contributing rank's local rows (D, A, B, RHS, each
// area-scaled) into the 4*n float wire payload TagReducedGather carries.
func packReducedRow(nodes []model.Node, rows []int) []float64 {
	buf := make([]float64, 0, 4*len(rows))
	for _, idx := range rows {
		nd := nodes[idx]
		buf = append(buf,
			ScaleOutgoing(nd.D, nd.Area),
			ScaleOutgoing(nd.A, nd.Area),
			ScaleOutgoing(nd.B, nd.Area),
			ScaleOutgoing(nd.RHS, nd.Area),
		)
	}
	return buf
}

// foldReducedRow accumulates a contributing rank's 4*n float payload onto
// the host's matrix, row-aligned: D/A/B/RHS add rather than overwrite, since
// each contributing rank owns a distinct part of the same physical sid's
// equation.
func foldReducedRow(m *model.ReducedTreeMatrix, raw []float64) {
	n := len(raw) / 4
	if n > m.N() {
		n = m.N()
	}
	for i := 0; i < n; i++ {
		m.D[i] += raw[4*i]
		m.A[i] += raw[4*i+1]
		m.B[i] += raw[4*i+2]
		m.RHS[i] += raw[4*i+3]
	}
}

func (o *Orchestrator) sendFloats(ctx context.Context, peer int, tag transport.Tag, values []float64) error {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:8*i+8], math.Float64bits(v))
	}
	if err := o.Transport.Send(ctx, peer, tag, buf); err != nil {
		return apperrors.Wrap(apperrors.CodeTransportFault, "reduced tree send failed", err)
	}
	return nil
}

func (o *Orchestrator) recvFloats(ctx context.Context, peer int, tag transport.Tag, expect int) ([]float64, error) {
	h, err := o.Transport.PostRecv(ctx, peer, tag)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeTransportFault, "reduced tree recv post failed", err)
	}
	raw, err := o.Transport.Wait(ctx, h)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeTransportFault, "reduced tree wait failed", err)
	}
	n := len(raw) / 8
	if expect > 0 && n != expect {
		return nil, apperrors.New(apperrors.CodeInvariantViolation, "reduced tree payload has unexpected length")
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i : 8*i+8]))
	}
	return out, nil
}

// encodeCorrection/decodeCorrection is the wire format for one
// BoundaryCorrection: float64 diag, float64 rhs. NodeIndex is local to each
// side and never travels on the wire.
func encodeCorrection(c solver.BoundaryCorrection) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(c.Diag))
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(c.RHS))
	return buf
}

func decodeCorrection(buf []byte) (solver.BoundaryCorrection, error) {
	if len(buf) != 16 {
		return solver.BoundaryCorrection{}, apperrors.New(apperrors.CodeInvariantViolation, "boundary correction payload has wrong length")
	}
	return solver.BoundaryCorrection{
		Diag: math.Float64frombits(binary.LittleEndian.Uint64(buf[0:8])),
		RHS:  math.Float64frombits(binary.LittleEndian.Uint64(buf[8:16])),
	}, nil
}
