// Package testutil provides test doubles and fixture builders shared across
// the solver, exchange, and transport packages: toy multisplit cells, an
// in-process rank cluster helper, and a scripted transport double for
// exercising the fault path without a real cluster.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/env"
	"github.com/nrnmpi/multisplit/pkg/model"
	"github.com/nrnmpi/multisplit/pkg/solver"
	"github.com/nrnmpi/multisplit/pkg/topology"
	"github.com/nrnmpi/multisplit/pkg/transport"
)

// TempDir creates a temporary directory for testing and returns its path.
// The directory is automatically cleaned up when the test completes.
func TempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "multisplit-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return dir
}

// WriteFile writes content to a file in the given directory, creating it.
func WriteFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path
}

// TwoRankBackboneCells builds a minimal two-cell, two-rank long backbone: a
// sid0 root node on rank 0 with one interior child, and a sid1 leaf on
// rank 1. The returned peer maps key the sid1/sid0 node index to the rank
// owning the other half of the boundary, matching what internal/scenario
// derives from a job description.
func TwoRankBackboneCells(sid model.Sid) (rank0 solver.Cell, rank1 solver.Cell, peers0, peers1 map[int]int) {
	rank0 = solver.Cell{
		Assembler: &env.InMemoryAssembler{Nodes: []model.Node{
			{Parent: -1, D: 2, RHS: 5, Area: 1, HasSid: true, Sid: sid, SidSlot: 0},
			{Parent: 0, D: 4, A: 1, B: 1, RHS: 9, Area: 1},
		}},
		Directives: []topology.Directive{{NodeIndex: 0, Sid: sid, Style: topology.StyleLong, Slot: 0}},
	}
	rank1 = solver.Cell{
		Assembler: &env.InMemoryAssembler{Nodes: []model.Node{
			{Parent: -1, D: 1, RHS: 1, Area: 1, HasSid: true, Sid: sid, SidSlot: 1},
		}},
		Directives: []topology.Directive{{NodeIndex: 0, Sid: sid, Style: topology.StyleLong, Slot: 1}},
	}
	peers0 = map[int]int{0: 1}
	peers1 = map[int]int{0: 0}
	return
}

// RankCluster builds an in-process transport cluster of the given size.
// Nothing is closed or registered for cleanup -- InProcessTransport has
// nothing to close today, but callers that later add teardown only need to
// change this helper.
func RankCluster(t *testing.T, size int) []*transport.InProcessTransport {
	t.Helper()
	return transport.NewInProcessCluster(size)
}

// scriptedCall is one canned response for DeterministicTransport: at most
// one of result/err is meaningful, selected by the method that consumes it.
type scriptedCall struct {
	ints  []int
	dbls  []float64
	bytes []byte
	err   error
}

// DeterministicTransport is a transport.Transport double that returns a
// fixed, scripted sequence of responses instead of talking to peers. It
// drives the TransportFault error path and idempotence/replay tests where a
// real multi-goroutine cluster would be nondeterministic to script against.
type DeterministicTransport struct {
	rank, size int
	wtime      float64

	allgathervInt []scriptedCall
	alltoallvInt  []scriptedCall
	sendErr       error
}

// NewDeterministicTransport returns a double seated at rank r of size.
func NewDeterministicTransport(rank, size int) *DeterministicTransport {
	return &DeterministicTransport{rank: rank, size: size}
}

// ScriptAllgathervInt queues a canned AllgathervInt response, consumed FIFO.
func (d *DeterministicTransport) ScriptAllgathervInt(recvbuf, counts []int, err error) {
	d.allgathervInt = append(d.allgathervInt, scriptedCall{ints: recvbuf, dbls: floatCounts(counts), err: err})
}

// ScriptAlltoallvInt queues a canned AlltoallvInt response, consumed FIFO.
func (d *DeterministicTransport) ScriptAlltoallvInt(recvbuf, counts []int, err error) {
	d.alltoallvInt = append(d.alltoallvInt, scriptedCall{ints: recvbuf, dbls: floatCounts(counts), err: err})
}

// FailSend makes every subsequent Send call return err.
func (d *DeterministicTransport) FailSend(err error) { d.sendErr = err }

func floatCounts(counts []int) []float64 {
	out := make([]float64, len(counts))
	for i, c := range counts {
		out[i] = float64(c)
	}
	return out
}

func (d *DeterministicTransport) Rank() int { return d.rank }
func (d *DeterministicTransport) Size() int { return d.size }

func (d *DeterministicTransport) Barrier(ctx context.Context) error { return nil }

func (d *DeterministicTransport) AllreduceDbl(ctx context.Context, local float64, op transport.ReduceOp) (float64, error) {
	return local, nil
}

func (d *DeterministicTransport) AllgatherInt(ctx context.Context, local int) ([]int, error) {
	return []int{local}, nil
}

func (d *DeterministicTransport) AllgathervInt(ctx context.Context, local []int) ([]int, []int, error) {
	if len(d.allgathervInt) == 0 {
		return nil, nil, apperrors.New(apperrors.CodeTransportFault, "deterministicTransport: no scripted AllgathervInt response")
	}
	call := d.allgathervInt[0]
	d.allgathervInt = d.allgathervInt[1:]
	if call.err != nil {
		return nil, nil, call.err
	}
	counts := make([]int, len(call.dbls))
	for i, v := range call.dbls {
		counts[i] = int(v)
	}
	return call.ints, counts, nil
}

func (d *DeterministicTransport) AllgathervDbl(ctx context.Context, local []float64) ([]float64, []int, error) {
	return local, []int{len(local)}, nil
}

func (d *DeterministicTransport) AlltoallvInt(ctx context.Context, sendbuf []int, sendcounts []int) ([]int, []int, error) {
	if len(d.alltoallvInt) == 0 {
		return nil, nil, apperrors.New(apperrors.CodeTransportFault, "deterministicTransport: no scripted AlltoallvInt response")
	}
	call := d.alltoallvInt[0]
	d.alltoallvInt = d.alltoallvInt[1:]
	if call.err != nil {
		return nil, nil, call.err
	}
	counts := make([]int, len(call.dbls))
	for i, v := range call.dbls {
		counts[i] = int(v)
	}
	return call.ints, counts, nil
}

func (d *DeterministicTransport) AlltoallvDbl(ctx context.Context, sendbuf []float64, sendcounts []int) ([]float64, []int, error) {
	return sendbuf, sendcounts, nil
}

func (d *DeterministicTransport) BroadcastInt(ctx context.Context, buf []int, root int) ([]int, error) {
	return buf, nil
}

func (d *DeterministicTransport) BroadcastDbl(ctx context.Context, buf []float64, root int) ([]float64, error) {
	return buf, nil
}

func (d *DeterministicTransport) BroadcastBytes(ctx context.Context, buf []byte, root int) ([]byte, error) {
	return buf, nil
}

func (d *DeterministicTransport) PostRecv(ctx context.Context, peer int, tag transport.Tag) (*transport.RecvHandle, error) {
	return nil, apperrors.New(apperrors.CodeTransportFault, "deterministicTransport: PostRecv not scripted")
}

func (d *DeterministicTransport) Send(ctx context.Context, peer int, tag transport.Tag, payload []byte) error {
	return d.sendErr
}

func (d *DeterministicTransport) Wait(ctx context.Context, h *transport.RecvHandle) ([]byte, error) {
	return nil, apperrors.New(apperrors.CodeTransportFault, "deterministicTransport: Wait not scripted")
}

func (d *DeterministicTransport) Wtime() float64 { return d.wtime }
