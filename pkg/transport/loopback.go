package transport

import (
	"context"
	"time"

	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
)

// Loopback is a deterministic, single-rank Transport test double: every
// collective short-circuits to a local copy per §6.1, and point-to-point
// Send/Wait loop a message directly back to its own rank without a hub.
// Useful for unit-testing codec/solver/exchange logic without standing up
// an InProcessCluster.
type Loopback struct {
	start   time.Time
	mailbox map[Tag]chan recvResult
}

// NewLoopback returns a ready-to-use single-rank transport.
func NewLoopback() *Loopback {
	return &Loopback{start: time.Now(), mailbox: make(map[Tag]chan recvResult)}
}

func (l *Loopback) Rank() int { return 0 }
func (l *Loopback) Size() int { return 1 }

func (l *Loopback) Barrier(ctx context.Context) error { return ctxErr(ctx) }

func (l *Loopback) AllreduceDbl(ctx context.Context, local float64, op ReduceOp) (float64, error) {
	return local, ctxErr(ctx)
}

func (l *Loopback) AllgatherInt(ctx context.Context, local int) ([]int, error) {
	return []int{local}, ctxErr(ctx)
}

func (l *Loopback) AllgathervInt(ctx context.Context, local []int) ([]int, []int, error) {
	out := append([]int(nil), local...)
	return out, []int{len(local)}, ctxErr(ctx)
}

func (l *Loopback) AllgathervDbl(ctx context.Context, local []float64) ([]float64, []int, error) {
	out := append([]float64(nil), local...)
	return out, []int{len(local)}, ctxErr(ctx)
}

func (l *Loopback) AlltoallvInt(ctx context.Context, sendbuf []int, sendcounts []int) ([]int, []int, error) {
	return append([]int(nil), sendbuf...), append([]int(nil), sendcounts...), ctxErr(ctx)
}

func (l *Loopback) AlltoallvDbl(ctx context.Context, sendbuf []float64, sendcounts []int) ([]float64, []int, error) {
	return append([]float64(nil), sendbuf...), append([]int(nil), sendcounts...), ctxErr(ctx)
}

func (l *Loopback) BroadcastInt(ctx context.Context, buf []int, root int) ([]int, error) {
	return buf, ctxErr(ctx)
}

func (l *Loopback) BroadcastDbl(ctx context.Context, buf []float64, root int) ([]float64, error) {
	return buf, ctxErr(ctx)
}

func (l *Loopback) BroadcastBytes(ctx context.Context, buf []byte, root int) ([]byte, error) {
	return buf, ctxErr(ctx)
}

func (l *Loopback) PostRecv(ctx context.Context, peer int, tag Tag) (*RecvHandle, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	ch, ok := l.mailbox[tag]
	if !ok {
		ch = make(chan recvResult, 64)
		l.mailbox[tag] = ch
	}
	return &RecvHandle{peer: peer, tag: tag, ch: ch}, nil
}

func (l *Loopback) Send(ctx context.Context, peer int, tag Tag, payload []byte) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	ch, ok := l.mailbox[tag]
	if !ok {
		ch = make(chan recvResult, 64)
		l.mailbox[tag] = ch
	}
	ch <- recvResult{payload: append([]byte(nil), payload...)}
	return nil
}

func (l *Loopback) Wait(ctx context.Context, h *RecvHandle) ([]byte, error) {
	select {
	case r := <-h.ch:
		return r.payload, r.err
	case <-ctx.Done():
		return nil, wrapCtx(ctx.Err())
	}
}

func (l *Loopback) Wtime() float64 { return time.Since(l.start).Seconds() }

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeTransportFault, "transport operation aborted", err)
	}
	return nil
}

var _ Transport = (*Loopback)(nil)
