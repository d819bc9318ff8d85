package transport

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/utils"
)

// hub is the shared rendezvous point every InProcessTransport in a cluster
// holds a pointer to. Collectives synchronise through rounds keyed by an
// epoch number that advances in lockstep on every rank, because a correct
// SPMD program issues the same sequence of collective calls on every rank
// (§6.1); point-to-point messages synchronise through per (from,to,tag)
// mailboxes instead.
type hub struct {
	size int

	mu     sync.Mutex
	rounds map[int64]*round

	mailboxMu sync.Mutex
	mailboxes map[mailboxKey]chan recvResult

	start time.Time
}

type mailboxKey struct {
	from, to int
	tag      Tag
}

type round struct {
	mu      sync.Mutex
	cond    *sync.Cond
	values  []any
	arrived int
	left    int
	done    bool
}

func newHub(size int) *hub {
	return &hub{
		size:      size,
		rounds:    make(map[int64]*round),
		mailboxes: make(map[mailboxKey]chan recvResult),
		start:     time.Now(),
	}
}

func (h *hub) getRound(epoch int64) *round {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rounds[epoch]
	if !ok {
		r = &round{values: make([]any, h.size)}
		r.cond = sync.NewCond(&r.mu)
		h.rounds[epoch] = r
	}
	return r
}

// collective contributes value at rank for the given epoch and returns the
// values contributed by every rank, in rank order, once all have arrived.
func (h *hub) collective(epoch int64, rank int, value any) []any {
	r := h.getRound(epoch)

	r.mu.Lock()
	r.values[rank] = value
	r.arrived++
	if r.arrived == h.size {
		r.done = true
		r.cond.Broadcast()
	} else {
		for !r.done {
			r.cond.Wait()
		}
	}
	out := make([]any, len(r.values))
	copy(out, r.values)
	r.left++
	last := r.left == h.size
	r.mu.Unlock()

	if last {
		h.mu.Lock()
		delete(h.rounds, epoch)
		h.mu.Unlock()
	}
	return out
}

func (h *hub) mailbox(key mailboxKey) chan recvResult {
	h.mailboxMu.Lock()
	defer h.mailboxMu.Unlock()
	ch, ok := h.mailboxes[key]
	if !ok {
		// Buffered generously: this is an in-process simulation of a
		// reliable, ordered transport (§1), not a backpressured network.
		ch = make(chan recvResult, 4096)
		h.mailboxes[key] = ch
	}
	return ch
}

// InProcessTransport simulates one rank of a cluster sharing a hub; pair it
// with NewInProcessCluster to get a fully connected set.
type InProcessTransport struct {
	hub   *hub
	rank  int
	epoch int64 // owned by this rank only: no synchronisation needed
}

// NewInProcessCluster returns size Transports, one per rank, all wired to
// the same in-process hub.
func NewInProcessCluster(size int) []*InProcessTransport {
	h := newHub(size)
	out := make([]*InProcessTransport, size)
	for r := 0; r < size; r++ {
		out[r] = &InProcessTransport{hub: h, rank: r}
	}
	utils.GetGlobalLogger().Debug("in-process transport cluster ready: %d ranks", size)
	return out
}

func (t *InProcessTransport) Rank() int { return t.rank }
func (t *InProcessTransport) Size() int { return t.hub.size }

func (t *InProcessTransport) nextEpoch() int64 {
	e := t.epoch
	t.epoch++
	return e
}

func (t *InProcessTransport) Barrier(ctx context.Context) error {
	if t.hub.size == 1 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return wrapCtx(err)
	}
	t.hub.collective(t.nextEpoch(), t.rank, struct{}{})
	return nil
}

func (t *InProcessTransport) AllreduceDbl(ctx context.Context, local float64, op ReduceOp) (float64, error) {
	if t.hub.size == 1 {
		return local, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, wrapCtx(err)
	}
	values := t.hub.collective(t.nextEpoch(), t.rank, local)
	acc := values[0].(float64)
	for _, v := range values[1:] {
		acc = reduce(op, acc, v.(float64))
	}
	return acc, nil
}

func reduce(op ReduceOp, a, b float64) float64 {
	switch op {
	case ReduceMin:
		if b < a {
			return b
		}
		return a
	case ReduceMax:
		if b > a {
			return b
		}
		return a
	default:
		return a + b
	}
}

func (t *InProcessTransport) AllgatherInt(ctx context.Context, local int) ([]int, error) {
	if t.hub.size == 1 {
		return []int{local}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, wrapCtx(err)
	}
	values := t.hub.collective(t.nextEpoch(), t.rank, local)
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = v.(int)
	}
	return out, nil
}

func (t *InProcessTransport) AllgathervInt(ctx context.Context, local []int) ([]int, []int, error) {
	if t.hub.size == 1 {
		counts := []int{len(local)}
		out := make([]int, len(local))
		copy(out, local)
		return out, counts, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, wrapCtx(err)
	}
	values := t.hub.collective(t.nextEpoch(), t.rank, append([]int(nil), local...))
	counts := make([]int, len(values))
	recvbuf := make([]int, 0)
	for i, v := range values {
		s := v.([]int)
		counts[i] = len(s)
		recvbuf = append(recvbuf, s...)
	}
	return recvbuf, counts, nil
}

func (t *InProcessTransport) AllgathervDbl(ctx context.Context, local []float64) ([]float64, []int, error) {
	if t.hub.size == 1 {
		counts := []int{len(local)}
		out := make([]float64, len(local))
		copy(out, local)
		return out, counts, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, wrapCtx(err)
	}
	values := t.hub.collective(t.nextEpoch(), t.rank, append([]float64(nil), local...))
	counts := make([]int, len(values))
	recvbuf := make([]float64, 0)
	for i, v := range values {
		s := v.([]float64)
		counts[i] = len(s)
		recvbuf = append(recvbuf, s...)
	}
	return recvbuf, counts, nil
}

type alltoallIntItem struct {
	send   []int
	counts []int
}

type alltoallDblItem struct {
	send   []float64
	counts []int
}

func (t *InProcessTransport) AlltoallvInt(ctx context.Context, sendbuf []int, sendcounts []int) ([]int, []int, error) {
	if t.hub.size == 1 {
		out := make([]int, len(sendbuf))
		copy(out, sendbuf)
		return out, append([]int(nil), sendcounts...), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, wrapCtx(err)
	}
	item := alltoallIntItem{send: append([]int(nil), sendbuf...), counts: append([]int(nil), sendcounts...)}
	values := t.hub.collective(t.nextEpoch(), t.rank, item)

	recvcounts := make([]int, t.hub.size)
	var recvbuf []int
	for s, v := range values {
		it := v.(alltoallIntItem)
		off, _ := offsets(it.counts)
		c := it.counts[t.rank]
		recvcounts[s] = c
		recvbuf = append(recvbuf, it.send[off[t.rank]:off[t.rank]+c]...)
	}
	return recvbuf, recvcounts, nil
}

func (t *InProcessTransport) AlltoallvDbl(ctx context.Context, sendbuf []float64, sendcounts []int) ([]float64, []int, error) {
	if t.hub.size == 1 {
		out := make([]float64, len(sendbuf))
		copy(out, sendbuf)
		return out, append([]int(nil), sendcounts...), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, wrapCtx(err)
	}
	item := alltoallDblItem{send: append([]float64(nil), sendbuf...), counts: append([]int(nil), sendcounts...)}
	values := t.hub.collective(t.nextEpoch(), t.rank, item)

	recvcounts := make([]int, t.hub.size)
	var recvbuf []float64
	for s, v := range values {
		it := v.(alltoallDblItem)
		off, _ := offsets(it.counts)
		c := it.counts[t.rank]
		recvcounts[s] = c
		recvbuf = append(recvbuf, it.send[off[t.rank]:off[t.rank]+c]...)
	}
	return recvbuf, recvcounts, nil
}

func (t *InProcessTransport) BroadcastInt(ctx context.Context, buf []int, root int) ([]int, error) {
	if t.hub.size == 1 {
		return buf, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, wrapCtx(err)
	}
	var contribution []int
	if t.rank == root {
		contribution = append([]int(nil), buf...)
	}
	values := t.hub.collective(t.nextEpoch(), t.rank, contribution)
	return values[root].([]int), nil
}

func (t *InProcessTransport) BroadcastDbl(ctx context.Context, buf []float64, root int) ([]float64, error) {
	if t.hub.size == 1 {
		return buf, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, wrapCtx(err)
	}
	var contribution []float64
	if t.rank == root {
		contribution = append([]float64(nil), buf...)
	}
	values := t.hub.collective(t.nextEpoch(), t.rank, contribution)
	return values[root].([]float64), nil
}

func (t *InProcessTransport) BroadcastBytes(ctx context.Context, buf []byte, root int) ([]byte, error) {
	if t.hub.size == 1 {
		return buf, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, wrapCtx(err)
	}
	var contribution []byte
	if t.rank == root {
		contribution = append([]byte(nil), buf...)
	}
	values := t.hub.collective(t.nextEpoch(), t.rank, contribution)
	return values[root].([]byte), nil
}

func (t *InProcessTransport) PostRecv(ctx context.Context, peer int, tag Tag) (*RecvHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapCtx(err)
	}
	ch := t.hub.mailbox(mailboxKey{from: peer, to: t.rank, tag: tag})
	return &RecvHandle{peer: peer, tag: tag, ch: ch}, nil
}

func (t *InProcessTransport) Send(ctx context.Context, peer int, tag Tag, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return wrapCtx(err)
	}
	ch := t.hub.mailbox(mailboxKey{from: t.rank, to: peer, tag: tag})
	cp := append([]byte(nil), payload...)
	select {
	case ch <- recvResult{payload: cp}:
		return nil
	case <-ctx.Done():
		return wrapCtx(ctx.Err())
	}
}

func (t *InProcessTransport) Wait(ctx context.Context, h *RecvHandle) ([]byte, error) {
	select {
	case r := <-h.ch:
		return r.payload, r.err
	case <-ctx.Done():
		return nil, wrapCtx(ctx.Err())
	}
}

func (t *InProcessTransport) Wtime() float64 {
	return time.Since(t.hub.start).Seconds()
}

func wrapCtx(err error) error {
	utils.GetGlobalLogger().Warn("transport operation aborted: %v", err)
	return apperrors.Wrap(apperrors.CodeTransportFault, "transport operation aborted", err)
}

var _ Transport = (*InProcessTransport)(nil)

// pendingMailboxCount is a test/diagnostic helper reporting the number of
// distinct (from,to,tag) mailboxes a hub has allocated.
func (h *hub) pendingMailboxCount() int {
	h.mailboxMu.Lock()
	defer h.mailboxMu.Unlock()
	return len(h.mailboxes)
}
