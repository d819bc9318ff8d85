package exchange

import (
	"context"

	"github.com/nrnmpi/multisplit/pkg/model"
	"github.com/nrnmpi/multisplit/pkg/telemetry"
	"github.com/nrnmpi/multisplit/pkg/transport"
)

// CollectiveExchanger implements the §4.3 small-buffer-optimised collective
// spike exchange: every rank's first K outgoing spikes travel inline in a
// fixed-size all-gather sized 2*K floats per rank; anything past K spills
// into a second, variable-size all-gatherv. Both passes run every call, so
// a quiet rank pays only the fixed inline cost.
type CollectiveExchanger struct {
	Transport transport.Transport
	K         int
}

// NewCollectiveExchanger constructs an exchanger with inline capacity k.
func NewCollectiveExchanger(tr transport.Transport, k int) *CollectiveExchanger {
	return &CollectiveExchanger{Transport: tr, K: k}
}

// Exchange gathers every rank's outgoing spikes and returns, indexed by
// rank, the full spike list that rank contributed (including this rank's
// own). Ordering within a rank's slice is inline-records-first, then
// overflow-records, both in the caller's original order.
func (e *CollectiveExchanger) Exchange(ctx context.Context, outgoing []model.Spike) ([][]model.Spike, error) {
	ctx, span := tracer.Start(ctx, telemetry.SpanSpikeExchange)
	defer span.End()

	k := e.K
	n := len(outgoing)
	inlineCount := n
	if inlineCount > k {
		inlineCount = k
	}

	inlineSend := make([]float64, 2*k)
	for i := 0; i < inlineCount; i++ {
		inlineSend[2*i] = float64(outgoing[i].Gid)
		inlineSend[2*i+1] = outgoing[i].Spiketime
	}

	counts, err := e.Transport.AllgatherInt(ctx, n)
	if err != nil {
		return nil, err
	}

	inlineRecv, _, err := e.Transport.AllgathervDbl(ctx, inlineSend)
	if err != nil {
		return nil, err
	}

	overflow := outgoing[inlineCount:]
	overflowSend := make([]float64, 2*len(overflow))
	for i, s := range overflow {
		overflowSend[2*i] = float64(s.Gid)
		overflowSend[2*i+1] = s.Spiketime
	}

	overflowRecv, overflowCounts, err := e.Transport.AllgathervDbl(ctx, overflowSend)
	if err != nil {
		return nil, err
	}
	overflowOff, _ := offsets(overflowCounts)

	size := e.Transport.Size()
	out := make([][]model.Spike, size)
	for r := 0; r < size; r++ {
		total := counts[r]
		rankInline := total
		if rankInline > k {
			rankInline = k
		}
		spikes := make([]model.Spike, 0, total)
		for i := 0; i < rankInline; i++ {
			base := r*2*k + 2*i
			spikes = append(spikes, model.Spike{
				Gid:       model.Gid(inlineRecv[base]),
				Spiketime: inlineRecv[base+1],
			})
		}
		rankOverflow := overflowCounts[r] / 2
		for i := 0; i < rankOverflow; i++ {
			base := overflowOff[r] + 2*i
			spikes = append(spikes, model.Spike{
				Gid:       model.Gid(overflowRecv[base]),
				Spiketime: overflowRecv[base+1],
			})
		}
		out[r] = spikes
	}
	return out, nil
}

// Pack builds the Spikebuf small-buffer-optimisation record for a rank's
// outgoing spikes, for callers that want the record shape directly (e.g.
// to log or checkpoint it) rather than going through Exchange.
func (e *CollectiveExchanger) Pack(outgoing []model.Spike) model.Spikebuf {
	n := len(outgoing)
	inlineCount := n
	if inlineCount > e.K {
		inlineCount = e.K
	}
	recs := make([]model.Spike, e.K)
	copy(recs, outgoing[:inlineCount])
	return model.Spikebuf{NSpike: n, Recs: recs}
}
