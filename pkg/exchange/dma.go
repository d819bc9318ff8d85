package exchange

import (
	"context"
	"encoding/binary"
	"math"

	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/model"
	"github.com/nrnmpi/multisplit/pkg/transport"
)

// DMAExchanger implements the §4.4 point-to-point spike path: every spike
// is sent as soon as it fires, addressed at one of two subintervals via the
// gid sign bit, and received into the matching one of two receive buffers
// (current/next). Conserve reports whether every rank agrees that nothing
// sent for a subinterval is still in flight, and Reset clears both buffers;
// the exchanger does not drain or swap the buffers itself.
type DMAExchanger struct {
	tr              transport.Transport
	buffers         [2]*model.ReceiveBuffer
	extraIterations int
}

// NewDMAExchanger builds an exchanger with both subinterval buffers sized
// to capacity.
func NewDMAExchanger(tr transport.Transport, capacity int) *DMAExchanger {
	return &DMAExchanger{
		tr: tr,
		buffers: [2]*model.ReceiveBuffer{
			model.NewReceiveBuffer(capacity),
			model.NewReceiveBuffer(capacity),
		},
	}
}

// Buffer returns the receive buffer for subinterval 0 or 1.
func (e *DMAExchanger) Buffer(subinterval int) *model.ReceiveBuffer {
	return e.buffers[subinterval&1]
}

// Send addresses spike at the given subinterval and posts it to peer,
// bumping that subinterval's conservation send counter.
func (e *DMAExchanger) Send(ctx context.Context, peer int, tag transport.Tag, spike model.Spike, subinterval int) error {
	wire := spike.TargetSubinterval(subinterval)
	if err := e.tr.Send(ctx, peer, tag, encodeSpike(wire)); err != nil {
		return apperrors.Wrap(apperrors.CodeTransportFault, "dma spike send failed", err)
	}
	e.buffers[subinterval&1].AddSent(1)
	return nil
}

// Recv posts and waits for one message from peer, decodes it, restores the
// addressed subinterval from the gid sign bit, and appends it to the
// matching buffer.
func (e *DMAExchanger) Recv(ctx context.Context, peer int, tag transport.Tag) error {
	h, err := e.tr.PostRecv(ctx, peer, tag)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransportFault, "dma recv post failed", err)
	}
	payload, err := e.tr.Wait(ctx, h)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransportFault, "dma recv wait failed", err)
	}
	wire, err := decodeSpike(payload)
	if err != nil {
		return err
	}
	plain, sub := wire.SubintervalOf()
	buf := e.buffers[sub]
	buf.BeginWrite()
	buf.Append(plain)
	buf.EndWrite()
	return nil
}

// Conserve all-reduces this subinterval's sent-received imbalance across
// every rank. Only once every rank observes zero has the subinterval fully
// drained (§4.4); each unbalanced call counts toward ExtraIterations.
func (e *DMAExchanger) Conserve(ctx context.Context, subinterval int) (bool, error) {
	imbalance, err := e.tr.AllreduceDbl(ctx, float64(e.buffers[subinterval&1].Imbalance()), transport.ReduceSum)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeTransportFault, "conservation allreduce failed", err)
	}
	balanced := imbalance == 0
	if !balanced {
		e.extraIterations++
	}
	return balanced, nil
}

// ExtraIterations reports how many Conserve calls, across every
// subinterval, found a nonzero imbalance -- the raw material for the §9
// extra-iteration histogram.
func (e *DMAExchanger) ExtraIterations() int { return e.extraIterations }

// Reset clears both buffers' contents, ready for the next interval's reuse.
func (e *DMAExchanger) Reset() {
	e.buffers[0].Reset()
	e.buffers[1].Reset()
}

// encodeSpike/decodeSpike are a minimal fixed-width wire format for a
// single point-to-point spike message: int32 gid, float64 spiketime.
// CompressedEncoder's batched, delta-time format (pkg/codec) is for the
// collective path's bulk traffic; a DMA message always carries exactly one
// event, so the batching it buys isn't worth the extra framing.
func encodeSpike(s model.Spike) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(s.Gid))
	binary.LittleEndian.PutUint64(buf[4:12], math.Float64bits(s.Spiketime))
	return buf
}

func decodeSpike(buf []byte) (model.Spike, error) {
	if len(buf) != 12 {
		return model.Spike{}, apperrors.New(apperrors.CodeInvariantViolation, "dma spike payload has wrong length")
	}
	gid := int32(binary.LittleEndian.Uint32(buf[0:4]))
	bits := binary.LittleEndian.Uint64(buf[4:12])
	return model.Spike{Gid: model.Gid(gid), Spiketime: math.Float64frombits(bits)}, nil
}
