package codec

import (
	"math"

	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/compression"
	"github.com/nrnmpi/multisplit/pkg/model"
)

// GIDWidth is the wire width of a compressed localgid: 1, 2, or 4 bytes,
// chosen globally to accommodate the maximum local output count on any
// rank (§4.2 "Constraints").
type GIDWidth int

const (
	Width1 GIDWidth = 1
	Width2 GIDWidth = 2
	Width4 GIDWidth = 4
)

func (w GIDWidth) recordSize() int { return 1 + int(w) }

// CompressedEncoder builds the per-rank-per-interval compressed packet of
// §4.2/§6.2: a 2-byte record count followed by (dt uint8, localgid) pairs.
// When the packet's record count exceeds SlotRecords, the tail spills into
// a separate overflow buffer meant for the exchanger's variable-size
// allgatherv path; if OverflowCompression is set, that tail is additionally
// zstd/gzip compressed (an enrichment beyond spec.md -- see SPEC_FULL.md
// §2/C2).
type CompressedEncoder struct {
	Width               GIDWidth
	SlotRecords         int
	OverflowCompression compression.Compressor // nil disables overflow compression
}

// Encode marshals spikes relative to intervalStart in units of stepDt. It
// returns the fixed-size inline packet (always SlotRecords-record capacity
// or smaller) and, if spikes overflowed the slot, the overflow tail.
func (e *CompressedEncoder) Encode(spikes []model.Spike, table *LocalGIDTable, intervalStart, stepDt float64) (inline []byte, overflow []byte, err error) {
	n := len(spikes)
	if n > 0xFFFF {
		return nil, nil, apperrors.New(apperrors.CodeCapacityOverflow, "spike count exceeds 16-bit packet header")
	}

	records := make([]byte, 0, n*e.Width.recordSize())
	for _, s := range spikes {
		dt := stepsSince(intervalStart, stepDt, s.Spiketime)
		if dt < 0 || dt > 255 {
			return nil, nil, apperrors.New(apperrors.CodeCapacityOverflow, "spike delta-time exceeds one compressed byte")
		}
		local, ok := table.LocalOf(s.Gid)
		if !ok {
			return nil, nil, apperrors.New(apperrors.CodeInvariantViolation, "gid missing from local side table")
		}
		records = append(records, byte(dt))
		records = appendLocalGid(records, local, e.Width)
	}

	header := []byte{byte(n >> 8), byte(n)}
	inlineCount := n
	if inlineCount > e.SlotRecords {
		inlineCount = e.SlotRecords
	}
	inlineBody := records[:inlineCount*e.Width.recordSize()]
	tailBody := records[inlineCount*e.Width.recordSize():]

	inline = append(header, inlineBody...)
	if len(tailBody) == 0 {
		return inline, nil, nil
	}

	overflow = tailBody
	if e.OverflowCompression != nil {
		overflow, err = e.OverflowCompression.Compress(tailBody)
		if err != nil {
			return nil, nil, apperrors.Wrap(apperrors.CodeTransportFault, "overflow compression failed", err)
		}
	}
	return inline, overflow, nil
}

func stepsSince(intervalStart, stepDt, t float64) int {
	if stepDt == 0 {
		return 0
	}
	return int(math.Round((t - intervalStart) / stepDt))
}

func appendLocalGid(buf []byte, local uint32, width GIDWidth) []byte {
	switch width {
	case Width1:
		return append(buf, byte(local))
	case Width2:
		return append(buf, byte(local), byte(local>>8))
	default:
		return append(buf, byte(local), byte(local>>8), byte(local>>16), byte(local>>24))
	}
}

func readLocalGid(buf []byte, width GIDWidth) uint32 {
	switch width {
	case Width1:
		return uint32(buf[0])
	case Width2:
		return uint32(buf[0]) | uint32(buf[1])<<8
	default:
		return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	}
}

// CompressedDecoder reverses CompressedEncoder.
type CompressedDecoder struct {
	Width               GIDWidth
	OverflowCompression compression.Compressor // must match the encoder's setting
}

// Decode reconstructs the full (gid, spiketime) record set for one sender's
// packet. overflow may be nil when the sender's packet fit entirely inline.
func (d *CompressedDecoder) Decode(inline, overflow []byte, table *LocalGIDTable, intervalStart, stepDt float64) ([]model.Spike, error) {
	if len(inline) < 2 {
		return nil, apperrors.New(apperrors.CodeInvariantViolation, "compressed packet missing count header")
	}
	n := int(inline[0])<<8 | int(inline[1])
	body := inline[2:]

	if len(overflow) > 0 && d.OverflowCompression != nil {
		var err error
		overflow, err = d.OverflowCompression.Decompress(overflow)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeTransportFault, "overflow decompression failed", err)
		}
	}

	recSize := d.Width.recordSize()
	full := append(append([]byte(nil), body...), overflow...)
	if len(full) != n*recSize {
		return nil, apperrors.New(apperrors.CodeInvariantViolation, "compressed spike count does not match decoded record bytes")
	}

	out := make([]model.Spike, n)
	for i := 0; i < n; i++ {
		off := i * recSize
		dt := int(full[off])
		local := readLocalGid(full[off+1:], d.Width)
		gid, err := table.GidOf(local)
		if err != nil {
			return nil, err
		}
		out[i] = model.Spike{Gid: gid, Spiketime: intervalStart + float64(dt)*stepDt}
	}
	return out, nil
}
