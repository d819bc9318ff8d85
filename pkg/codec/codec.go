// Package codec marshals and demarshals the (gid, spiketime) wire records
// the spike exchangers pass between ranks (§4.2, C2).
package codec

import (
	"encoding/binary"
	"math"

	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/model"
)

// UncompressedRecordSize is the wire size of one uncompressed record: a
// 4-byte gid followed by an 8-byte IEEE-754 spiketime (§6.2). Intended for
// homogeneous clusters only -- no attempt is made to canonicalise byte
// order across heterogeneous hardware beyond fixing it to little-endian on
// the wire.
const UncompressedRecordSize = 4 + 8

// EncodeUncompressed marshals spikes into fixed 12-byte records.
func EncodeUncompressed(spikes []model.Spike) []byte {
	out := make([]byte, len(spikes)*UncompressedRecordSize)
	for i, s := range spikes {
		off := i * UncompressedRecordSize
		binary.LittleEndian.PutUint32(out[off:], uint32(s.Gid))
		binary.LittleEndian.PutUint64(out[off+4:], math.Float64bits(s.Spiketime))
	}
	return out
}

// DecodeUncompressed reverses EncodeUncompressed.
func DecodeUncompressed(buf []byte) ([]model.Spike, error) {
	if len(buf)%UncompressedRecordSize != 0 {
		return nil, apperrors.New(apperrors.CodeInvariantViolation, "uncompressed spike buffer is not a whole number of records")
	}
	n := len(buf) / UncompressedRecordSize
	out := make([]model.Spike, n)
	for i := range out {
		off := i * UncompressedRecordSize
		gid := model.Gid(int32(binary.LittleEndian.Uint32(buf[off:])))
		t := math.Float64frombits(binary.LittleEndian.Uint64(buf[off+4:]))
		out[i] = model.Spike{Gid: gid, Spiketime: t}
	}
	return out, nil
}
