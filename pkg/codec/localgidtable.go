package codec

import (
	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/model"
)

// LocalGIDTable is the per-source-rank side table the compressed codec uses
// to shrink a gid down to 1, 2, or 4 bytes on the wire and expand it back on
// receive (§4.2 "resolving localgid → gid"). It is built once per source
// rank from the connectivity planner's output and reused for every interval
// until the next topology rebuild.
type LocalGIDTable struct {
	toGid   []model.Gid
	toLocal map[model.Gid]uint32
}

// NewLocalGIDTable assigns local ids 0..len(gids)-1 in the given order. The
// caller (the connectivity planner) owns ordering stability across ranks.
func NewLocalGIDTable(gids []model.Gid) *LocalGIDTable {
	t := &LocalGIDTable{
		toGid:   append([]model.Gid(nil), gids...),
		toLocal: make(map[model.Gid]uint32, len(gids)),
	}
	for i, g := range gids {
		t.toLocal[g] = uint32(i)
	}
	return t
}

// LocalOf returns the local id assigned to gid.
func (t *LocalGIDTable) LocalOf(gid model.Gid) (uint32, bool) {
	local, ok := t.toLocal[gid]
	return local, ok
}

// GidOf reverses LocalOf.
func (t *LocalGIDTable) GidOf(local uint32) (model.Gid, error) {
	if int(local) >= len(t.toGid) {
		return 0, apperrors.New(apperrors.CodeInvariantViolation, "local gid out of range for side table")
	}
	return t.toGid[local], nil
}

// Len reports how many gids the table covers; the connectivity planner uses
// it to pick the narrowest localgid width that still fits every rank's
// output count (§4.2 "Constraints").
func (t *LocalGIDTable) Len() int { return len(t.toGid) }
