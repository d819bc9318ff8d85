package gidtable

import (
	"sort"

	"github.com/nrnmpi/multisplit/pkg/model"
)

// RankTable is a flat sorted-slice gid→rank lookup, the same idiom as
// gaissmai/bart's sorted-prefix tables adapted from IP prefixes to plain
// integer keys: building once and binary-searching beats a map for a table
// that is populated once per topology build and then read millions of
// times per run.
type RankTable struct {
	gids  []model.Gid
	ranks []int
}

// NewRankTable builds a RankTable from a gid→rank map, sorting by gid.
func NewRankTable(m map[model.Gid]int) *RankTable {
	t := &RankTable{gids: make([]model.Gid, 0, len(m)), ranks: make([]int, 0, len(m))}
	for g := range m {
		t.gids = append(t.gids, g)
	}
	sort.Slice(t.gids, func(i, j int) bool { return t.gids[i] < t.gids[j] })
	t.ranks = make([]int, len(t.gids))
	for i, g := range t.gids {
		t.ranks[i] = m[g]
	}
	return t
}

// Lookup returns the rank owning gid, if any.
func (t *RankTable) Lookup(gid model.Gid) (int, bool) {
	i := sort.Search(len(t.gids), func(i int) bool { return t.gids[i] >= gid })
	if i < len(t.gids) && t.gids[i] == gid {
		return t.ranks[i], true
	}
	return 0, false
}

// Len reports the number of entries.
func (t *RankTable) Len() int { return len(t.gids) }

// PreSynTable is the same sorted-slice idiom keyed by gid, mapping to the
// owning *model.PreSyn rather than a rank -- used on the sending side to
// resolve a local output gid to its PreSyn record without a map lookup on
// the hot path.
type PreSynTable struct {
	gids    []model.Gid
	presyns []*model.PreSyn
}

// NewPreSynTable builds a PreSynTable from a slice of PreSyns, sorted by
// gid.
func NewPreSynTable(presyns []*model.PreSyn) *PreSynTable {
	t := &PreSynTable{presyns: append([]*model.PreSyn(nil), presyns...)}
	sort.Slice(t.presyns, func(i, j int) bool { return t.presyns[i].Gid < t.presyns[j].Gid })
	t.gids = make([]model.Gid, len(t.presyns))
	for i, p := range t.presyns {
		t.gids[i] = p.Gid
	}
	return t
}

// Lookup returns the PreSyn for gid, if any.
func (t *PreSynTable) Lookup(gid model.Gid) (*model.PreSyn, bool) {
	i := sort.Search(len(t.gids), func(i int) bool { return t.gids[i] >= gid })
	if i < len(t.gids) && t.gids[i] == gid {
		return t.presyns[i], true
	}
	return nil, false
}

// Len reports the number of entries.
func (t *PreSynTable) Len() int { return len(t.gids) }
