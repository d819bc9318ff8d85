// Package topology builds the multi-split backbone layout (§4.6, C6): it
// re-roots each split cell at its sid0 node, segregates backbone nodes into
// the six named fences of the node-ordering invariant (§3 "Node ordering"),
// and permutes the node vector so parent(i) < i holds everywhere (P4).
package topology

import (
	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/model"
	"github.com/nrnmpi/multisplit/pkg/utils"
)

// Style names a multisplit backbone style declared by a `multisplit(x, sid,
// style)` directive (§6.2).
type Style int

const (
	// StyleLong is a two-sid backbone solved via the post-exchange 2x2.
	StyleLong Style = 0
	// StyleShort is a backbone compressed to a 2x2 analytically before
	// exchange.
	StyleShort Style = 1
	// StyleReduced routes its sid endpoints to a reduced-tree host (C8)
	// instead of occupying the backbone numeric range.
	StyleReduced Style = 2
)

// Directive is the resolved `multisplit(x, sid, style)` attachment: which
// node carries the split point, and with what style.
type Directive struct {
	NodeIndex int
	Sid       model.Sid
	Style     Style
	// Slot is 0 for sid0 (backbone start) or 1 for sid1 (backbone end).
	Slot int
}

// Result is the topology builder's output: the permuted node vector, the
// permutation applied, the six backbone fences, and the bookkeeping arrays
// the backbone solver (C7) fills during elimination.
type Result struct {
	Nodes []model.Node
	// Perm[newIndex] = oldIndex.
	Perm []int

	BackboneBegin          int
	BackboneLongBegin      int
	BackboneInteriorBegin  int
	BackboneSid1Begin      int
	BackboneLongSid1Begin  int
	BackboneEnd            int

	// S1A, S1B, Sid0i are sized to BackboneEnd-BackboneBegin and zeroed;
	// the backbone solver fills them during forward/reverse elimination.
	S1A   []float64
	S1B   []float64
	Sid0i []int

	// ReducedTreeSids names the sid endpoints routed to a reduced-tree
	// host instead of the backbone range (style 2).
	ReducedTreeSids []model.Sid
}

// Build runs §4.6 steps 1-4 plus the §3 node permutation.
func Build(nodes []model.Node, directives []Directive) (*Result, error) {
	work := append([]model.Node(nil), nodes...)

	bySid := make(map[model.Sid][]Directive)
	for _, d := range directives {
		bySid[d.Sid] = append(bySid[d.Sid], d)
	}

	for _, ds := range bySid {
		if len(ds) != 2 {
			continue // single-ended or malformed sid: treated as a plain node below
		}
		var sid0, sid1 *Directive
		for i := range ds {
			if ds[i].Slot == 0 {
				sid0 = &ds[i]
			} else {
				sid1 = &ds[i]
			}
		}
		if sid0 == nil || sid1 == nil {
			continue
		}
		work[sid0.NodeIndex].Sid = sid0.Sid
		work[sid0.NodeIndex].HasSid = true
		work[sid0.NodeIndex].SidSlot = 0
		work[sid1.NodeIndex].Sid = sid1.Sid
		work[sid1.NodeIndex].HasSid = true
		work[sid1.NodeIndex].SidSlot = 1

		if sid0.Style != StyleReduced {
			reroot(work, sid0.NodeIndex)
		}
	}

	res, err := classifyAndPermute(work, directives)
	if err != nil {
		return nil, err
	}
	utils.GetGlobalLogger().Debug("built topology: %d nodes, %d backbone, %d reduced-tree sids",
		len(res.Nodes), res.BackboneEnd-res.BackboneBegin, len(res.ReducedTreeSids))
	return res, nil
}

// pathToRoot returns the chain from i up to (and including) its current
// root, i.e. [i, parent(i), parent(parent(i)), ..., root].
func pathToRoot(nodes []model.Node, i int) []int {
	var path []int
	for i != -1 {
		path = append(path, i)
		i = nodes[i].Parent
	}
	return path
}
