package topology

import (
	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/model"
)

// classifyAndPermute implements the §3 "Node ordering" invariant: roots of
// single-sid/no-backbone trees, then sid0 (short before long), then
// interior backbone nodes, then sid1 (short before long), then all
// remaining subtree nodes -- and records the six named fences.
func classifyAndPermute(nodes []model.Node, directives []Directive) (*Result, error) {
	n := len(nodes)

	sid0Short, sid0Long := []int{}, []int{}
	sid1Short, sid1Long := []int{}, []int{}
	interiorOwner := make(map[model.Sid]struct{ sid0, sid1 int })
	reducedEndpoints := map[int]bool{}
	var reducedSids []model.Sid

	bySid := groupBySid(directives)
	for sid, ds := range bySid {
		if len(ds) != 2 {
			continue
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
		if sid0.Style == StyleReduced {
			reducedEndpoints[sid0.NodeIndex] = true
			reducedEndpoints[sid1.NodeIndex] = true
			reducedSids = append(reducedSids, sid)
			continue
		}
		switch sid0.Style {
		case StyleShort:
			sid0Short = append(sid0Short, sid0.NodeIndex)
			sid1Short = append(sid1Short, sid1.NodeIndex)
		default:
			sid0Long = append(sid0Long, sid0.NodeIndex)
			sid1Long = append(sid1Long, sid1.NodeIndex)
		}
		interiorOwner[sid] = struct{ sid0, sid1 int }{sid0.NodeIndex, sid1.NodeIndex}
	}

	backboneNode := make(map[int]bool, 2*len(sid0Short)+2*len(sid0Long))
	for _, idx := range sid0Short {
		backboneNode[idx] = true
	}
	for _, idx := range sid0Long {
		backboneNode[idx] = true
	}
	for _, idx := range sid1Short {
		backboneNode[idx] = true
	}
	for _, idx := range sid1Long {
		backboneNode[idx] = true
	}

	// Interior nodes: the path from each sid1 up to (excluding) its sid0,
	// in root-to-leaf order, for both short and long backbones.
	interiorShort := orderedInterior(nodes, interiorOwner, sid1Short, backboneNode)
	interiorLong := orderedInterior(nodes, interiorOwner, sid1Long, backboneNode)
	interior := append(interiorShort, interiorLong...)
	for _, idx := range interior {
		backboneNode[idx] = true
	}

	var plainRoots []int
	for i, nd := range nodes {
		if nd.Parent == -1 && !backboneNode[i] && !reducedEndpoints[i] {
			plainRoots = append(plainRoots, i)
		}
	}

	placed := make(map[int]bool, n)
	order := make([]int, 0, n)
	appendGroup := func(idx []int) {
		order = append(order, idx...)
		for _, i := range idx {
			placed[i] = true
		}
	}

	appendGroup(plainRoots)
	backboneBegin := len(order)
	appendGroup(sid0Short)
	appendGroup(sid0Long)
	backboneLongBegin := backboneBegin + len(sid0Short)
	backboneInteriorBegin := len(order)
	appendGroup(interior)
	backboneSid1Begin := len(order)
	appendGroup(sid1Short)
	appendGroup(sid1Long)
	backboneLongSid1Begin := backboneSid1Begin + len(sid1Short)
	backboneEnd := len(order)

	var remaining []int
	for i := range nodes {
		if !placed[i] {
			remaining = append(remaining, i)
		}
	}
	sortedRemaining, err := topoSortRemaining(nodes, remaining, placed)
	if err != nil {
		return nil, err
	}
	order = append(order, sortedRemaining...)

	if len(order) != n {
		return nil, apperrors.New(apperrors.CodeInvariantViolation, "topology ordering dropped or duplicated nodes")
	}

	newIndexOf := make([]int, n)
	for newIdx, oldIdx := range order {
		newIndexOf[oldIdx] = newIdx
	}

	permNodes := make([]model.Node, n)
	for newIdx, oldIdx := range order {
		nd := nodes[oldIdx]
		if nd.Parent != -1 {
			nd.Parent = newIndexOf[nd.Parent]
		}
		if nd.ClassicalParent >= 0 && nd.ClassicalParent < n {
			nd.ClassicalParent = newIndexOf[nd.ClassicalParent]
		}
		permNodes[newIdx] = nd
	}

	for i, nd := range permNodes {
		if nd.Parent != -1 && nd.Parent >= i {
			return nil, apperrors.New(apperrors.CodeInvariantViolation, "parent index >= child index after topology reorder")
		}
	}

	backboneLen := backboneEnd - backboneBegin
	sid0i := ownerOf(nodes, newIndexOf, interiorOwner, backboneBegin, backboneEnd)

	return &Result{
		Nodes:                 permNodes,
		Perm:                  order,
		BackboneBegin:         backboneBegin,
		BackboneLongBegin:     backboneLongBegin,
		BackboneInteriorBegin: backboneInteriorBegin,
		BackboneSid1Begin:     backboneSid1Begin,
		BackboneLongSid1Begin: backboneLongSid1Begin,
		BackboneEnd:           backboneEnd,
		S1A:                   make([]float64, backboneLen),
		S1B:                   make([]float64, backboneLen),
		Sid0i:                 sid0i,
		ReducedTreeSids:       reducedSids,
	}, nil
}

func groupBySid(directives []Directive) map[model.Sid][]Directive {
	bySid := make(map[model.Sid][]Directive)
	for _, d := range directives {
		bySid[d.Sid] = append(bySid[d.Sid], d)
	}
	return bySid
}

// orderedInterior walks each sid1->sid0 path (excluding both endpoints) and
// returns the nodes in sid0->...->sid1 (root-to-leaf) order, concatenated
// across backbones in sid1-slice order.
func orderedInterior(nodes []model.Node, owners map[model.Sid]struct{ sid0, sid1 int }, sid1Nodes []int, isEndpoint map[int]bool) []int {
	sid1ToSid0 := make(map[int]int, len(owners))
	for _, o := range owners {
		sid1ToSid0[o.sid1] = o.sid0
	}

	var out []int
	for _, s1 := range sid1Nodes {
		s0 := sid1ToSid0[s1]
		var leafToRoot []int
		i := nodes[s1].Parent
		for i != -1 && i != s0 {
			leafToRoot = append(leafToRoot, i)
			i = nodes[i].Parent
		}
		for k := len(leafToRoot) - 1; k >= 0; k-- {
			out = append(out, leafToRoot[k])
		}
	}
	return out
}

func ownerOf(nodes []model.Node, newIndexOf []int, owners map[model.Sid]struct{ sid0, sid1 int }, backboneBegin, backboneEnd int) []int {
	sid0i := make([]int, backboneEnd-backboneBegin)
	for _, o := range owners {
		newSid0 := newIndexOf[o.sid0]
		newSid1 := newIndexOf[o.sid1]
		if newSid1 >= backboneBegin && newSid1 < backboneEnd {
			sid0i[newSid1-backboneBegin] = newSid0
		}
		// Walk the interior chain in the permuted index space: every node
		// whose classical parent chain leads to sid0 before sid1 shares the
		// same back-pointer.
		i := nodes[o.sid1].Parent
		for i != -1 && i != o.sid0 {
			ni := newIndexOf[i]
			if ni >= backboneBegin && ni < backboneEnd {
				sid0i[ni-backboneBegin] = newSid0
			}
			i = nodes[i].Parent
		}
	}
	return sid0i
}

// topoSortRemaining numbers the trailing "remaining subtree nodes" group so
// that every node's parent -- whether already placed in an earlier group or
// within this group -- precedes it, using the same promote-until-numbered
// strategy as model.ReducedTreeMatrix.Reorder.
func topoSortRemaining(nodes []model.Node, remaining []int, placed map[int]bool) ([]int, error) {
	pending := make(map[int]bool, len(remaining))
	for _, i := range remaining {
		pending[i] = true
	}

	var out []int
	ready := func(i int) bool {
		p := nodes[i].Parent
		return p == -1 || placed[p]
	}

	for len(out) < len(remaining) {
		progressed := false
		for _, i := range remaining {
			if !pending[i] {
				continue
			}
			if ready(i) {
				out = append(out, i)
				placed[i] = true
				delete(pending, i)
				progressed = true
			}
		}
		if !progressed {
			return nil, apperrors.New(apperrors.CodeInvariantViolation, "topology reorder failed to terminate over remaining subtree nodes")
		}
	}
	return out, nil
}
