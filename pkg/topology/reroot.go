package topology

import "github.com/nrnmpi/multisplit/pkg/model"

// reroot reverses the parent chain from sid0Node back to the classical root
// (§4.6 step 1), so sid0Node becomes the root of its tree. Off-diagonal
// fills swap (A<->B) on every node whose parent edge flips direction, since
// A addressed the old parent and B the old child.
func reroot(nodes []model.Node, sid0Node int) {
	if nodes[sid0Node].Parent == -1 {
		return // already the root
	}

	path := pathToRoot(nodes, sid0Node) // [sid0Node, ..., oldRoot]
	for i := 0; i < len(path)-1; i++ {
		child, parent := path[i], path[i+1]
		nodes[parent].Parent = child
		nodes[parent].A, nodes[parent].B = nodes[parent].B, nodes[parent].A
	}
	nodes[sid0Node].Parent = -1
}
