// Package scenario loads a JSON job description -- one rank's cells, their
// nodes and multisplit directives -- and builds the per-rank wiring
// cmd/runtime needs to drive a psolve loop: solver.Cell slices, the peer
// map Orchestrator.RunStep takes (see Peers), and the
// exchange.ReducedTreeRoute map C8's gather/scatter needs. It plays the
// role the teacher's internal/testutil fixtures play for cmd/cli, adapted
// from fixture loading to job description loading.
package scenario

import (
	"encoding/json"
	"fmt"
	"os"

	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/env"
	"github.com/nrnmpi/multisplit/pkg/exchange"
	"github.com/nrnmpi/multisplit/pkg/model"
	"github.com/nrnmpi/multisplit/pkg/solver"
	"github.com/nrnmpi/multisplit/pkg/topology"
)

// NodeSpec is the JSON form of one model.Node plus, if it participates in
// a backbone or reduced tree, its multisplit directive.
type NodeSpec struct {
	Parent          int     `json:"parent"`
	ClassicalParent int     `json:"classical_parent"`
	D               float64 `json:"d"`
	A               float64 `json:"a"`
	B               float64 `json:"b"`
	RHS             float64 `json:"rhs"`
	Area            float64 `json:"area"`
	SecNodeIndex    int     `json:"sec_node_index"`

	// Sid/Style/Slot are only meaningful when HasSid is true; Style is one
	// of "long", "short", "reduced".
	HasSid bool   `json:"has_sid"`
	Sid    int32  `json:"sid"`
	Style  string `json:"style"`
	Slot   int    `json:"slot"`
}

// CellSpec is one independently-assembled cell: a flat node vector plus
// whatever sid directives its nodes carry.
type CellSpec struct {
	Nodes []NodeSpec `json:"nodes"`
}

// RankSpec is one rank's share of the job: the cells it owns.
type RankSpec struct {
	Cells []CellSpec `json:"cells"`
}

// Job is the full scenario: every rank's cells. A sid shared by two
// RankSpecs' directives (same Sid, different Slot, or same Sid/Slot on
// more than one rank for StyleReduced) is how cross-rank wiring is
// discovered -- there is no separate topology file.
type Job struct {
	Ranks []RankSpec `json:"ranks"`
}

// Load reads and parses a Job from path.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, fmt.Sprintf("read scenario file %s", path), err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeParseError, "parse scenario json", err)
	}
	if len(job.Ranks) == 0 {
		return nil, apperrors.New(apperrors.CodeConfigError, "scenario defines no ranks")
	}
	return &job, nil
}

func styleOf(s string) (topology.Style, error) {
	switch s {
	case "long", "":
		return topology.StyleLong, nil
	case "short":
		return topology.StyleShort, nil
	case "reduced":
		return topology.StyleReduced, nil
	default:
		return 0, apperrors.New(apperrors.CodeConfigError, fmt.Sprintf("unknown backbone style %q", s))
	}
}

// Cells builds rank r's solver.Cell slice from its CellSpecs.
func (j *Job) Cells(rank int) ([]solver.Cell, error) {
	if rank < 0 || rank >= len(j.Ranks) {
		return nil, apperrors.New(apperrors.CodeConfigError, fmt.Sprintf("rank %d out of range", rank))
	}

	cells := make([]solver.Cell, len(j.Ranks[rank].Cells))
	for i, cs := range j.Ranks[rank].Cells {
		nodes := make([]model.Node, len(cs.Nodes))
		var directives []topology.Directive
		for idx, ns := range cs.Nodes {
			nodes[idx] = model.Node{
				Parent:          ns.Parent,
				ClassicalParent: ns.ClassicalParent,
				D:               ns.D,
				A:               ns.A,
				B:               ns.B,
				RHS:             ns.RHS,
				Area:            ns.Area,
				SecNodeIndex:    ns.SecNodeIndex,
			}
			if ns.HasSid {
				style, err := styleOf(ns.Style)
				if err != nil {
					return nil, err
				}
				directives = append(directives, topology.Directive{
					NodeIndex: idx,
					Sid:       model.Sid(ns.Sid),
					Style:     style,
					Slot:      ns.Slot,
				})
			}
		}
		cells[i] = solver.Cell{
			Assembler:  &env.InMemoryAssembler{Nodes: nodes},
			Directives: directives,
		}
	}
	return cells, nil
}

// sidOwners maps each long/short backbone sid to the rank owning its sid0
// slot and the rank owning its sid1 slot, by scanning every rank's
// directives once.
func (j *Job) sidOwners() map[model.Sid][2]int {
	owners := make(map[model.Sid][2]int)
	for rank, rs := range j.Ranks {
		for _, cell := range rs.Cells {
			for _, ns := range cell.Nodes {
				if !ns.HasSid || ns.Style == "reduced" {
					continue
				}
				sid := model.Sid(ns.Sid)
				pair, ok := owners[sid]
				if !ok {
					pair = [2]int{-1, -1}
				}
				pair[ns.Slot] = rank
				owners[sid] = pair
			}
		}
	}
	return owners
}

// Peers builds rank r's node-index -> peer-rank map for Orchestrator.RunStep:
// every long/short sid node in rank r's cells, sid0 and sid1 alike, is keyed
// by its index within its CellSpec and maps to the rank owning the opposite
// slot of that sid (r itself when r holds both slots). Keys from different
// cells share one map.
func (j *Job) Peers(rank int) map[int]int {
	peers := make(map[int]int)
	owners := j.sidOwners()
	for _, cell := range j.Ranks[rank].Cells {
		for idx, ns := range cell.Nodes {
			if !ns.HasSid || ns.Style == "reduced" {
				continue
			}
			sid := model.Sid(ns.Sid)
			pair := owners[sid]
			if ns.Slot == 0 {
				if pair[1] >= 0 {
					peers[idx] = pair[1]
				}
			} else {
				if pair[0] >= 0 {
					peers[idx] = pair[0]
				}
			}
		}
	}
	return peers
}

// ReducedRoutes builds the job-wide sid -> ReducedTreeRoute map for C8: the
// lowest rank touching a reduced sid hosts it, every rank touching it
// (including the host) is a peer.
func (j *Job) ReducedRoutes() map[model.Sid]exchange.ReducedTreeRoute {
	touching := make(map[model.Sid]map[int]bool)
	for rank, rs := range j.Ranks {
		for _, cell := range rs.Cells {
			for _, ns := range cell.Nodes {
				if !ns.HasSid || ns.Style != "reduced" {
					continue
				}
				sid := model.Sid(ns.Sid)
				if touching[sid] == nil {
					touching[sid] = make(map[int]bool)
				}
				touching[sid][rank] = true
			}
		}
	}

	routes := make(map[model.Sid]exchange.ReducedTreeRoute, len(touching))
	for sid, ranks := range touching {
		host := -1
		var peers []int
		for r := range ranks {
			peers = append(peers, r)
			if host == -1 || r < host {
				host = r
			}
		}
		routes[sid] = exchange.ReducedTreeRoute{HostRank: host, Peers: peers}
	}
	return routes
}

// RankCount returns the number of ranks the job defines.
func (j *Job) RankCount() int {
	return len(j.Ranks)
}
