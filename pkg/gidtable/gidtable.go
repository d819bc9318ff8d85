// Package gidtable implements the connectivity planner (§4.5, C5): given
// the global set of locally-owned output gids and input subscriptions, it
// determines which source ranks must send to which target ranks, and
// builds the sorted lookup tables the spike exchangers and codec consult at
// run time.
package gidtable

import (
	"context"
	"sort"

	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/model"
	"github.com/nrnmpi/multisplit/pkg/transport"
)

// Local is the planner's input: what this rank owns.
type Local struct {
	// OutputGids are the gids this rank may emit events for.
	OutputGids []model.Gid
	// Subscriptions are the gids this rank listens to.
	Subscriptions []model.Subscription
}

// Plan is the planner's output (§4.5 steps 3-4): for each locally owned
// output gid, the sorted list of distinct target ranks that need it.
type Plan struct {
	// Targets maps each local output gid to its ascending, deduplicated
	// target-rank list.
	Targets map[model.Gid][]int
	// SourceOf maps each subscribed gid this rank listens to, to the rank
	// that owns it.
	SourceOf map[model.Gid]int
}

// minChunkFloor is the lower bound on chunk size from §4.5: "cap peak
// memory at max(num_ranks, max_local_outputs, 10000)".
const minChunkFloor = 10000

// Build runs the four-step connectivity plan described in §4.5:
//  1. all-gather the per-rank output-gid count
//  2. chunked all-gatherv of output-gid arrays, each rank scanning every
//     chunk for gids it subscribes to and recording the source rank
//  3. all-to-all of per-target-rank counts, then all-to-all-v of the gid
//     lists each target rank actually needs
//  4. populate per-output-gid target-rank arrays, ascending by rank for
//     deterministic deduplication
func Build(ctx context.Context, tr transport.Transport, local Local) (*Plan, error) {
	size := tr.Size()

	outputCounts, err := tr.AllgatherInt(ctx, len(local.OutputGids))
	if err != nil {
		return nil, err
	}

	chunkSize := minChunkFloor
	if size > chunkSize {
		chunkSize = size
	}
	for _, c := range outputCounts {
		if c > chunkSize {
			chunkSize = c
		}
	}

	sourceOf := make(map[model.Gid]int, len(local.Subscriptions))
	wanted := make(map[model.Gid]int, len(local.Subscriptions)) // gid -> its source rank

	maxChunks := 0
	for _, c := range outputCounts {
		nChunks := (c + chunkSize - 1) / chunkSize
		if nChunks > maxChunks {
			maxChunks = nChunks
		}
	}

	subscribed := make(map[model.Gid]struct{}, len(local.Subscriptions))
	for _, s := range local.Subscriptions {
		subscribed[s.Gid] = struct{}{}
	}

	for chunk := 0; chunk < maxChunks; chunk++ {
		lo, hi := chunk*chunkSize, (chunk+1)*chunkSize
		var payload []model.Gid
		if lo < len(local.OutputGids) {
			end := hi
			if end > len(local.OutputGids) {
				end = len(local.OutputGids)
			}
			payload = local.OutputGids[lo:end]
		}
		ints := make([]int, len(payload))
		for i, g := range payload {
			ints[i] = int(g)
		}

		recvbuf, counts, err := tr.AllgathervInt(ctx, ints)
		if err != nil {
			return nil, err
		}

		off, _ := prefixOffsets(counts)
		for srcRank, cnt := range counts {
			for i := 0; i < cnt; i++ {
				g := model.Gid(recvbuf[off[srcRank]+i])
				if _, ok := subscribed[g]; ok {
					sourceOf[g] = srcRank
					wanted[g] = srcRank
				}
			}
		}
	}

	// Step 3: tell each source rank which of its gids this rank wants.
	wantedBySource := make([][]model.Gid, size)
	for g, src := range wanted {
		wantedBySource[src] = append(wantedBySource[src], g)
	}
	for _, gids := range wantedBySource {
		sort.Slice(gids, func(i, j int) bool { return gids[i] < gids[j] })
	}

	sendCounts := make([]int, size)
	var sendInts []int
	for r := 0; r < size; r++ {
		sendCounts[r] = len(wantedBySource[r])
		for _, g := range wantedBySource[r] {
			sendInts = append(sendInts, int(g))
		}
	}

	recvInts, recvCounts, err := tr.AlltoallvInt(ctx, sendInts, sendCounts)
	if err != nil {
		return nil, err
	}

	// Step 4: populate per-output-gid target-rank arrays.
	targets := make(map[model.Gid][]int, len(local.OutputGids))
	for _, g := range local.OutputGids {
		targets[g] = nil
	}
	off, _ := prefixOffsets(recvCounts)
	for targetRank, cnt := range recvCounts {
		for i := 0; i < cnt; i++ {
			g := model.Gid(recvInts[off[targetRank]+i])
			if _, owned := targets[g]; !owned {
				return nil, apperrors.New(apperrors.CodeInvariantViolation, "connectivity plan requested an unowned output gid")
			}
			targets[g] = append(targets[g], targetRank)
		}
	}
	for g, ranks := range targets {
		sort.Ints(ranks)
		targets[g] = dedupSorted(ranks)
	}

	return &Plan{Targets: targets, SourceOf: sourceOf}, nil
}

func prefixOffsets(counts []int) (off []int, total int) {
	off = make([]int, len(counts))
	sum := 0
	for i, c := range counts {
		off[i] = sum
		sum += c
	}
	return off, sum
}

func dedupSorted(ranks []int) []int {
	if len(ranks) == 0 {
		return ranks
	}
	out := ranks[:1]
	for _, r := range ranks[1:] {
		if r != out[len(out)-1] {
			out = append(out, r)
		}
	}
	return out
}
