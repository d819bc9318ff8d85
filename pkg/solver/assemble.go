package solver

import (
	"context"

	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/env"
	"github.com/nrnmpi/multisplit/pkg/parallel"
	"github.com/nrnmpi/multisplit/pkg/topology"
)

// Cell bundles one cell's matrix assembler with its resolved multisplit
// directives. A rank typically owns many cells; they share no nodes until
// the spike exchange and reduced-tree stages, so they assemble and
// triangulate independently.
type Cell struct {
	Assembler  env.MatrixAssembler
	Directives []topology.Directive
}

// Solved is one cell's triangulated topology, ready for the cross-rank
// exchange and the final SolveBackbones/BackSubstitute pass.
type Solved struct {
	Topology *topology.Result
}

// TriangulateCells assembles and forward-eliminates every cell this rank
// owns, using pkg/parallel's worker pool to overlap independent cells'
// assembly and elimination.
func TriangulateCells(ctx context.Context, cells []Cell, cfg parallel.PoolConfig) ([]Solved, error) {
	pool := parallel.NewWorkerPool[Cell, *topology.Result](cfg)
	results := pool.ExecuteFunc(ctx, cells, func(ctx context.Context, c Cell) (*topology.Result, error) {
		nodes, err := c.Assembler.Assemble()
		if err != nil {
			return nil, err
		}
		res, err := topology.Build(nodes, c.Directives)
		if err != nil {
			return nil, err
		}
		bs := NewBackboneSolver()
		if err := bs.Triangulate(res.Nodes, res); err != nil {
			return nil, err
		}
		return res, nil
	})

	out := make([]Solved, len(results))
	for i, r := range results {
		if r.Error != nil {
			return out, apperrors.Wrap(apperrors.CodeInvariantViolation, "cell failed to triangulate", r.Error)
		}
		out[i] = Solved{Topology: r.Result}
	}
	return out, nil
}
