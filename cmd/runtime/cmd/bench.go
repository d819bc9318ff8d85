package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/nrnmpi/multisplit/pkg/model"
	"github.com/nrnmpi/multisplit/pkg/solver"
	"github.com/nrnmpi/multisplit/pkg/topology"
	"github.com/nrnmpi/multisplit/pkg/transport"
)

var (
	benchRanks      int
	benchSpikes     int
	benchIterations int
	benchDebug      bool
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Microbenchmark the spike-exchange collectives",
	Long: `bench spins up an in-process rank cluster and repeatedly runs the
variable-length allgather/all-to-all collectives that back spike exchange,
reporting average wall time per iteration. It exercises transport in
isolation, without topology or solver work, to isolate collective overhead.`,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().IntVar(&benchRanks, "ranks", 4, "Number of simulated ranks")
	benchCmd.Flags().IntVar(&benchSpikes, "spikes", 64, "Spikes generated per rank per iteration")
	benchCmd.Flags().IntVar(&benchIterations, "iterations", 100, "Number of exchange iterations")
	benchCmd.Flags().BoolVar(&benchDebug, "debug", false, "Print the backbone/transfer-coefficient dump for one toy cell before benchmarking")
}

func runBench(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cluster := transport.NewInProcessCluster(benchRanks)
	log.Info("bench: %d ranks, %d spikes/rank, %d iterations", benchRanks, benchSpikes, benchIterations)

	if benchDebug {
		if err := dumpToyBackbone(); err != nil {
			return err
		}
	}

	start := time.Now()
	var allgatherTotal, alltoallTotal time.Duration
	var mu sync.Mutex

	for iter := 0; iter < benchIterations; iter++ {
		var wg sync.WaitGroup
		wg.Add(len(cluster))
		for _, tr := range cluster {
			go func(tr transport.Transport) {
				defer wg.Done()
				gids := randomGids(benchSpikes, tr.Rank())

				t0 := time.Now()
				if _, _, err := tr.AllgathervInt(ctx, gids); err != nil {
					log.Error("allgatherv failed: %v", err)
					return
				}
				dt1 := time.Since(t0)

				counts := make([]int, tr.Size())
				for i := range counts {
					counts[i] = len(gids) / tr.Size()
				}
				t1 := time.Now()
				if _, _, err := tr.AlltoallvInt(ctx, gids, counts); err != nil {
					log.Error("alltoallv failed: %v", err)
					return
				}
				dt2 := time.Since(t1)

				mu.Lock()
				allgatherTotal += dt1
				alltoallTotal += dt2
				mu.Unlock()
			}(tr)
		}
		wg.Wait()
	}

	elapsed := time.Since(start)
	n := time.Duration(benchIterations * benchRanks)
	fmt.Printf("total: %s\n", elapsed)
	fmt.Printf("avg allgatherv: %s\n", allgatherTotal/n)
	fmt.Printf("avg alltoallv:  %s\n", alltoallTotal/n)
	return nil
}

// dumpToyBackbone triangulates one fixed two-node backbone cell and prints
// its topology.Result.Dump() and BackboneSolver.Dump(), the debug dumpers
// --debug exists to exercise.
func dumpToyBackbone() error {
	nodes := []model.Node{
		{Parent: -1, D: 2, RHS: 5, Area: 1, HasSid: true, Sid: 1},
		{Parent: 0, D: 4, A: 1, B: 1, RHS: 9, Area: 1},
	}
	directives := []topology.Directive{{NodeIndex: 0, Sid: 1, Style: topology.StyleLong, Slot: 0}}

	res, err := topology.Build(nodes, directives)
	if err != nil {
		return err
	}
	bs := solver.NewBackboneSolver()
	if err := bs.Triangulate(res.Nodes, res); err != nil {
		return err
	}
	fmt.Println(res.Dump())
	fmt.Println(bs.Dump(res))
	return nil
}

func randomGids(n, rank int) []int {
	gids := make([]int, n)
	for i := range gids {
		gids[i] = rank*1_000_000 + rand.Intn(1_000_000)
	}
	return gids
}
