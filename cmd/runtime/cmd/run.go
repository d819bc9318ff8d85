package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nrnmpi/multisplit/internal/scenario"
	"github.com/nrnmpi/multisplit/pkg/checkpoint"
	"github.com/nrnmpi/multisplit/pkg/config"
	"github.com/nrnmpi/multisplit/pkg/env"
	"github.com/nrnmpi/multisplit/pkg/exchange"
	"github.com/nrnmpi/multisplit/pkg/model"
	"github.com/nrnmpi/multisplit/pkg/parallel"
	"github.com/nrnmpi/multisplit/pkg/snapshot"
	"github.com/nrnmpi/multisplit/pkg/telemetry"
	"github.com/nrnmpi/multisplit/pkg/transport"
	"github.com/nrnmpi/multisplit/pkg/utils"
)

var (
	scenarioPath    string
	stepCount       int
	writeCheckpoint bool
	writeSnapshot   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive a psolve loop against a scenario file",
	Long: `run loads a scenario file describing every rank's cells and
multisplit directives, spins up an in-process rank cluster, and repeatedly
triangulates, exchanges, solves, and back-substitutes every cell for the
requested number of steps.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "Path to a scenario JSON file (required)")
	runCmd.Flags().IntVar(&stepCount, "steps", 1, "Number of psolve steps to run")
	runCmd.Flags().BoolVar(&writeCheckpoint, "checkpoint", false, "Persist each step's topology to the checkpoint store")
	runCmd.Flags().BoolVar(&writeSnapshot, "snapshot", false, "Upload each step's backbone transfer coefficients (S1A/S1B) to the snapshot store")
	_ = runCmd.MarkFlagRequired("scenario")
}

func runRun(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	conf := GetConfig()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if telemetry.Enabled() {
		shutdown, err := telemetry.Init(ctx)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer shutdown(ctx)
	}

	job, err := scenario.Load(scenarioPath)
	if err != nil {
		return err
	}
	routes := job.ReducedRoutes()
	cluster := transport.NewInProcessCluster(job.RankCount())

	log.Info("loaded scenario %s: %d ranks, %d steps", scenarioPath, job.RankCount(), stepCount)

	var wg sync.WaitGroup
	errs := make([]error, job.RankCount())
	wg.Add(job.RankCount())
	for rank := range cluster {
		go func(rank int) {
			defer wg.Done()
			errs[rank] = runRank(ctx, conf, log, cluster[rank], job, rank, routes)
		}(rank)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	log.Info("run complete")
	return nil
}

// runRank drives stepCount psolve iterations for one rank: assemble,
// triangulate, exchange (backbone boundaries + reduced trees), solve,
// back-substitute -- optionally checkpointing the topology and uploading a
// snapshot of each solved cell's S1A/S1B transfer coefficients after each
// step (the snapshot's NSend/NRecv counters are left zero).
func runRank(ctx context.Context, conf *config.Config, log utils.Logger, tr transport.Transport, job *scenario.Job, rank int, routes map[model.Sid]exchange.ReducedTreeRoute) error {
	peers := job.Peers(rank)
	orch := exchange.NewOrchestrator(tr, env.NewWallClock())

	var store *checkpoint.GormStore
	if writeCheckpoint {
		s, err := checkpoint.Open(conf.CheckpointPath(rank))
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	var snapStore snapshot.Storage
	if writeSnapshot {
		s, err := snapshot.New(&conf.Storage)
		if err != nil {
			return err
		}
		snapStore = s
	}

	poolCfg := parallel.DefaultPoolConfig()
	poolCfg.MaxWorkers = conf.Solver.MaxWorker

	timer := utils.NewTimer(fmt.Sprintf("rank %d", rank), utils.WithLogger(log), utils.WithEnabled(verbose))

	for step := 0; step < stepCount; step++ {
		assemblePt := timer.Start(fmt.Sprintf("step %d: assemble", step))
		cells, err := job.Cells(rank)
		assemblePt.Stop()
		if err != nil {
			return err
		}

		runPt := timer.Start(fmt.Sprintf("step %d: run", step))
		solved, err := orch.RunStep(ctx, cells, peers, routes, poolCfg)
		runPt.Stop()
		if err != nil {
			return fmt.Errorf("rank %d step %d: %w", rank, step, err)
		}

		log.Debug("rank %d step %d solved %d cells", rank, step, len(solved))

		for _, sol := range solved {
			if store != nil {
				desc := checkpoint.FromResult(rank, int64(step), sol.Topology)
				if err := store.Save(ctx, desc); err != nil {
					return err
				}
			}
			if snapStore != nil {
				snap := snapshot.StepSnapshot{
					Rank: rank,
					Step: int64(step),
					S1A:  sol.Topology.S1A,
					S1B:  sol.Topology.S1B,
				}
				if err := snapshot.Save(ctx, snapStore, snap); err != nil {
					return err
				}
			}
		}

		delay, err := negotiateMinDelay(ctx, tr, proposeDelay(len(solved)))
		if err != nil {
			return err
		}
		log.Debug("rank %d step %d agreed min delay %.4f", rank, step, delay)
	}

	timer.PrintSummary()
	return nil
}

// proposeDelay derives this rank's proposed next-step interval from how
// much local work it just did: a rank with no cells has nothing to
// propose, matching PGVTSReduce's "non-positive means no proposal"
// convention. A real job would propose the stable step size its fastest
// mechanism allows; cell count stands in for that here.
func proposeDelay(cellCount int) float64 {
	if cellCount == 0 {
		return 0
	}
	return 1.0 / float64(cellCount)
}

// negotiateMinDelay all-gathers every rank's proposed next-step interval
// and folds them through transport.PGVTSReduce so a rank with nothing to
// propose doesn't truncate everyone else's step.
func negotiateMinDelay(ctx context.Context, tr transport.Transport, proposal float64) (float64, error) {
	proposals, _, err := tr.AllgathervDbl(ctx, []float64{proposal})
	if err != nil {
		return 0, err
	}
	agreed := proposals[0]
	for _, p := range proposals[1:] {
		agreed = transport.PGVTSReduce(agreed, p)
	}
	return agreed, nil
}
