package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/cmadac/internal/config"
	"github.com/copyleftdev/cmadac/internal/environment"
	"github.com/copyleftdev/cmadac/internal/logging"
	"github.com/copyleftdev/cmadac/internal/storage"
	"github.com/copyleftdev/cmadac/internal/tracking"
)

var (
	episodes    int
	policyName  string
	sigma       float64
	rate        float64
	instanceSet string
	shuffle     bool
	seed        int64
	cutoff      int
	popSize     int
	histLength  int
	workers     int
	interval    int
	dsn         string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run episodes with a fixed step-size policy",
	Long: `Runs episodes of the step-size control environment. Settings default to
the DAC_* environment variables and can be overridden with flags.`,
	RunE: runRollouts,
}

func init() {
	runCmd.Flags().IntVar(&episodes, "episodes", 5, "Number of episodes")
	runCmd.Flags().StringVar(&policyName, "policy", "constant", "Policy: constant, decay, follow")
	runCmd.Flags().Float64Var(&sigma, "sigma", 0.5, "Step size for constant/decay policies")
	runCmd.Flags().Float64Var(&rate, "rate", 0.95, "Decay rate, or scale factor for the follow policy")
	runCmd.Flags().StringVar(&instanceSet, "instance-set", "", "YAML instance set (default built-in)")
	runCmd.Flags().BoolVar(&shuffle, "shuffle", false, "Shuffle instance order every pass")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "Random seed (0 draws a random one)")
	runCmd.Flags().IntVar(&cutoff, "cutoff", 0, "Steps per episode")
	runCmd.Flags().IntVar(&popSize, "pop", 0, "Population size")
	runCmd.Flags().IntVar(&histLength, "history", 0, "History length")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Concurrent objective evaluations")
	runCmd.Flags().IntVar(&interval, "interval", 0, "Group tracked states into chunks of this size")
	runCmd.Flags().StringVar(&dsn, "db", "", "SQLite DSN to persist episodes to")

	rootCmd.AddCommand(runCmd)
}

// applyFlags overlays explicitly set flags on cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("instance-set") {
		cfg.DAC.InstanceSet = instanceSet
	}
	if flags.Changed("shuffle") {
		cfg.DAC.InstanceShuffle = shuffle
	}
	if flags.Changed("seed") {
		cfg.DAC.Seed = seed
	}
	if flags.Changed("cutoff") {
		cfg.DAC.Cutoff = cutoff
	}
	if flags.Changed("pop") {
		cfg.DAC.PopulationSize = popSize
	}
	if flags.Changed("history") {
		cfg.DAC.HistoryLength = histLength
	}
	if flags.Changed("workers") {
		cfg.DAC.EvalWorkers = workers
	}
	if flags.Changed("interval") {
		cfg.DAC.StateInterval = interval
	}
	// Rollouts only persist when asked to.
	cfg.Database.DSN = dsn
}

func runRollouts(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	applyFlags(cmd, cfg)

	policy, err := newPolicy(policyName, sigma, rate)
	if err != nil {
		return err
	}

	var store *storage.SQLiteStore
	if cfg.Database.DSN != "" {
		if err := cfg.EnsureDataDir(); err != nil {
			return err
		}
		store = storage.NewSQLiteStore(cfg.Database.DSN)
		if err := store.Init(cmd.Context()); err != nil {
			return fmt.Errorf("open episode store: %w", err)
		}
		defer store.Close()
	}

	var saver episodeSaver
	if store != nil {
		saver = store
	}
	summaries, err := rollout(cmd.Context(), cfg, policy, episodes, saver, zapLogger())
	if err != nil {
		return err
	}
	return printSummaries(cmd.OutOrStdout(), summaries)
}

// episodeSummary is one row of the rollout report.
type episodeSummary struct {
	ID       string
	Instance string
	Steps    int
	Best     float64
	Return   float64
	Elapsed  time.Duration
}

// episodeSaver is the part of the store rollout needs.
type episodeSaver interface {
	SaveEpisode(ctx context.Context, ep storage.Episode) error
}

func rollout(ctx context.Context, cfg *config.Config, policy Policy, n int, store episodeSaver, zlog *zap.Logger) ([]episodeSummary, error) {
	provider, err := cfg.InstanceProvider()
	if err != nil {
		return nil, err
	}
	env, err := environment.New(cfg.EnvConfig(), provider, environment.WithLogger(zlog))
	if err != nil {
		return nil, err
	}

	out := make([]episodeSummary, 0, n)
	for ep := 0; ep < n; ep++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		tracker := tracking.New(env, cfg.DAC.StateInterval)
		start := time.Now()
		obs, err := tracker.Reset()
		if err != nil {
			return out, fmt.Errorf("episode %d: %w", ep, err)
		}

		sum := episodeSummary{ID: uuid.NewString(), Instance: env.Instance().Name}
		for step := 0; ; step++ {
			res, err := tracker.Step(policy.Action(obs, step))
			if err != nil {
				return out, fmt.Errorf("episode %d step %d: %w", ep, step, err)
			}
			sum.Return += res.Reward
			sum.Steps++
			obs = res.Observation
			if res.Done {
				break
			}
		}
		sum.Best = env.BestObjective()
		sum.Elapsed = time.Since(start)

		zlog.Info("Episode finished",
			zap.String("episode_id", sum.ID),
			zap.String("instance", sum.Instance),
			zap.Int("steps", sum.Steps),
			zap.Float64("best_objective", sum.Best),
		)

		if store != nil {
			if err := store.SaveEpisode(ctx, storage.EpisodeFromTracker(sum.ID, sum.Instance, sum.Best, tracker)); err != nil {
				return out, fmt.Errorf("persist episode %d: %w", ep, err)
			}
		}
		out = append(out, sum)
	}
	return out, nil
}

func printSummaries(w io.Writer, summaries []episodeSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EPISODE\tINSTANCE\tSTEPS\tBEST\tRETURN\tELAPSED")
	for i, s := range summaries {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%.6g\t%.6g\t%s\n", i, s.Instance, s.Steps, s.Best, s.Return, s.Elapsed.Round(time.Millisecond))
	}
	return tw.Flush()
}

func zapLogger() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logging.NewZapLogger(logger)
}
