package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/dbsmedya/goadaptive/internal/admin"
	"github.com/dbsmedya/goadaptive/internal/advisor"
	"github.com/dbsmedya/goadaptive/internal/config"
	"github.com/dbsmedya/goadaptive/internal/console"
	"github.com/dbsmedya/goadaptive/internal/database"
	"github.com/dbsmedya/goadaptive/internal/lock"
	"github.com/dbsmedya/goadaptive/internal/logger"
	"github.com/dbsmedya/goadaptive/internal/normalize"
	"github.com/dbsmedya/goadaptive/internal/pipeline"
	"github.com/dbsmedya/goadaptive/internal/policy"
	"github.com/dbsmedya/goadaptive/internal/record"
	"github.com/dbsmedya/goadaptive/internal/router"
	"github.com/dbsmedya/goadaptive/internal/state"
	"github.com/dbsmedya/goadaptive/internal/stats"
)

var (
	runConsole bool
	runForce   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest records and route fields to MySQL and MongoDB",
	Long: `Run starts the ingestion pipeline against the configured source.

The pipeline:
  1. Intake reads records, normalizes keys and queues them
  2. Analyze updates field statistics per batch and classifies every field
  3. Write migrates drifted fields, adds columns, and writes both backends

Statistics and decisions are restored from the state directory at startup
and saved after every batch. SIGINT/SIGTERM stops intake; everything already
read is still written before exit.

Example:
  goadaptive run --config goadaptive.yaml --console`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runConsole, "console", false,
		"Read console commands from stdin while running")
	runCmd.Flags().BoolVar(&runForce, "force", false,
		"Run even if another engine holds the table lock (use with caution)")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runConsole && cfg.Source.Type == "jsonl" && cfg.Source.Path == "-" {
		return fmt.Errorf("--console cannot be used while records are read from stdin")
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	runID := uuid.NewString()
	log = log.WithFields(map[string]interface{}{"run_id": runID})
	log.Infow("Starting goadaptive",
		"version", Version,
		"config", GetConfigFile(),
		"source", cfg.Source.Type,
	)

	ctx, cancel := database.NotifyShutdown(context.Background(), func(sig os.Signal, n int) {
		if n > 1 {
			log.Errorf("Received %s again, exiting without draining", sig)
			os.Exit(130)
		}
		log.Warnf("Received %s, draining pipeline (send again to force exit)", sig)
	})
	defer cancel()

	b, err := connectBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	if !runForce {
		tableLock := lock.NewTableLock(b.manager.Relational, cfg.Relational.Table)
		if err := tableLock.AcquireOrFail(ctx); err != nil {
			if errors.Is(err, lock.ErrLockTimeout) {
				return fmt.Errorf("another engine is already writing table '%s' (use --force to override)", cfg.Relational.Table)
			}
			return fmt.Errorf("failed to acquire table lock: %w", err)
		}
		defer tableLock.ReleaseLock(context.Background())
		log.Infow("Acquired advisory lock", "lock", tableLock.LockName())
	} else {
		log.Warnw("Skipping advisory lock acquisition (--force flag used)", "table", cfg.Relational.Table)
	}

	if err := b.relational.EnsureBaseSchema(ctx); err != nil {
		return err
	}

	stateStore, err := state.NewFileStore(cfg.State.Dir)
	if err != nil {
		return err
	}

	tracker := stats.NewTracker(cfg.Stats)
	pol := policy.New(cfg.Policy, buildJudge(cfg, log), log.WithStage("policy"))
	decisions, err := restoreState(stateStore, tracker, pol)
	if err != nil {
		return err
	}
	log.Infow("Restored state",
		"records", tracker.TotalRecords(),
		"fields", tracker.FieldCount(),
		"decisions", len(decisions),
	)

	joinKeys := record.JoinKeys(cfg.Policy.JoinKeys)
	routing, err := restoreRouting(stateStore, decisions)
	if err != nil {
		return err
	}
	rt := router.New(b.relational, b.document, joinKeys, log.WithStage("router"))
	rt.Restore(routing)

	src, err := pipeline.NewSource(&cfg.Source, log.WithStage("source"))
	if err != nil {
		return err
	}

	metrics := pipeline.NewMetrics()
	engine, err := pipeline.NewEngine(cfg.Pipeline, src, normalize.New(joinKeys), tracker,
		pol, rt, stateStore, metrics, log)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	cons := console.New(engine, cancel).WithColor(color.SupportColor())

	if cfg.Admin.Listen != "" {
		srv := admin.New(metrics.Registry, cons, b.manager.Ping, log)
		if err := srv.Start(cfg.Admin.Listen); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if runConsole {
		go func() {
			if err := cons.Run(ctx, os.Stdin, cmd.OutOrStdout()); err != nil {
				log.Warnf("Console stopped: %v", err)
			}
		}()
	}

	runErr := engine.Run(ctx)

	st := engine.Status()
	cmd.Printf("\n=== Ingestion Stopped ===\n")
	cmd.Printf("Run ID: %s\n", runID)
	cmd.Printf("Uptime: %s\n", st.Uptime.Truncate(time.Second))
	cmd.Printf("Records Ingested: %d\n", st.Ingested)
	cmd.Printf("Malformed Skipped: %d\n", st.Malformed)
	cmd.Printf("Batches Written: %d\n", st.Batches)
	cmd.Printf("Fields Tracked: %d\n", st.Fields)

	if runErr != nil {
		return fmt.Errorf("ingestion failed: %w", runErr)
	}
	return nil
}

// buildJudge returns the advisory judge when the advisor is enabled, else
// nil so the policy uses its local rule.
func buildJudge(cfg *config.Config, log *logger.Logger) policy.IdentifierJudge {
	if !cfg.Advisor.Enabled {
		return nil
	}
	client, err := advisor.New(&cfg.Advisor, log)
	if err != nil {
		log.Warnf("Identifier advisor disabled: %v", err)
		return nil
	}
	local := policy.NewLocalJudge(cfg.Policy.ConfidenceCount, cfg.Policy.UniqueRatio)
	return policy.NewAdvisoryJudge(local, client, log.WithStage("advisor"))
}

// restoreState loads persisted statistics into tracker and decisions into
// pol, returning the decisions. Missing files mean a cold start.
func restoreState(st *state.FileStore, tracker *stats.Tracker, pol *policy.Policy) (policy.Decisions, error) {
	snap, found, err := st.LoadStats()
	if err != nil {
		return nil, fmt.Errorf("failed to restore statistics: %w", err)
	}
	if found {
		tracker.Restore(snap)
	}

	decisions, found, err := st.LoadDecisions()
	if err != nil {
		return nil, fmt.Errorf("failed to restore decisions: %w", err)
	}
	if !found {
		decisions = policy.Decisions{}
	}
	pol.Restore(decisions)
	return decisions, nil
}

// restoreRouting loads the router's placement memory. State directories
// that predate the routing file fall back to the policy's decisions.
func restoreRouting(st *state.FileStore, decisions policy.Decisions) (policy.Decisions, error) {
	routing, found, err := st.LoadRouting()
	if err != nil {
		return nil, fmt.Errorf("failed to restore routing: %w", err)
	}
	if !found {
		return decisions, nil
	}
	return routing, nil
}
