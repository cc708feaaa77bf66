package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/goadaptive/internal/lock"
	"github.com/dbsmedya/goadaptive/internal/logger"
	"github.com/dbsmedya/goadaptive/internal/state"
)

var (
	resetYes       bool
	resetKeepState bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop the relational table, the document collection and saved state",
	Long: `Reset removes everything the engine has written so ingestion can start
from scratch:
  - DROP TABLE on the relational table
  - drop of the document collection
  - removal of schema_map.json, decisions.json and routing.json (unless --keep-state)

Reset refuses to run while an engine holds the table lock.

Example:
  goadaptive reset --config goadaptive.yaml --yes`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetYes, "yes", false,
		"Confirm the destructive reset (required)")
	resetCmd.Flags().BoolVar(&resetKeepState, "keep-state", false,
		"Keep the persisted statistics and decisions")

	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		return fmt.Errorf("reset drops all ingested data; re-run with --yes to confirm")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	b, err := connectBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	tableLock := lock.NewTableLock(b.manager.Relational, cfg.Relational.Table)
	err = tableLock.WithLock(ctx, lock.TimeoutShort, func() error {
		if err := b.relational.Reset(ctx); err != nil {
			return err
		}
		cmd.Printf("✅ Dropped table %s\n", cfg.Relational.Table)

		if err := b.document.Reset(ctx); err != nil {
			return err
		}
		cmd.Printf("✅ Dropped collection %s\n", b.document.Name())

		if resetKeepState {
			return nil
		}
		st, err := state.NewFileStore(cfg.State.Dir)
		if err != nil {
			return err
		}
		if err := st.Clear(); err != nil {
			return err
		}
		cmd.Printf("✅ Cleared state in %s\n", st.Dir())
		return nil
	})
	if errors.Is(err, lock.ErrLockTimeout) {
		return fmt.Errorf("an engine is writing table '%s'; stop it before resetting", cfg.Relational.Table)
	}
	return err
}
