package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/goadaptive/internal/lock"
	"github.com/dbsmedya/goadaptive/internal/logger"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and backend connectivity",
	Long: `Validate checks the configuration file and connects to both backends
to ensure the engine can start.

Checks performed:
  - Configuration syntax and required fields
  - Database connectivity (MySQL and MongoDB)
  - Whether another engine holds the table lock
  - Existing columns of the target table

Example:
  goadaptive validate --config goadaptive.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.Info("Starting validation checks...")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cmd.Printf("\n=== Configuration Validation ===\n")
	cmd.Printf("Config file: %s\n", GetConfigFile())
	cmd.Printf("Relational: %s@%s:%d/%s.%s\n", cfg.Relational.User, cfg.Relational.Host,
		cfg.Relational.Port, cfg.Relational.Database, cfg.Relational.Table)
	cmd.Printf("Document:   %s.%s\n", cfg.Document.Database, cfg.Document.Collection)
	cmd.Printf("Source:     %s\n\n", cfg.Source.Type)

	b, err := connectBackends(ctx, cfg, log)
	if err != nil {
		cmd.Printf("❌ %v\n", err)
		return fmt.Errorf("validation failed")
	}
	defer b.close()
	cmd.Printf("✅ MySQL and MongoDB reachable\n")

	running, err := lock.IsEngineRunning(ctx, b.manager.Relational, cfg.Relational.Table)
	switch {
	case err != nil:
		cmd.Printf("❌ Lock check failed: %v\n", err)
		return fmt.Errorf("validation failed")
	case running:
		cmd.Printf("⚠️  Another engine is currently writing table %s\n", cfg.Relational.Table)
	default:
		cmd.Printf("✅ Table lock is free\n")
	}

	if err := b.relational.RefreshColumns(ctx); err != nil {
		cmd.Printf("❌ Column check failed: %v\n", err)
		return fmt.Errorf("validation failed")
	}
	if cols := b.relational.Columns(); len(cols) > 0 {
		cmd.Printf("✅ Table %s exists with %d column(s)\n", cfg.Relational.Table, len(cols))
	} else {
		cmd.Printf("✅ Table %s will be created on first run\n", cfg.Relational.Table)
	}

	cmd.Println("\n=== Validation Complete ===")
	return nil
}
