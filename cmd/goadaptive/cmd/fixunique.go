package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/goadaptive/internal/logger"
)

var fixUniqueDryRun bool

var fixUniqueCmd = &cobra.Command{
	Use:   "fix-unique",
	Short: "Drop UNIQUE indexes from the relational table",
	Long: `Fix-unique lists the UNIQUE indexes (other than the primary key) on the
relational table and drops them. Use it when a column was marked unique and
later rows legitimately repeat a value, causing inserts to fail.

Example:
  goadaptive fix-unique --config goadaptive.yaml --dry-run`,
	RunE: runFixUnique,
}

func init() {
	fixUniqueCmd.Flags().BoolVar(&fixUniqueDryRun, "dry-run", false,
		"List the indexes without dropping them")

	rootCmd.AddCommand(fixUniqueCmd)
}

func runFixUnique(cmd *cobra.Command, args []string) error {
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

	indexes, err := b.relational.UniqueIndexes(ctx)
	if err != nil {
		return err
	}
	if len(indexes) == 0 {
		cmd.Printf("No UNIQUE indexes on %s\n", cfg.Relational.Table)
		return nil
	}

	cmd.Printf("UNIQUE indexes on %s:\n", cfg.Relational.Table)
	for _, name := range indexes {
		cmd.Printf("  - %s\n", name)
	}
	if fixUniqueDryRun {
		cmd.Println("\nDry run: nothing dropped")
		return nil
	}

	for _, name := range indexes {
		if err := b.relational.DropIndex(ctx, name); err != nil {
			return err
		}
		cmd.Printf("✅ Dropped %s\n", name)
	}
	return nil
}
