package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/goadaptive/internal/config"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// CLI flags that override config file values
var (
	cfgFile       string
	logLevel      string
	logFormat     string
	batchSize     int
	queueCapacity int
	stateDir      string
)

var rootCmd = &cobra.Command{
	Use:   "goadaptive",
	Short: "Adaptive MySQL/MongoDB field router",
	Long: `goadaptive ingests a stream of schema-less JSON records, learns the
shape of every field online, and writes each field to MySQL or MongoDB.

Features:
  - Per-field type, frequency and cardinality statistics that survive restarts
  - Hysteresis-based placement with unique-identifier detection
  - Automatic column creation, and migration of drifting fields to MongoDB
  - Bounded, lossless intake/analyze/write pipeline with graceful shutdown
  - Prometheus metrics and a read-only command console`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "goadaptive.yaml",
		"Path to configuration file")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")

	rootCmd.PersistentFlags().IntVar(&batchSize, "batch-size", 0,
		"Override records per analyzed batch")
	rootCmd.PersistentFlags().IntVar(&queueCapacity, "queue-capacity", 0,
		"Override capacity of each pipeline queue")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "",
		"Override directory holding schema_map.json, decisions.json and routing.json")
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// CLIOverrides contains flag values that override config file settings
type CLIOverrides struct {
	LogLevel      string
	LogFormat     string
	BatchSize     int
	QueueCapacity int
	StateDir      string
}

// GetCLIOverrides returns the CLI flag override values
func GetCLIOverrides() CLIOverrides {
	return CLIOverrides{
		LogLevel:      logLevel,
		LogFormat:     logFormat,
		BatchSize:     batchSize,
		QueueCapacity: queueCapacity,
		StateDir:      stateDir,
	}
}

// loadConfig loads the config file, applies CLI overrides and validates
// the result.
func loadConfig() (*config.Config, error) {
	cfg, err := loadConfigUnvalidated()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadConfigUnvalidated is loadConfig for commands that never connect to a
// backend.
func loadConfigUnvalidated() (*config.Config, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	o := GetCLIOverrides()
	cfg.ApplyOverrides(o.LogLevel, o.LogFormat, o.BatchSize, o.QueueCapacity, o.StateDir)
	return cfg, nil
}
