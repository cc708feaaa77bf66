package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from the specified file path.
// It supports YAML files and performs environment variable substitution.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper creates a Config from an existing Viper instance.
// Useful for testing or when Viper is configured externally.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	substituteEnvVars(cfg)

	return cfg, nil
}

// envVarPattern matches ${VAR_NAME} or $VAR_NAME patterns
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(cfg *Config) {
	cfg.Relational.Host = expandEnvVar(cfg.Relational.Host)
	cfg.Relational.User = expandEnvVar(cfg.Relational.User)
	cfg.Relational.Password = expandEnvVar(cfg.Relational.Password)
	cfg.Relational.Database = expandEnvVar(cfg.Relational.Database)

	cfg.Document.URI = expandEnvVar(cfg.Document.URI)
	cfg.Document.Database = expandEnvVar(cfg.Document.Database)

	cfg.Advisor.BaseURL = expandEnvVar(cfg.Advisor.BaseURL)
	cfg.Advisor.APIKey = expandEnvVar(cfg.Advisor.APIKey)

	cfg.Source.URL = expandEnvVar(cfg.Source.URL)
	cfg.Source.Path = expandEnvVar(cfg.Source.Path)

	cfg.State.Dir = expandEnvVar(cfg.State.Dir)
	cfg.Logging.Output = expandEnvVar(cfg.Logging.Output)
}

// expandEnvVar expands environment variables in the format ${VAR} or $VAR.
func expandEnvVar(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Return original if env var not found
		return match
	})
}

// ApplyOverrides applies CLI flag overrides to the configuration.
// Only non-zero/non-empty values are applied.
func (c *Config) ApplyOverrides(logLevel, logFormat string, batchSize, queueCapacity int, stateDir string) {
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat != "" {
		c.Logging.Format = logFormat
	}
	if batchSize > 0 {
		c.Pipeline.BatchSize = batchSize
	}
	if queueCapacity > 0 {
		c.Pipeline.QueueCapacity = queueCapacity
	}
	if stateDir != "" {
		c.State.Dir = stateDir
	}
}
