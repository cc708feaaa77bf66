package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate checks the configuration for required fields and valid values.
// Missing backend connection parameters are reported here so that the
// engine never starts its pipeline against a half-configured backend.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateRelational()...)
	errors = append(errors, c.validateDocument()...)
	errors = append(errors, c.validatePipeline()...)
	errors = append(errors, c.validateStats()...)
	errors = append(errors, c.validatePolicy()...)
	errors = append(errors, c.validateAdvisor()...)
	errors = append(errors, c.validateSource()...)
	errors = append(errors, c.validateLogging()...)

	if c.State.Dir == "" {
		errors = append(errors, ValidationError{
			Field:   "state.dir",
			Message: "state directory is required",
		})
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateRelational() ValidationErrors {
	var errors ValidationErrors
	db := &c.Relational

	if db.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "relational.host",
			Message: "host is required",
		})
	}

	if db.Port <= 0 || db.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "relational.port",
			Message: "port must be between 1 and 65535",
		})
	}

	if db.User == "" {
		errors = append(errors, ValidationError{
			Field:   "relational.user",
			Message: "user is required",
		})
	}

	if db.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "relational.database",
			Message: "database name is required",
		})
	}

	if db.Table == "" {
		errors = append(errors, ValidationError{
			Field:   "relational.table",
			Message: "table name is required",
		})
	}

	validTLS := map[string]bool{"disable": true, "preferred": true, "required": true, "": true}
	if !validTLS[db.TLS] {
		errors = append(errors, ValidationError{
			Field:   "relational.tls",
			Message: "tls must be 'disable', 'preferred', or 'required'",
		})
	}

	if db.MaxConnections < 0 {
		errors = append(errors, ValidationError{
			Field:   "relational.max_connections",
			Message: "max_connections cannot be negative",
		})
	}

	if db.MaxIdleConnections < 0 {
		errors = append(errors, ValidationError{
			Field:   "relational.max_idle_connections",
			Message: "max_idle_connections cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateDocument() ValidationErrors {
	var errors ValidationErrors

	if c.Document.URI == "" {
		errors = append(errors, ValidationError{
			Field:   "document.uri",
			Message: "uri is required",
		})
	}
	if c.Document.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "document.database",
			Message: "database name is required",
		})
	}
	if c.Document.Collection == "" {
		errors = append(errors, ValidationError{
			Field:   "document.collection",
			Message: "collection name is required",
		})
	}
	if c.Document.ConnectTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "document.connect_timeout_seconds",
			Message: "connect_timeout_seconds cannot be negative",
		})
	}

	return errors
}

func (c *Config) validatePipeline() ValidationErrors {
	var errors ValidationErrors

	if c.Pipeline.BatchSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Pipeline.QueueCapacity <= 0 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.queue_capacity",
			Message: "queue_capacity must be positive",
		})
	}

	if c.Pipeline.PollTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.poll_timeout_seconds",
			Message: "poll_timeout_seconds must be positive",
		})
	}

	if c.Pipeline.BackoffMillis < 0 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.backoff_millis",
			Message: "backoff_millis cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateStats() ValidationErrors {
	var errors ValidationErrors

	if c.Stats.SampleCapacity <= 0 {
		errors = append(errors, ValidationError{
			Field:   "stats.sample_capacity",
			Message: "sample_capacity must be positive",
		})
	}

	if c.Stats.SmallSetThreshold < 0 {
		errors = append(errors, ValidationError{
			Field:   "stats.small_set_threshold",
			Message: "small_set_threshold cannot be negative",
		})
	}

	return errors
}

func (c *Config) validatePolicy() ValidationErrors {
	var errors ValidationErrors
	p := &c.Policy

	if p.LowerThreshold < 0 || p.LowerThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "policy.lower_threshold",
			Message: "lower_threshold must be between 0 and 1",
		})
	}

	if p.UpperThreshold < 0 || p.UpperThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "policy.upper_threshold",
			Message: "upper_threshold must be between 0 and 1",
		})
	}

	if p.LowerThreshold > p.UpperThreshold {
		errors = append(errors, ValidationError{
			Field:   "policy.lower_threshold",
			Message: "lower_threshold cannot exceed upper_threshold",
		})
	}

	if p.UniqueRatio <= 0 || p.UniqueRatio > 1 {
		errors = append(errors, ValidationError{
			Field:   "policy.unique_ratio",
			Message: "unique_ratio must be in (0, 1]",
		})
	}

	if p.ConfidenceCount < 0 {
		errors = append(errors, ValidationError{
			Field:   "policy.confidence_count",
			Message: "confidence_count cannot be negative",
		})
	}

	if len(p.JoinKeys) == 0 {
		errors = append(errors, ValidationError{
			Field:   "policy.join_keys",
			Message: "at least one join key is required",
		})
	}

	return errors
}

func (c *Config) validateAdvisor() ValidationErrors {
	var errors ValidationErrors

	if !c.Advisor.Enabled {
		return nil
	}

	if c.Advisor.APIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "advisor.api_key",
			Message: "api_key is required when advisor is enabled",
		})
	}

	if c.Advisor.Model == "" {
		errors = append(errors, ValidationError{
			Field:   "advisor.model",
			Message: "model is required when advisor is enabled",
		})
	}

	if c.Advisor.TimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "advisor.timeout_seconds",
			Message: "timeout_seconds must be positive",
		})
	}

	return errors
}

func (c *Config) validateSource() ValidationErrors {
	var errors ValidationErrors

	switch c.Source.Type {
	case "sse":
		if c.Source.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "source.url",
				Message: "url is required for sse source",
			})
		}
	case "jsonl":
		if c.Source.Path == "" {
			errors = append(errors, ValidationError{
				Field:   "source.path",
				Message: "path is required for jsonl source",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "source.type",
			Message: "type must be 'sse' or 'jsonl'",
		})
	}

	return errors
}

func (c *Config) validateLogging() ValidationErrors {
	var errors ValidationErrors

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[c.Logging.Level] {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: "level must be 'debug', 'info', 'warn', or 'error'",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "": true}
	if !validFormats[c.Logging.Format] {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: "format must be 'json' or 'text'",
		})
	}

	return errors
}
