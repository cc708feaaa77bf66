// Package config provides configuration structures and loading for GoAdaptive.
package config

// Config represents the complete application configuration.
type Config struct {
	Relational RelationalConfig `yaml:"relational" mapstructure:"relational"`
	Document   DocumentConfig   `yaml:"document" mapstructure:"document"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Stats      StatsConfig      `yaml:"stats" mapstructure:"stats"`
	Policy     PolicyConfig     `yaml:"policy" mapstructure:"policy"`
	Advisor    AdvisorConfig    `yaml:"advisor" mapstructure:"advisor"`
	Source     SourceConfig     `yaml:"source" mapstructure:"source"`
	Admin      AdminConfig      `yaml:"admin" mapstructure:"admin"`
	State      StateConfig      `yaml:"state" mapstructure:"state"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
}

// RelationalConfig represents the MySQL backend connection and target table.
type RelationalConfig struct {
	Host               string `yaml:"host" mapstructure:"host"`
	Port               int    `yaml:"port" mapstructure:"port"`
	User               string `yaml:"user" mapstructure:"user"`
	Password           string `yaml:"password" mapstructure:"password"`
	Database           string `yaml:"database" mapstructure:"database"`
	Table              string `yaml:"table" mapstructure:"table"`
	TLS                string `yaml:"tls" mapstructure:"tls"` // disable, preferred, required
	MaxConnections     int    `yaml:"max_connections" mapstructure:"max_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections" mapstructure:"max_idle_connections"`
}

// DocumentConfig represents the MongoDB backend connection and target collection.
type DocumentConfig struct {
	URI                   string `yaml:"uri" mapstructure:"uri"`
	Database              string `yaml:"database" mapstructure:"database"`
	Collection            string `yaml:"collection" mapstructure:"collection"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds" mapstructure:"connect_timeout_seconds"`
}

// PipelineConfig controls queue sizing, batching and polling.
type PipelineConfig struct {
	BatchSize          int     `yaml:"batch_size" mapstructure:"batch_size"`
	QueueCapacity      int     `yaml:"queue_capacity" mapstructure:"queue_capacity"`
	PollTimeoutSeconds float64 `yaml:"poll_timeout_seconds" mapstructure:"poll_timeout_seconds"`
	BackoffMillis      int     `yaml:"backoff_millis" mapstructure:"backoff_millis"`
}

// StatsConfig controls the per-field statistics tracker.
type StatsConfig struct {
	SampleCapacity    int `yaml:"sample_capacity" mapstructure:"sample_capacity"`
	SmallSetThreshold int `yaml:"small_set_threshold" mapstructure:"small_set_threshold"`
}

// PolicyConfig controls field placement.
type PolicyConfig struct {
	LowerThreshold  float64  `yaml:"lower_threshold" mapstructure:"lower_threshold"`
	UpperThreshold  float64  `yaml:"upper_threshold" mapstructure:"upper_threshold"`
	UniqueRatio     float64  `yaml:"unique_ratio" mapstructure:"unique_ratio"`
	ConfidenceCount int      `yaml:"confidence_count" mapstructure:"confidence_count"`
	JoinKeys        []string `yaml:"join_keys" mapstructure:"join_keys"`
}

// AdvisorConfig configures the optional identifier advisory endpoint.
// Any OpenAI-compatible chat completion API works (OpenAI, Groq, local gateways).
type AdvisorConfig struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	APIKey         string `yaml:"api_key" mapstructure:"api_key"`
	Model          string `yaml:"model" mapstructure:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// SourceConfig selects where raw records come from.
type SourceConfig struct {
	Type string `yaml:"type" mapstructure:"type"` // sse or jsonl
	URL  string `yaml:"url" mapstructure:"url"`
	Path string `yaml:"path" mapstructure:"path"` // jsonl file, "-" for stdin
}

// AdminConfig configures the HTTP admin surface. Empty Listen disables it.
type AdminConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen"`
}

// StateConfig controls where statistics and decisions are persisted.
type StateConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
	Output string `yaml:"output" mapstructure:"output"` // stdout, stderr, or file path
}

// DefaultJoinKeys are the fields every record carries to both backends.
var DefaultJoinKeys = []string{"username", "timestamp", "sys_ingested_at"}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Relational: RelationalConfig{
			Port:               3306,
			Table:              "structured_data",
			TLS:                "preferred",
			MaxConnections:     10,
			MaxIdleConnections: 5,
		},
		Document: DocumentConfig{
			Database:              "adaptive_db",
			Collection:            "unstructured_data",
			ConnectTimeoutSeconds: 10,
		},
		Pipeline: PipelineConfig{
			BatchSize:          50,
			QueueCapacity:      1000,
			PollTimeoutSeconds: 1,
			BackoffMillis:      100,
		},
		Stats: StatsConfig{
			SampleCapacity:    1000,
			SmallSetThreshold: 20,
		},
		Policy: PolicyConfig{
			LowerThreshold:  0.75,
			UpperThreshold:  0.85,
			UniqueRatio:     0.98,
			ConfidenceCount: 1000,
			JoinKeys:        append([]string(nil), DefaultJoinKeys...),
		},
		Advisor: AdvisorConfig{
			Enabled:        false,
			Model:          "llama-3.1-8b-instant",
			TimeoutSeconds: 10,
		},
		Source: SourceConfig{
			Type: "sse",
			URL:  "http://127.0.0.1:8000/record/5000",
		},
		State: StateConfig{
			Dir: "metadata",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
