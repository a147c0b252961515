// Package config loads configuration from an optional config.yaml plus
// INBOX_* environment overrides and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Airtable   AirtableConfig   `yaml:"airtable" mapstructure:"airtable"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Capture    CaptureConfig    `yaml:"capture" mapstructure:"capture"`
	Daemon     DaemonConfig     `yaml:"daemon" mapstructure:"daemon"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" mapstructure:"driver"`
	// Path is the SQLite database file.
	Path string `yaml:"path" mapstructure:"path"`
	// DatabaseURL is the Postgres connection string.
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AirtableConfig holds Airtable credentials and table names per stream.
type AirtableConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseID        string `yaml:"base_id" mapstructure:"base_id"`
	MessagesTable string `yaml:"messages_table" mapstructure:"messages_table"`
	RequestsTable string `yaml:"requests_table" mapstructure:"requests_table"`
}

// PipelineConfig tunes the enrichment stages.
type PipelineConfig struct {
	// AnalysisDelay is the pause between AI analysis calls.
	AnalysisDelay time.Duration `yaml:"analysis_delay" mapstructure:"analysis_delay"`
	// DiscoveryDelay is the pause between discovery entries.
	DiscoveryDelay time.Duration `yaml:"discovery_delay" mapstructure:"discovery_delay"`
	// SearchAttempts is the total tries per grounded search.
	SearchAttempts int `yaml:"search_attempts" mapstructure:"search_attempts"`
	// SearchAttemptDelay is the fixed wait between search attempts.
	SearchAttemptDelay time.Duration `yaml:"search_attempt_delay" mapstructure:"search_attempt_delay"`
}

// CaptureConfig configures capture input and backups.
type CaptureConfig struct {
	// SnapshotDir receives a timestamped backup of every capture.
	SnapshotDir string `yaml:"snapshot_dir" mapstructure:"snapshot_dir"`
}

// DaemonConfig configures scheduled runs.
type DaemonConfig struct {
	// Interval between pipeline runs.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	// PIDFile guards against concurrent daemons.
	PIDFile string `yaml:"pid_file" mapstructure:"pid_file"`
}

// ServerConfig configures the HTTP trigger server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("INBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "inbox.db")
	// Credentials default empty so environment overrides bind.
	v.SetDefault("store.database_url", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("perplexity.key", "")
	v.SetDefault("airtable.key", "")
	v.SetDefault("airtable.base_id", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("airtable.messages_table", "Messages")
	v.SetDefault("airtable.requests_table", "Message Requests")
	v.SetDefault("pipeline.analysis_delay", "1s")
	v.SetDefault("pipeline.discovery_delay", "2s")
	v.SetDefault("pipeline.search_attempts", 3)
	v.SetDefault("pipeline.search_attempt_delay", "3s")
	v.SetDefault("capture.snapshot_dir", "snapshots")
	v.SetDefault("daemon.interval", "30m")
	v.SetDefault("daemon.pid_file", "inbox-pipeline.pid")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// Table returns the Airtable table for a stream name.
func (c AirtableConfig) Table(stream string) string {
	if stream == "message_requests" {
		return c.RequestsTable
	}
	return c.MessagesTable
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
