package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all user-configurable settings shared across binaries.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	EnableCORS   bool          `mapstructure:"enable_cors"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig configures durable storage. When URL is empty the server
// falls back to the file-based session store under SessionDir.
type DatabaseConfig struct {
	URL        string `mapstructure:"url"`
	SessionDir string `mapstructure:"session_dir"`
}

// LLMConfig configures the upstream AI service client.
type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// StreamingConfig carries the orchestrator tunables.
type StreamingConfig struct {
	// FlushThreshold is the pending-buffer size that forces a flush.
	FlushThreshold int `mapstructure:"flush_threshold"`
	// FlushInterval is the timer-driven flush period.
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	// ToolWait bounds how long a tool execution may run without a
	// completion event before it is forced to a synthetic error.
	ToolWait time.Duration `mapstructure:"tool_wait"`
	// ArtifactAttachDelay defers attaching artifact references to a
	// finalized message so server-side creation can settle.
	ArtifactAttachDelay time.Duration `mapstructure:"artifact_attach_delay"`
	// RefreshSettleDelay defers refresh signals after persistence.
	RefreshSettleDelay time.Duration `mapstructure:"refresh_settle_delay"`
	// HistoryWindow is the number of prior messages sent as context.
	HistoryWindow int `mapstructure:"history_window"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the given file (optional), the working
// directory, and RFPEZ_-prefixed environment variables, in ascending
// precedence: defaults < file < environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RFPEZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("rfpez")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.rfpez")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.enable_cors", true)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0*time.Second) // streaming responses

	v.SetDefault("database.url", "")
	v.SetDefault("database.session_dir", "~/.rfpez/sessions")

	v.SetDefault("llm.base_url", "https://api.anthropic.com")
	v.SetDefault("llm.model", "claude-3-5-sonnet-20241022")
	v.SetDefault("llm.max_tokens", 4000)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.timeout", 5*time.Minute)

	v.SetDefault("streaming.flush_threshold", 150)
	v.SetDefault("streaming.flush_interval", 50*time.Millisecond)
	v.SetDefault("streaming.tool_wait", 180*time.Second)
	v.SetDefault("streaming.artifact_attach_delay", 300*time.Millisecond)
	v.SetDefault("streaming.refresh_settle_delay", 200*time.Millisecond)
	v.SetDefault("streaming.history_window", 10)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.prometheus_port", 9464)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func (c *Config) validate() error {
	if c.Streaming.FlushThreshold <= 0 {
		return fmt.Errorf("streaming.flush_threshold must be positive")
	}
	if c.Streaming.FlushInterval <= 0 {
		return fmt.Errorf("streaming.flush_interval must be positive")
	}
	if c.Streaming.ToolWait <= 0 {
		return fmt.Errorf("streaming.tool_wait must be positive")
	}
	if c.Streaming.HistoryWindow < 0 {
		return fmt.Errorf("streaming.history_window must not be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
