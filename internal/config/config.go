// Package config provides configuration loading for the memory engine.
//
// Configuration is layered: embedded defaults, then an optional YAML file,
// then MEMENGINE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lexcounsel/memengine/internal/logging"
)

// Config holds the complete engine configuration.
type Config struct {
	Logging     LoggingConfig     `koanf:"logging"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Retry       RetryConfig       `koanf:"retry"`
	Memory      MemoryConfig      `koanf:"memory"`
	Context     ContextConfig     `koanf:"context"`
	Admin       AdminConfig       `koanf:"admin"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// LoggingConfig is the operator-facing subset of logging.Config.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	Caller   bool   `koanf:"caller"`
	Sampling bool   `koanf:"sampling"`
}

// VectorStoreConfig selects and configures the vector backend.
type VectorStoreConfig struct {
	Provider        string `koanf:"provider"` // "qdrant" or "chromem"
	IndexName       string `koanf:"index_name"`
	Dimension       int    `koanf:"dimension"`
	QdrantHost      string `koanf:"qdrant_host"`
	QdrantPort      int    `koanf:"qdrant_port"`
	QdrantTLS       bool   `koanf:"qdrant_tls"`
	QdrantAPIKey    Secret `koanf:"qdrant_api_key"`
	ChromemPath     string `koanf:"chromem_path"` // empty = in-memory
	ChromemCompress bool   `koanf:"chromem_compress"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider  string   `koanf:"provider"` // "openai", "tei" or "ollama"
	Model     string   `koanf:"model"`
	BaseURL   string   `koanf:"base_url"`
	APIKey    Secret   `koanf:"api_key"`
	Dimension int      `koanf:"dimension"`
	RPS       float64  `koanf:"rps"` // 0 = unlimited
	Timeout   Duration `koanf:"timeout"`
}

// RetryConfig configures backoff against the vector service.
type RetryConfig struct {
	MaxRetries   int      `koanf:"max_retries"`
	InitialDelay Duration `koanf:"initial_delay"`
	MaxDelay     Duration `koanf:"max_delay"`
}

// MemoryConfig holds repository defaults.
type MemoryConfig struct {
	DefaultLimit int      `koanf:"default_limit"`
	MinScore     float64  `koanf:"min_score"`
	BatchDelay   Duration `koanf:"batch_delay"`
	MaxTextChars int      `koanf:"max_text_chars"`
	ScrubSecrets bool     `koanf:"scrub_secrets"`
}

// ContextConfig bounds the assembled context block.
type ContextConfig struct {
	MaxChars int `koanf:"max_chars"`
}

// AdminConfig configures the admin HTTP server.
type AdminConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// TelemetryConfig configures OTLP export of traces and metrics. Telemetry
// is off by default; Prometheus metrics on the admin server do not depend
// on it.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"` // "grpc" or "http/protobuf"
	Insecure        bool     `koanf:"insecure"`
	ServiceName     string   `koanf:"service_name"`
	ServiceVersion  string   `koanf:"service_version"`
	SampleRate      float64  `koanf:"sample_rate"`
	MetricsEnabled  bool     `koanf:"metrics_enabled"`
	ExportInterval  Duration `koanf:"export_interval"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Validate checks the telemetry section. A disabled section is always valid.
func (t TelemetryConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	var errs []error
	if t.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint: required when telemetry is enabled"))
	}
	if t.ServiceName == "" {
		errs = append(errs, errors.New("telemetry.service_name: required when telemetry is enabled"))
	}
	switch t.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		errs = append(errs, fmt.Errorf("telemetry.protocol: must be grpc or http/protobuf, got %q", t.Protocol))
	}
	if t.Insecure && !isLocalEndpoint(t.Endpoint) {
		errs = append(errs, errors.New("telemetry.insecure: plaintext export is only allowed to localhost"))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate: must be within [0,1], got %v", t.SampleRate))
	}
	if t.MetricsEnabled && t.ExportInterval <= 0 {
		errs = append(errs, errors.New("telemetry.export_interval: must be > 0 when metrics are enabled"))
	}
	return errors.Join(errs...)
}

// isLocalEndpoint reports whether a host:port endpoint names the loopback.
func isLocalEndpoint(endpoint string) bool {
	host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	if strings.HasPrefix(host, "[") {
		if i := strings.Index(host, "]"); i != -1 {
			host = host[1:i]
		}
	} else if strings.Count(host, ":") == 1 {
		host = host[:strings.LastIndex(host, ":")]
	}
	return host == "localhost" || host == "::1" || strings.HasPrefix(host, "127.")
}

// Addr returns host:port for the admin listener.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// LoggerConfig converts the logging section into a logging.Config.
func (c *Config) LoggerConfig() (*logging.Config, error) {
	lc := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	lc.Level = level
	if c.Logging.Format != "" {
		lc.Format = c.Logging.Format
	}
	lc.Caller = c.Logging.Caller
	lc.Sampling = c.Logging.Sampling
	return lc, nil
}

// Validate checks the configuration and reports every violation found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := logging.LevelFromString(c.Logging.Level); err != nil {
		add("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		add("logging.format: must be json or console, got %q", c.Logging.Format)
	}

	vs := c.VectorStore
	switch vs.Provider {
	case "qdrant":
		if vs.QdrantHost == "" {
			add("vectorstore.qdrant_host: required for qdrant provider")
		}
		if vs.QdrantPort < 1 || vs.QdrantPort > 65535 {
			add("vectorstore.qdrant_port: %d out of range", vs.QdrantPort)
		}
	case "chromem":
	default:
		add("vectorstore.provider: must be qdrant or chromem, got %q", vs.Provider)
	}
	if strings.TrimSpace(vs.IndexName) == "" {
		add("vectorstore.index_name: required")
	}
	if vs.Dimension <= 0 {
		add("vectorstore.dimension: must be > 0, got %d", vs.Dimension)
	}

	em := c.Embeddings
	switch em.Provider {
	case "openai":
		if !em.APIKey.IsSet() {
			add("embeddings.api_key: required for openai provider (or set OPENAI_API_KEY)")
		}
	case "tei", "ollama":
		if em.BaseURL == "" {
			add("embeddings.base_url: required for %s provider", em.Provider)
		}
	default:
		add("embeddings.provider: must be openai, tei or ollama, got %q", em.Provider)
	}
	if em.Dimension != 0 && em.Dimension != vs.Dimension {
		add("embeddings.dimension: %d does not match vectorstore.dimension %d", em.Dimension, vs.Dimension)
	}
	if em.RPS < 0 {
		add("embeddings.rps: must be >= 0")
	}

	if c.Retry.MaxRetries < 1 {
		add("retry.max_retries: must be >= 1, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.InitialDelay <= 0 {
		add("retry.initial_delay: must be > 0")
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		add("retry.max_delay: must be >= initial_delay")
	}

	if c.Memory.DefaultLimit < 1 {
		add("memory.default_limit: must be >= 1")
	}
	if c.Memory.MinScore < 0 || c.Memory.MinScore > 1 {
		add("memory.min_score: must be within [0,1], got %v", c.Memory.MinScore)
	}
	if c.Memory.MaxTextChars < 1 {
		add("memory.max_text_chars: must be >= 1")
	}

	if c.Context.MaxChars < 0 {
		add("context.max_chars: must be >= 0")
	}

	if c.Admin.Port < 1 || c.Admin.Port > 65535 {
		add("admin.port: %d out of range", c.Admin.Port)
	}

	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
