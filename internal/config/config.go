package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Guardrails   GuardrailsConfig   `yaml:"guardrails"`
	LLM          LLMConfig          `yaml:"llm"`
	Database     DatabaseConfig     `yaml:"database"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Tracing      TracingConfig      `yaml:"tracing"`
	Security     SecurityConfig     `yaml:"security"`
	TLS          TLSConfig          `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

type OrchestratorConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	StaleAge       time.Duration `yaml:"stale_age"`
}

type GuardrailsConfig struct {
	InputRiskThreshold  float64       `yaml:"input_risk_threshold"`
	OutputRiskThreshold float64       `yaml:"output_risk_threshold"`
	AuditBufferSize     int           `yaml:"audit_buffer_size"`
	AuditFlushTimeout   time.Duration `yaml:"audit_flush_timeout"`
}

type LLMConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKeyEnv      string        `yaml:"api_key_env"` // env var holding the provider key; never put the key in the file
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

type SecurityConfig struct {
	APIKeyHeader   string   `yaml:"api_key_header"`
	AllowedKeys    []string `yaml:"allowed_keys"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
		},
		Orchestrator: OrchestratorConfig{
			DefaultTimeout: 5 * time.Minute,
			MaxTimeout:     30 * time.Minute,
			SweepInterval:  time.Minute,
			StaleAge:       time.Hour,
		},
		Guardrails: GuardrailsConfig{
			InputRiskThreshold:  0.7,
			OutputRiskThreshold: 0.8,
			AuditBufferSize:     1000,
			AuditFlushTimeout:   5 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:        "https://api.anthropic.com",
			APIKeyEnv:      "LLM_API_KEY",
			RequestTimeout: 2 * time.Minute,
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Orchestrator.DefaultTimeout > c.Orchestrator.MaxTimeout {
		return fmt.Errorf("orchestrator.default_timeout (%s) must be <= max_timeout (%s)",
			c.Orchestrator.DefaultTimeout, c.Orchestrator.MaxTimeout)
	}
	if c.Orchestrator.SweepInterval < time.Second {
		return fmt.Errorf("orchestrator.sweep_interval must be >= 1s")
	}
	if c.Guardrails.InputRiskThreshold <= 0 || c.Guardrails.InputRiskThreshold > 1 {
		return fmt.Errorf("guardrails.input_risk_threshold must be in (0, 1], got %f", c.Guardrails.InputRiskThreshold)
	}
	if c.Guardrails.OutputRiskThreshold <= 0 || c.Guardrails.OutputRiskThreshold > 1 {
		return fmt.Errorf("guardrails.output_risk_threshold must be in (0, 1], got %f", c.Guardrails.OutputRiskThreshold)
	}
	if c.Guardrails.AuditBufferSize < 1 {
		return fmt.Errorf("guardrails.audit_buffer_size must be >= 1")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable — connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
