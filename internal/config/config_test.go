package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Orchestrator.DefaultTimeout != 5*time.Minute {
		t.Errorf("Orchestrator.DefaultTimeout = %s, want 5m", cfg.Orchestrator.DefaultTimeout)
	}
	if cfg.Orchestrator.MaxTimeout != 30*time.Minute {
		t.Errorf("Orchestrator.MaxTimeout = %s, want 30m", cfg.Orchestrator.MaxTimeout)
	}
	if cfg.Guardrails.InputRiskThreshold != 0.7 {
		t.Errorf("Guardrails.InputRiskThreshold = %f, want 0.7", cfg.Guardrails.InputRiskThreshold)
	}
	if cfg.Guardrails.OutputRiskThreshold != 0.8 {
		t.Errorf("Guardrails.OutputRiskThreshold = %f, want 0.8", cfg.Guardrails.OutputRiskThreshold)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"server port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"server port 99999", func(c *Config) { c.Server.Port = 99999 }, true},
		{"default_timeout > max_timeout", func(c *Config) {
			c.Orchestrator.DefaultTimeout = time.Hour
			c.Orchestrator.MaxTimeout = time.Minute
		}, true},
		{"sweep_interval too small", func(c *Config) { c.Orchestrator.SweepInterval = 10 * time.Millisecond }, true},
		{"input threshold 0", func(c *Config) { c.Guardrails.InputRiskThreshold = 0 }, true},
		{"input threshold over 1", func(c *Config) { c.Guardrails.InputRiskThreshold = 1.5 }, true},
		{"output threshold 0", func(c *Config) { c.Guardrails.OutputRiskThreshold = 0 }, true},
		{"audit buffer 0", func(c *Config) { c.Guardrails.AuditBufferSize = 0 }, true},
		{"TLS enabled without cert", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = ""
			c.TLS.KeyFile = ""
		}, true},
		{"TLS enabled with cert+key", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = "/etc/ssl/cert.pem"
			c.TLS.KeyFile = "/etc/ssl/key.pem"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
server:
  host: "127.0.0.1"
  port: 9090
orchestrator:
  default_timeout: 1m
  max_timeout: 10m
  stale_age: 30m
guardrails:
  input_risk_threshold: 0.6
  output_risk_threshold: 0.9
`
	tmpFile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(yamlContent); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Orchestrator.DefaultTimeout != time.Minute {
		t.Errorf("Orchestrator.DefaultTimeout = %s, want 1m", cfg.Orchestrator.DefaultTimeout)
	}
	if cfg.Orchestrator.StaleAge != 30*time.Minute {
		t.Errorf("Orchestrator.StaleAge = %s, want 30m", cfg.Orchestrator.StaleAge)
	}
	if cfg.Guardrails.InputRiskThreshold != 0.6 {
		t.Errorf("Guardrails.InputRiskThreshold = %f, want 0.6", cfg.Guardrails.InputRiskThreshold)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("Database.MaxOpenConns = %d, want default 25", cfg.Database.MaxOpenConns)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestAddress(t *testing.T) {
	cfg := DefaultConfig()
	want := "0.0.0.0:8080"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 3000
	want = "127.0.0.1:3000"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}
