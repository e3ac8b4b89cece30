package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.Enabled || cfg.Server.Port != 8080 {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if len(cfg.Plugins) != 1 || cfg.Plugins[0] != "*" {
		t.Fatalf("expected all plugins by default, got %v", cfg.Plugins)
	}
	if cfg.Dispatch.MaxAttempts != 1 || cfg.Dispatch.Concurrency != 0 {
		t.Fatalf("unexpected dispatch defaults: %+v", cfg.Dispatch)
	}
	if cfg.Dispatch.BackoffInitial != 250*time.Millisecond || cfg.RPC.Timeout != 5*time.Minute {
		t.Fatalf("durations not decoded: %+v %+v", cfg.Dispatch, cfg.RPC)
	}
	if cfg.RPC.Transport != "amqp" || cfg.RPC.URL == "" {
		t.Fatalf("unexpected rpc defaults: %+v", cfg.RPC)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: true
server:
  port: 9090
  auth:
    enabled: true
    api_key: secret
plugins: ["engine/*", "handler/page", "store/memory", "collector/console", "logger/*"]
service:
  logger: zerolog
  engine:
    type: rmq
    queue: jobs
    prefetch: 4
  handlers:
    - type: page
      kind: listing
    - "null"
dispatch:
  concurrency: 6
  max_attempts: 3
  backoff_initial: 100ms
  backoff_max: 2s
rpc:
  transport: nats
  url: nats://localhost:4222
  timeout: 5s
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 || !cfg.Server.Auth.Enabled || cfg.Server.Auth.APIKey != "secret" {
		t.Fatalf("server overrides not applied: %+v", cfg.Server)
	}
	if len(cfg.Plugins) != 5 {
		t.Fatalf("expected 5 plugin patterns, got %v", cfg.Plugins)
	}
	if cfg.Service.Logger != "zerolog" {
		t.Fatalf("expected zerolog logger, got %v", cfg.Service.Logger)
	}
	engine, ok := cfg.Service.Engine.(map[string]any)
	if !ok || engine["type"] != "rmq" || engine["queue"] != "jobs" {
		t.Fatalf("expected engine map, got %#v", cfg.Service.Engine)
	}
	if len(cfg.Service.Handlers) != 2 || cfg.Service.Handlers[1] != "null" {
		t.Fatalf("unexpected handlers: %#v", cfg.Service.Handlers)
	}

	dc := cfg.Dispatcher()
	if dc.Concurrency != 6 || dc.MaxAttempts != 3 || dc.BackoffMax != 2*time.Second {
		t.Fatalf("unexpected dispatcher config: %+v", dc)
	}
	if dc.Engine == nil || len(dc.Handlers) != 2 {
		t.Fatalf("dispatcher config lost providers: %+v", dc)
	}
	if cfg.RPC.Transport != "nats" || cfg.RPC.Timeout != 5*time.Second {
		t.Fatalf("unexpected rpc config: %+v", cfg.RPC)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DISPATCH_SERVER_PORT", "7070")
	t.Setenv("DISPATCH_SERVICE_ENGINE", "memory")
	t.Setenv("DISPATCH_SERVICE_HANDLERS", "page,null")
	t.Setenv("DISPATCH_PLUGINS", "engine/memory handler/*")
	t.Setenv("DISPATCH_DISPATCH_CONCURRENCY", "3")
	t.Setenv("DISPATCH_TRACING_PROJECT_ID", "cpi-prod")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 || cfg.Dispatch.Concurrency != 3 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Service.Engine != "memory" {
		t.Fatalf("expected memory engine, got %#v", cfg.Service.Engine)
	}
	if len(cfg.Service.Handlers) != 2 || cfg.Service.Handlers[0] != "page" {
		t.Fatalf("expected two handlers, got %#v", cfg.Service.Handlers)
	}
	if len(cfg.Plugins) != 2 || cfg.Plugins[1] != "handler/*" {
		t.Fatalf("expected two plugin patterns, got %#v", cfg.Plugins)
	}
	if cfg.Tracing.ProjectID != "cpi-prod" {
		t.Fatalf("expected tracing project from env, got %q", cfg.Tracing.ProjectID)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Enabled: true, Port: 8080},
		Plugins: []string{"*"},
		RPC:     RPCConfig{Transport: "amqp", Timeout: time.Second},
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Server.Auth.Enabled = true }, "server.auth.api_key"},
		{"no plugins", func(c *Config) { c.Plugins = nil }, "plugins"},
		{"negative concurrency", func(c *Config) { c.Dispatch.Concurrency = -1 }, "concurrency"},
		{"negative attempts", func(c *Config) { c.Dispatch.MaxAttempts = -1 }, "max_attempts"},
		{"unknown transport", func(c *Config) { c.RPC.Transport = "kafka" }, "rpc.transport"},
		{"zero timeout", func(c *Config) { c.RPC.Timeout = 0 }, "rpc.timeout"},
		{"sample ratio", func(c *Config) { c.Tracing.SampleRatio = 1.5 }, "tracing.sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	disabled := base
	disabled.Server = ServerConfig{Enabled: false}
	if err := disabled.Validate(); err != nil {
		t.Fatalf("disabled server should not need a port: %v", err)
	}
}
