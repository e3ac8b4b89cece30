// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/scrape-dispatch/internal/dispatcher"
	"github.com/JakeFAU/scrape-dispatch/internal/telemetry"
	amqptransport "github.com/JakeFAU/scrape-dispatch/internal/transport/amqp"
)

// EnvPrefix prefixes environment overrides, e.g. DISPATCH_SERVER_PORT.
const EnvPrefix = "DISPATCH"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig    `mapstructure:"logging"`
	Server   ServerConfig     `mapstructure:"server"`
	Plugins  []string         `mapstructure:"plugins"`
	Service  ServiceConfig    `mapstructure:"service"`
	Dispatch DispatchConfig   `mapstructure:"dispatch"`
	RPC      RPCConfig        `mapstructure:"rpc"`
	Tracing  telemetry.Config `mapstructure:"tracing"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Enabled bool       `mapstructure:"enabled"`
	Port    int        `mapstructure:"port"`
	Auth    AuthConfig `mapstructure:"auth"`
}

// AuthConfig guards the job submission endpoint.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ServiceConfig names the providers the dispatcher is built from. Each value
// is a provider name or a map with a "type" key plus provider options.
type ServiceConfig struct {
	Logger   any   `mapstructure:"logger"`
	Engine   any   `mapstructure:"engine"`
	Handlers []any `mapstructure:"handlers"`
}

// DispatchConfig holds the dispatcher's execution knobs.
type DispatchConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// RPCConfig configures the request/reply client used by the send command.
type RPCConfig struct {
	Transport  string        `mapstructure:"transport"`
	URL        string        `mapstructure:"url"`
	ReplyQueue string        `mapstructure:"reply_queue"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	// Environment values arrive as strings; a comma list names several handlers.
	if s, ok := v.Get("service.handlers").(string); ok {
		cfg.Service.Handlers = nil
		for _, name := range splitList(s) {
			cfg.Service.Handlers = append(cfg.Service.Handlers, name)
		}
	}
	if s, ok := v.Get("plugins").(string); ok {
		cfg.Plugins = splitList(s)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.auth.enabled", false)
	v.SetDefault("server.auth.api_key", "")
	v.SetDefault("plugins", []string{"*"})
	v.SetDefault("service.logger", "")
	v.SetDefault("service.engine", "")
	v.SetDefault("service.handlers", []any{})
	v.SetDefault("dispatch.concurrency", 0)
	v.SetDefault("dispatch.max_attempts", 1)
	v.SetDefault("dispatch.backoff_initial", "250ms")
	v.SetDefault("dispatch.backoff_max", "5s")
	v.SetDefault("rpc.transport", "amqp")
	v.SetDefault("rpc.url", amqptransport.DefaultURL)
	v.SetDefault("rpc.reply_queue", "")
	v.SetDefault("rpc.timeout", "5m")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.project_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.Auth.Enabled && c.Server.Auth.APIKey == "" {
		return fmt.Errorf("server.auth.api_key must be set when auth is enabled")
	}
	if len(c.Plugins) == 0 {
		return fmt.Errorf("plugins must select at least one provider")
	}
	if err := c.Dispatcher().Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	switch c.RPC.Transport {
	case "amqp", "nats":
	default:
		return fmt.Errorf("rpc.transport must be amqp or nats, got %q", c.RPC.Transport)
	}
	if c.RPC.Timeout <= 0 {
		return errors.New("rpc.timeout must be > 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.New("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}

// Dispatcher returns the dispatcher configuration.
func (c Config) Dispatcher() dispatcher.Config {
	return dispatcher.Config{
		Logger:         c.Service.Logger,
		Engine:         c.Service.Engine,
		Handlers:       c.Service.Handlers,
		Concurrency:    c.Dispatch.Concurrency,
		MaxAttempts:    c.Dispatch.MaxAttempts,
		BackoffInitial: c.Dispatch.BackoffInitial,
		BackoffMax:     c.Dispatch.BackoffMax,
	}
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}
