package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

// Zap adapts a zap logger to capability.Logger.
type Zap struct {
	s *zap.SugaredLogger
}

// NewZap wraps logger.
func NewZap(logger *zap.Logger) *Zap {
	return &Zap{s: logger.Sugar()}
}

// Log writes at info level.
func (z *Zap) Log(msg string, kv ...any) { z.s.Infow(msg, kv...) }

// Debug writes at debug level.
func (z *Zap) Debug(msg string, kv ...any) { z.s.Debugw(msg, kv...) }

// Error writes at error level.
func (z *Zap) Error(msg string, kv ...any) { z.s.Errorw(msg, kv...) }

// Zerolog is a colored console logger with a component prefix.
type Zerolog struct {
	l zerolog.Logger
}

// ZerologConfig configures the zerolog capability logger.
type ZerologConfig struct {
	Component string `mapstructure:"component"`
	Level     string `mapstructure:"level"`
	// Timestamps adds a time column.
	Timestamps bool `mapstructure:"timestamps"`
}

// Validate checks the config.
func (c ZerologConfig) Validate() error {
	if c.Component == "" {
		return fmt.Errorf("component is required")
	}
	if _, err := zerolog.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("level: %w", err)
	}
	return nil
}

// NewZerolog writes console-formatted entries to out.
func NewZerolog(out io.Writer, cfg ZerologConfig) *Zerolog {
	writer := zerolog.ConsoleWriter{
		Out:     out,
		NoColor: true,
		FormatMessage: func(i any) string {
			return fmt.Sprintf("[%s] %s", cfg.Component, i)
		},
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Timestamps {
		writer.TimeFormat = time.DateTime
	}
	ctx := zerolog.New(writer).Level(level).With()
	if cfg.Timestamps {
		ctx = ctx.Timestamp()
	}
	return &Zerolog{l: ctx.Logger()}
}

// Log writes at info level.
func (z *Zerolog) Log(msg string, kv ...any) { z.l.Info().Fields(kv).Msg(msg) }

// Debug writes at debug level.
func (z *Zerolog) Debug(msg string, kv ...any) { z.l.Debug().Fields(kv).Msg(msg) }

// Error writes at error level.
func (z *Zerolog) Error(msg string, kv ...any) { z.l.Error().Fields(kv).Msg(msg) }

// Nop discards everything.
type Nop struct{}

// Log implements capability.Logger.
func (Nop) Log(string, ...any) {}

// Debug implements capability.Logger.
func (Nop) Debug(string, ...any) {}

// Error implements capability.Logger.
func (Nop) Error(string, ...any) {}

// Providers returns the LOGGER providers. The console logger is the default
// and writes through base.
func Providers(base *zap.Logger) []provider.Provider {
	console := NewZap(base.Named("plugin"))
	return []provider.Provider{
		provider.NewSimple(capability.CategoryLogger, provider.DefaultName, console),
		provider.NewSimple(capability.CategoryLogger, "console", console),
		provider.Define(capability.CategoryLogger, "zerolog",
			func(_ context.Context, _ *provider.Registry, cfg ZerologConfig) (any, error) {
				return NewZerolog(os.Stdout, cfg), nil
			},
			provider.WithDefaults(func() ZerologConfig {
				return ZerologConfig{Component: "dispatch", Level: "info", Timestamps: true}
			}),
		),
		provider.NewSimple(capability.CategoryLogger, "nop", Nop{}),
	}
}
