package connection

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

// MongoConfig configures a MongoDB client.
type MongoConfig struct {
	URI            string        `mapstructure:"uri" json:"uri"`
	AppName        string        `mapstructure:"app_name" json:"app_name,omitempty"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
}

// Validate checks the config.
func (c MongoConfig) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("uri is required")
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect_timeout must be >= 0")
	}
	return nil
}

// NewMongoProvider returns CONNECTION/mongo, which builds *mongo.Client.
func NewMongoProvider(logger *zap.Logger) provider.Provider {
	clients := newPool[*mongo.Client]("mongo", logger.Named("connection"))
	return provider.Define(capability.CategoryConnection, "mongo",
		func(_ context.Context, _ *provider.Registry, cfg MongoConfig) (any, error) {
			return clients.get(cfg, func() (*mongo.Client, error) {
				opts := options.Client().ApplyURI(cfg.URI)
				if cfg.AppName != "" {
					opts.SetAppName(cfg.AppName)
				}
				if cfg.ConnectTimeout > 0 {
					opts.SetConnectTimeout(cfg.ConnectTimeout)
				}
				return mongo.Connect(opts)
			})
		},
		provider.WithDefaults(func() MongoConfig {
			return MongoConfig{URI: "mongodb://localhost:27017", AppName: "scrape-dispatch", ConnectTimeout: 10 * time.Second}
		}),
		provider.WithClose[MongoConfig](func(ctx context.Context) error {
			return clients.closeAll(func(c *mongo.Client) error { return c.Disconnect(ctx) })
		}),
	)
}
