package app

import (
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/collector/batch"
	"github.com/JakeFAU/scrape-dispatch/internal/collector/console"
	filecollector "github.com/JakeFAU/scrape-dispatch/internal/collector/file"
	gcscollector "github.com/JakeFAU/scrape-dispatch/internal/collector/gcs"
	"github.com/JakeFAU/scrape-dispatch/internal/collector/group"
	memorycollector "github.com/JakeFAU/scrape-dispatch/internal/collector/memory"
	mongocollector "github.com/JakeFAU/scrape-dispatch/internal/collector/mongo"
	pgcollector "github.com/JakeFAU/scrape-dispatch/internal/collector/postgres"
	pubsubcollector "github.com/JakeFAU/scrape-dispatch/internal/collector/pubsub"
	"github.com/JakeFAU/scrape-dispatch/internal/connection"
	"github.com/JakeFAU/scrape-dispatch/internal/engine"
	memoryengine "github.com/JakeFAU/scrape-dispatch/internal/engine/memory"
	natsengine "github.com/JakeFAU/scrape-dispatch/internal/engine/nats"
	pubsubengine "github.com/JakeFAU/scrape-dispatch/internal/engine/pubsub"
	"github.com/JakeFAU/scrape-dispatch/internal/engine/rmq"
	"github.com/JakeFAU/scrape-dispatch/internal/handler/null"
	"github.com/JakeFAU/scrape-dispatch/internal/handler/page"
	"github.com/JakeFAU/scrape-dispatch/internal/logging"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
	memorystore "github.com/JakeFAU/scrape-dispatch/internal/store/memory"
	pgstore "github.com/JakeFAU/scrape-dispatch/internal/store/postgres"
	redisstore "github.com/JakeFAU/scrape-dispatch/internal/store/redis"
)

// Catalog lists every builtin provider. Within a category the first entry is
// the default used when configuration names none.
func Catalog(logger *zap.Logger) []provider.Provider {
	var out []provider.Provider
	out = append(out, logging.Providers(logger)...)
	out = append(out, connection.Providers(logger)...)
	out = append(out,
		memorystore.NewProvider(),
		redisstore.NewProvider(logger),
		pgstore.NewProvider(logger),

		console.NewProvider(),
		memorycollector.NewProvider(),
		group.NewProvider(),
		batch.NewProvider(logger),
		mongocollector.NewProvider(logger),
		pgcollector.NewProvider(logger),
		pubsubcollector.NewProvider(logger),
		gcscollector.NewProvider(logger),
		filecollector.NewProvider(logger),

		memoryengine.NewProvider(logger),
		rmq.NewProvider(logger),
		natsengine.NewProvider(logger),
		pubsubengine.NewProvider(logger),
		provider.NewSimple(capability.CategoryEngine, "null", engine.Null{}),

		page.NewProvider(logger),
		null.NewProvider(),
	)
	return out
}
