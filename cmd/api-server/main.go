// Command api-server runs the storefront checkout API.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	storefront "github.com/xenking/storefront-checkout/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, t *app.Telemetry) error {
		cfg, err := storefront.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "load config")
		}
		lg.Info("Starting storefront",
			zap.String("addr", cfg.Addr),
			zap.Bool("events", len(cfg.Kafka.Brokers) > 0),
			zap.Bool("dedupe", cfg.Redis.Addr != ""),
		)
		return storefront.Run(ctx, lg, t, cfg)
	})
}
