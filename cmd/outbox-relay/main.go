// Command outbox-relay publishes recorded domain events to RabbitMQ.
package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/ponulis/Software-Design-POS-System-sub001/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return err
		}
		return appkg.RunRelay(ctx, lg, cfg)
	})
}
