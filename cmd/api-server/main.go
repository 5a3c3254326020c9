// Command api-server runs the gallery order-fulfillment HTTP API.
package main

import (
	"context"

	sdkapp "github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/gallery-orders/internal/app"
)

func main() {
	sdkapp.Run(func(ctx context.Context, lg *zap.Logger, t *sdkapp.Telemetry) error {
		cfg, err := app.LoadConfig()
		if err != nil {
			return err
		}
		return app.Run(ctx, lg, t, cfg)
	})
}
