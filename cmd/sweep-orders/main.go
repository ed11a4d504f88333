// Command sweep-orders runs one abandoned-order sweep and exits. It is meant
// for cron jobs in deployments that disable the in-process reaper.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	appkg "github.com/xenking/bakery-inventory/internal/app"
)

func main() {
	_ = godotenv.Load()

	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return err
		}
		res, err := appkg.Sweep(ctx, lg, m, cfg)
		if err != nil {
			return err
		}
		if len(res.Errors) > 0 {
			return errors.Errorf("sweep finished with %d errors", len(res.Errors))
		}
		return nil
	})
}
