// Command mediactl submits generation jobs, inspects them and runs a worker
// from the shell.
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"mediagen/internal/app"
	"mediagen/internal/infra"
)

func main() {
	_ = godotenv.Load()

	root := newRootCmd(func(ctx context.Context) (*app.Components, error) {
		cfg, err := infra.LoadConfig()
		if err != nil {
			return nil, err
		}
		return app.Build(ctx, cfg, infra.NewLoggerTo(os.Stderr, cfg.AppEnv, "mediactl"))
	})
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
