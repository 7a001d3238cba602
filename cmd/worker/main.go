package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"mediagen/internal/app"
	"mediagen/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to wire components")
	}
	defer components.Close()

	engine, err := components.Engine()
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to build engine")
	}
	if err := engine.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker: stopped with error")
		return
	}
	logger.Info().Msg("worker: stopped")
}
