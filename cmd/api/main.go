package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"mediagen/internal/app"
	"mediagen/internal/http/handlers"
	httpapi "mediagen/internal/http/httpapi"
	"mediagen/internal/infra"
)

func main() {
	// .env is optional.
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to wire components")
	}
	defer components.Close()

	handler := handlers.NewApp(components.Jobs, components.Artifacts, components.ProviderName, logger)
	router := httpapi.NewRouter(handler, httpapi.Options{
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		ServeMedia:      cfg.StorageType == infra.StorageLocal,
	})
	server := infra.NewHTTPServer(cfg, router, logger)
	if err := server.Listen(); err != nil {
		logger.Fatal().Err(err).Str("addr", server.Addr()).Msg("api: failed to bind")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Msg("api: listening")
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api: server stopped with error")
		return
	}
	logger.Info().Msg("api: server stopped")
}
