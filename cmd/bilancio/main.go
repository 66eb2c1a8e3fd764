package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"bilancio/internal/cli"
	apphttp "bilancio/internal/http"
	"bilancio/internal/log"
	"bilancio/internal/services"
	"bilancio/internal/views"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	logger.Info("Starting bilancio")

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	ledger := services.NewLedgerService(repo, cfg.DefaultCurrency)
	exporters := cli.InitExporters(context.Background(), logger, cfg)
	materializer := views.NewMaterializer(repo, views.Config{Sharded: cfg.ViewsSharded}, exporters...)

	srv := apphttp.NewServer(":"+cfg.Port, ledger, materializer, repo, apphttp.Options{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		ViewCacheTTL:       cfg.ViewCacheTTL,
		TrustedProxies:     cfg.TrustedProxies,
		Logger:             logger,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	logger.Info("HTTP server listening", "port", cfg.Port, "db", cfg.SQLiteDBPath)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
