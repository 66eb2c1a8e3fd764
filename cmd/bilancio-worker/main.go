package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/cli"
	"bilancio/internal/importer"
	"bilancio/internal/log"
	"bilancio/internal/notify"
	"bilancio/internal/services"
	"bilancio/internal/views"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	logger.Info("Starting bilancio-worker")

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	exporters := cli.InitExporters(context.Background(), logger, cfg)
	materializer := views.NewMaterializer(repo, views.Config{Sharded: cfg.ViewsSharded}, exporters...)

	msgs := make(chan notify.Message, 16)

	// With AMQP the listener publishes to the exchange and the worker reads
	// back from its queue; otherwise messages stay in process.
	var (
		sink       notify.Sink = notify.ChannelSink(msgs)
		amqpClient *amqp.Client
	)
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		sink = amqpClient
		logger.Info("AMQP transport enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - delivering notifications in process")
	}

	listener := notify.NewListener(repo, sink, notify.ListenerConfig{
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.PollBatchSize,
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := listener.Stop(shutdownCtx); err != nil {
			logger.Error("Listener shutdown error", "error", err)
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown error", "error", err)
		}
	})

	if err := listener.Start(ctx); err != nil {
		logger.Error("Failed to start notification listener", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		materializer.Run(gctx, msgs)
		return nil
	})
	if amqpClient != nil {
		g.Go(func() error {
			if err := amqpClient.Consume(gctx, msgs); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if cfg.InboxDir != "" {
		ledger := services.NewLedgerService(repo, cfg.DefaultCurrency)
		inbox := importer.NewInbox(cfg.InboxDir, importer.New(ledger, logger))
		g.Go(func() error { return inbox.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info("Metrics server listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker failed", "error", err)
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
