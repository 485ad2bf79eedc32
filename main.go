package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"polybot/internal/affirmation"
	"polybot/internal/bot"
	"polybot/internal/certs"
	"polybot/internal/config"
	"polybot/internal/identity"
	"polybot/internal/observability"
	"polybot/internal/platform/telegram"
	"polybot/internal/reconcile"
	"polybot/internal/restart"
	"polybot/internal/server"
	"polybot/internal/weather"
	"polybot/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	observability.Init(observability.LogConfig{Level: cfg.LogLevel, Verbose: cfg.LogVerbose, File: cfg.LogFile, Format: cfg.LogFormat})
	logger := observability.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:     cfg.OTELEnabled,
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.OTELServiceName,
		Environment: cfg.OTELEnvironment,
		Insecure:    cfg.OTELInsecure,
		SampleRatio: cfg.OTELSampleRatio,
	})
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(ctx)
	}()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	tg := telegram.NewClientWithOptions(cfg.TelegramBotToken, cfg.TelegramAPIBase, httpClient)
	resolver := identity.NewHTTPResolverWithClient(cfg.IPResolverURL, httpClient)
	coord := restart.NewCoordinator()

	reconciler := reconcile.New(
		certs.NewManager(),
		webhook.NewRegistrar(tg, cfg.Port, cfg.TelegramWebhookSecret),
		coord,
		cfg.KeyPath,
		cfg.CertPath,
		metrics,
	)
	monitor := identity.NewMonitor(resolver, reconciler, cfg.PollInterval, metrics)

	dispatcher := bot.NewDispatcher(
		weather.NewOpenMeteo(cfg.WeatherGeocodeURL, cfg.WeatherForecastURL, cfg.DefaultCity, httpClient),
		bot.WithAffirmations(affirmation.NewClient(cfg.AffirmationURL, httpClient)),
		bot.WithAddresses(resolver),
	)
	srv := server.New(cfg, dispatcher, tg, coord, metrics)
	defer srv.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	if cfg.MetricsAddr != "" {
		metricsSrv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           observability.MetricsHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info(gctx, "metrics listening", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	logger.Info(ctx, "polybot started", "port", cfg.Port, "poll_interval", cfg.PollInterval.String())
	if err := g.Wait(); err != nil {
		logger.Error(ctx, "polybot stopped", "error", err.Error())
		os.Exit(1)
	}
	logger.Info(ctx, "polybot stopped")
}
