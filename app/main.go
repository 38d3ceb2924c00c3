package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/lysyi3m/rss-streams/app/activity"
	"github.com/lysyi3m/rss-streams/app/api"
	"github.com/lysyi3m/rss-streams/app/cfg"
	"github.com/lysyi3m/rss-streams/app/database"
	"github.com/lysyi3m/rss-streams/app/feed"
	"github.com/lysyi3m/rss-streams/app/ingest"
	"github.com/lysyi3m/rss-streams/app/logger"
	"github.com/lysyi3m/rss-streams/app/poller"
	"github.com/lysyi3m/rss-streams/app/pshb"
	"github.com/lysyi3m/rss-streams/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	if err := logger.Init(logger.Config{Level: appCfg.LogLevel, File: appCfg.LogFile}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(appCfg); err != nil {
		logger.Error("Server stopped with error", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *cfg.Cfg) error {
	logger.Info("Starting RSS Streams server", "version", appCfg.Version)

	db, err := database.Open(database.Options{
		Driver:   appCfg.DBDriver,
		Path:     appCfg.DBPath,
		Host:     appCfg.DBHost,
		Port:     appCfg.DBPort,
		User:     appCfg.DBUser,
		Password: appCfg.DBPassword,
		Name:     appCfg.DBName,
		SSLMode:  appCfg.DBSSLMode,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Database ready", "driver", db.Driver(), "schema_version", version, "dirty", dirty)

	streamRepo := database.NewStreamStore(db)
	itemRepo := database.NewItemStore(db)
	stateRepo := database.NewPollerStateStore(db)

	ctx := context.Background()
	if err := stateRepo.EnsurePollerState(ctx, appCfg.PollerEnabled); err != nil {
		return fmt.Errorf("failed to initialize poller state: %w", err)
	}

	seedCache := feed.NewSeedCache(appCfg.StreamsDir)
	if err := seedCache.Run(); err != nil {
		return fmt.Errorf("failed to load stream seeds: %w", err)
	}
	logger.Info("Loaded stream seeds", "count", seedCache.GetSeedCount(), "dir", appCfg.StreamsDir)

	httpClient := &http.Client{Timeout: appCfg.FetchTimeoutDuration()}
	feedParser := feed.NewParser()
	fetcher := feed.NewFetcher(httpClient, feedParser, appCfg.UserAgent, appCfg.FetchTimeoutDuration())
	finder := feed.NewFinder(httpClient, feedParser, appCfg.UserAgent, appCfg.FetchTimeoutDuration())

	activityNotifier := activity.NewNotifier(httpClient, appCfg.ActivityURL,
		appCfg.ActivityAPIKey, appCfg.ActivityAuthToken, appCfg.UserAgent, appCfg.FetchTimeoutDuration())

	scheduler := tasks.NewScheduler(seedCache, streamRepo, activityNotifier, tasks.Options{
		Interval:    appCfg.SchedulerIntervalDuration(),
		WorkerCount: appCfg.WorkerCount,
	})

	gateway := ingest.NewGateway(itemRepo, scheduler)

	pollerConfig := poller.NewConfigService(stateRepo, appCfg.PollerConfigTTLDuration())
	feedPoller := poller.New(streamRepo, stateRepo, pollerConfig, fetcher, gateway, poller.Options{
		StalenessThreshold: appCfg.StalenessThresholdDuration(),
		LeaseTTL:           appCfg.LeaseTTLDuration(),
	})
	feedPoller.SetRearmer(scheduler)

	subscriber := pshb.NewSubscriber(streamRepo, fetcher, feedParser, gateway, httpClient, pshb.Options{
		BaseURL:    appCfg.BaseUrl,
		UserAgent:  appCfg.UserAgent,
		Timeout:    appCfg.FetchTimeoutDuration(),
		MaxRetries: 3,
	})
	if appCfg.BaseUrl == "" {
		logger.Warn("BASE_URL not set, hub subscriptions are disabled")
	}

	scheduler.SetPoller(feedPoller)
	scheduler.SetSubscriber(subscriber)

	logger.Info("Starting background scheduler", "workers", appCfg.WorkerCount, "interval", appCfg.SchedulerIntervalDuration())
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(streamRepo, itemRepo, feedPoller, subscriber, finder, appCfg.Version)
	router := api.NewServer(handler, appCfg.Debug)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Received signal", "signal", sig.String())
	case runErr = <-serverErrChan:
	}

	logger.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := stateRepo.ReleaseLease(shutdownCtx); err != nil {
		logger.Warn("Failed to release poller lease", "error", err)
	}

	return runErr
}
