package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackmichael/bluesky-appview/internal/api"
	"github.com/blackmichael/bluesky-appview/internal/cache"
	"github.com/blackmichael/bluesky-appview/internal/config"
	"github.com/blackmichael/bluesky-appview/internal/dataplane"
	"github.com/blackmichael/bluesky-appview/internal/firehose"
	"github.com/blackmichael/bluesky-appview/internal/httpserver"
	"github.com/blackmichael/bluesky-appview/internal/hydration"
	"github.com/blackmichael/bluesky-appview/internal/indexer"
	"github.com/blackmichael/bluesky-appview/internal/postgres"
	"github.com/blackmichael/bluesky-appview/internal/views"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Either a remote data plane or the local repository answers reads.
	var (
		dp   dataplane.Client
		repo *postgres.Repository
	)
	if cfg.DataplaneURL != "" {
		dp = dataplane.NewRemote(cfg.DataplaneURL)
		logger.Info("using remote data plane", "url", cfg.DataplaneURL)
	} else {
		repo, err = postgres.NewRepository(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("create repository: %w", err)
		}
		defer repo.Close()
		if err := repo.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		dp = repo
		logger.Info("connected to database")
	}

	store, err := openCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	if store != nil {
		defer store.Close()
		dp = dataplane.NewCached(dp, store, dataplane.WithTTL(cfg.CacheTTL), dataplane.WithLogger(logger))
	}

	var feeds []string
	if cfg.IndexerEnabled {
		ix, err := indexer.New(indexer.DefaultFeedConfigs(cfg.PublisherDID), repo, repo, logger)
		if err != nil {
			return fmt.Errorf("create indexer: %w", err)
		}
		feeds = ix.FeedURIs()

		subscriber := firehose.NewSubscriber(cfg.FirehoseURL, indexer.WantedCollections(), ix, logger)
		go func() {
			if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("firehose subscriber exited with error", "error", err)
			}
		}()

		go ix.StartPruneJob(ctx, time.Minute, 7*24*time.Hour, 500)
	}

	hydrator := hydration.New(dp,
		hydration.WithBestEffortTimeout(cfg.BestEffortTimeout),
		hydration.WithServiceLabelers(cfg.ServiceLabelers),
		hydration.WithLogger(logger),
	)
	v := views.New(views.WithImageCDN(cfg.ImageCDN), views.WithVideoCDN(cfg.VideoCDN))
	appview := api.New(hydrator, v, dp, api.Config{
		ServiceDID:     cfg.ServiceDID(),
		Feeds:          feeds,
		BigThreads:     cfg.BigThreadURIs,
		BigThreadDepth: cfg.BigThreadDepth,
	}, logger)

	var opts []httpserver.Option
	if cfg.ServeDataplane && repo != nil {
		opts = append(opts, httpserver.WithDataplane(dataplane.NewHandler(repo, logger)))
	}

	server := httpserver.NewServer(cfg, appview.Routes(), logger, opts...)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port, "hostname", cfg.Hostname, "methods", len(appview.Methods()))

	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}

// openCache returns the configured cache, or nil when caching is off.
func openCache(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	if cfg.RedisURL != "" {
		return cache.NewRedis(ctx, cfg.RedisURL, "appview:")
	}
	if cfg.CacheSize > 0 {
		return cache.NewMemory(cfg.CacheSize)
	}
	return nil, nil
}
