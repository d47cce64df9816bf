package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"stashbot/internal/config"
	"stashbot/internal/dedup"
	"stashbot/internal/events"
	"stashbot/internal/metrics"
	"stashbot/internal/pipeline"
	"stashbot/internal/queue"
	"stashbot/internal/retry"
	"stashbot/internal/server"
	"stashbot/internal/util"
	"stashbot/pkg/chat"
	"stashbot/pkg/classify"
	"stashbot/pkg/storage"
	"stashbot/pkg/store"
	"stashbot/pkg/vision"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.InitLogger(cfg.LogLevel)

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	dedupWindow := time.Duration(cfg.DedupWindowSeconds) * time.Second
	var deduper dedup.Deduper
	if cfg.RedisAddr != "" {
		deduper, err = dedup.NewRedisDeduper(cfg.RedisAddr, cfg.RedisPassword, "", dedupWindow)
	} else {
		slog.Warn("no redis configured, event dedup is in-memory only")
		deduper, err = dedup.NewMemoryDeduper(dedupWindow)
	}
	if err != nil {
		log.Fatalf("failed to init deduper: %v", err)
	}

	overlay, err := classify.LoadOverlay(cfg.OverlayPath)
	if err != nil {
		log.Fatalf("failed to load rule overlay: %v", err)
	}
	if overlay != nil {
		slog.Info("learned rule overlay loaded", "version", overlay.Version, "categories", len(overlay.Categories))
	}
	scorer := classify.NewScorer(classify.Merge(classify.StaticRules(), overlay), overlay)

	objects, err := storage.NewMinioStore(cfg.StorageEndpoint, cfg.StorageAccessKey,
		cfg.StorageSecretKey, cfg.StorageBucket, cfg.StorageUseSSL)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}
	chatClient := chat.NewClient(cfg.ChatAPIURL, cfg.ChatBotToken)
	analyzer := vision.NewClient(cfg.VisionAPIURL, cfg.VisionAPIKey)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := queue.New(context.Background(), cfg.QueueConcurrency)
	if err != nil {
		log.Fatalf("failed to init worker pool: %v", err)
	}
	retrier, err := retry.New(st, time.Duration(cfg.RetryBaseDelayMillis)*time.Millisecond, cfg.RetryMaxAttempts)
	if err != nil {
		log.Fatalf("failed to init retry controller: %v", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	metrics.RegisterQueueGauges(registry,
		func() int { return pool.Stats().Queued },
		func() int { return pool.Stats().Running },
	)

	orch := pipeline.New(
		pipeline.Config{
			MaxFileSize:  cfg.MaxFileSizeBytes,
			AllowedMimes: config.SplitList(cfg.AllowedMimePrefixes),
			AllowedUsers: config.SplitList(cfg.AllowedUsers),
		},
		st, deduper, pool, retrier,
		chatClient, chatClient, analyzer, objects,
		scorer, m,
	)

	httpServer, err := server.New(server.Config{
		Pipeline:                 orch,
		Store:                    st,
		Pool:                     pool,
		Registry:                 registry,
		InternalJWTPublicKeyPath: cfg.InternalJWTPublicKeyPath,
		AllowedIssuers:           config.SplitList(cfg.InternalJWTIssuers),
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("stashbot listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.AMQPURL != "" {
		consumer, err := events.NewConsumer(cfg.AMQPURL, cfg.AMQPQueue, orch.HandleEvent)
		if err != nil {
			log.Fatalf("failed to init amqp consumer: %v", err)
		}
		group.Go(func() error {
			err := consumer.RunWithReconnect(gctx, 5*time.Second)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	group.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown", "err", err)
		}
		if !pool.DrainAndStop(time.Duration(cfg.DrainTimeoutSeconds) * time.Second) {
			slog.Warn("worker pool did not drain before timeout")
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		slog.Error("service exited", "err", err)
	}
}
