package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fjod/go_cart/cartsync/internal/auth"
	"github.com/fjod/go_cart/cartsync/internal/cache"
	h "github.com/fjod/go_cart/cartsync/internal/http"
	"github.com/fjod/go_cart/cartsync/internal/localcart"
	"github.com/fjod/go_cart/cartsync/internal/poller"
	"github.com/fjod/go_cart/cartsync/internal/remote"
	"github.com/fjod/go_cart/cartsync/internal/session"
	"github.com/fjod/go_cart/cartsync/internal/synchronizer"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cart API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshots, closeSnapshots, err := newSnapshotCache(ctx)
	if err != nil {
		return err
	}
	defer closeSnapshots()

	verifier, err := newVerifier(ctx)
	if err != nil {
		return err
	}

	client := remote.NewClient(cfg.Remote, log.Named("remote"))
	registry := session.NewRegistry(func(gate *auth.Gate) *synchronizer.Synchronizer {
		return synchronizer.New(localcart.New(), client.WithTokenSource(gate), gate, snapshots, cfg.Sync, log.Named("sync"))
	}, cfg.Session, log.Named("session"))
	defer func() {
		if err := registry.Close(); err != nil {
			log.Warn("closing sessions", zap.Error(err))
		}
	}()

	var wg sync.WaitGroup
	if len(cfg.Kafka.Brokers) > 0 {
		p := poller.NewPoller(registry, snapshots, log.Named("poller"), cfg.Kafka.Brokers...)
		defer p.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
		log.Info("checkout poller started", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	router := h.NewRouter(registry, verifier, cfg.HTTP.RequestTimeout, log)
	err = runServer(ctx, "cart-api", cfg.HTTP.Port, router, cfg.HTTP.ShutdownTimeout)
	stop()
	wg.Wait()
	return err
}

func newSnapshotCache(ctx context.Context) (cache.SnapshotCache, func(), error) {
	if cfg.Redis.Addr == "" {
		log.Info("redis not configured, caching snapshots in memory")
		return cache.NewMemoryCache(cfg.SnapshotTTL), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	log.Info("redis ping succeeded", zap.String("addr", cfg.Redis.Addr))
	return cache.NewRedisCache(client, cfg.SnapshotTTL), func() { _ = client.Close() }, nil
}

func newVerifier(ctx context.Context) (auth.Verifier, error) {
	if cfg.Firebase.ProjectID == "" {
		log.Warn("firebase project not configured, bearer tokens are taken as user ids")
		return auth.InsecureVerifier{}, nil
	}
	v, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID)
	if err != nil {
		return nil, err
	}
	return v, nil
}
