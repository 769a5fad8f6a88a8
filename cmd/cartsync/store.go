package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fjod/go_cart/cartsync/internal/catalog"
	"github.com/fjod/go_cart/cartsync/internal/config"
	"github.com/fjod/go_cart/cartsync/internal/store"
	"github.com/fjod/go_cart/cartsync/internal/storeapi"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Run the reference remote cart store",
	RunE:  runStore,
}

func runStore(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records, err := openRecordStore(ctx)
	if err != nil {
		return err
	}
	defer records.Close()

	products := catalog.Empty()
	if cfg.CatalogPath != "" {
		if products, err = catalog.Load(cfg.CatalogPath); err != nil {
			return err
		}
		log.Info("catalog loaded", zap.Int("products", products.Len()))
	}

	verifier, err := newVerifier(ctx)
	if err != nil {
		return err
	}

	carts := storeapi.NewCartsHandler(records, products, verifier, log.Named("carts"))
	return runServer(ctx, "cart-store", cfg.HTTP.StorePort, storeapi.NewRouter(carts, log), cfg.HTTP.ShutdownTimeout)
}

func openRecordStore(ctx context.Context) (store.RecordStore, error) {
	switch cfg.Store.Driver {
	case config.DriverMongo:
		db, err := store.ConnectMongoDB(ctx, cfg.Store.MongoURI, cfg.Store.MongoDB)
		if err != nil {
			return nil, err
		}
		s := store.NewMongoStore(db)
		if err := s.CreateIndexes(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		log.Info("connected to MongoDB", zap.String("db", cfg.Store.MongoDB))
		return s, nil
	case config.DriverPostgres:
		s, err := store.NewPostgresStore(ctx, cfg.Store.Postgres)
		if err != nil {
			return nil, err
		}
		if err := s.RunMigrations(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("connected to PostgreSQL", zap.String("host", cfg.Store.Postgres.Host))
		return s, nil
	case config.DriverSQLite:
		s, err := store.NewSQLiteStore(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := s.RunMigrations(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("opened SQLite database", zap.String("path", cfg.Store.SQLitePath))
		return s, nil
	default:
		return store.NewMemoryStore(), nil
	}
}
