package main

import (
	"context"
	"fmt"

	"github.com/fjod/electronics-store/internal/basket"
	"github.com/fjod/electronics-store/internal/catalog"
	"github.com/fjod/electronics-store/internal/config"
	"github.com/fjod/electronics-store/internal/repository"
	"github.com/fjod/electronics-store/internal/store"
	"go.uber.org/zap"
)

// backend is one storage implementation serving every port
type backend interface {
	basket.ProductLookup
	basket.BasketStore
	catalog.ProductStore
	catalog.DealStore
}

// openStore connects the backend selected by STORE_DRIVER and prepares its
// schema. The returned close func releases the connection.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (backend, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		repo, err := repository.NewSQLiteRepository(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.RunMigrations(cfg.MigrationsPath); err != nil {
			_ = repo.Close()
			return nil, nil, err
		}
		log.Info("using sqlite store", zap.String("path", cfg.DBPath))
		return repo, func() { _ = repo.Close() }, nil

	case config.DriverPostgres:
		repo, err := repository.NewPostgresRepository(&repository.Credentials{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			DBName:   cfg.DBName,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := repo.RunMigrations(cfg.MigrationsPath); err != nil {
			_ = repo.Close()
			return nil, nil, err
		}
		log.Info("using postgres store", zap.String("host", cfg.DBHost), zap.String("db", cfg.DBName))
		return repo, func() { _ = repo.Close() }, nil

	case config.DriverMongo:
		db, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewMongoRepository(db)
		closeFn := func() { _ = repo.Close(context.Background()) }
		if err := repo.CreateIndexes(ctx); err != nil {
			closeFn()
			return nil, nil, err
		}
		log.Info("using mongo store", zap.String("db", cfg.MongoDBName))
		return repo, closeFn, nil

	case config.DriverMemory:
		log.Info("using in-memory store")
		return store.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
