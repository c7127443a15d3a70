package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quotefriends/backend/internal/config"
	"github.com/quotefriends/backend/internal/db"
	"github.com/quotefriends/backend/internal/docstore"
	"github.com/quotefriends/backend/internal/docstore/memory"
	"github.com/quotefriends/backend/internal/docstore/mongostore"
	"github.com/quotefriends/backend/internal/docstore/pgstore"
	"github.com/quotefriends/backend/internal/feed"
	"github.com/quotefriends/backend/internal/handlers"
	"github.com/quotefriends/backend/internal/likes"
	"github.com/quotefriends/backend/internal/metrics"
	"github.com/quotefriends/backend/internal/profiles"
	"github.com/quotefriends/backend/internal/quotes"
	"github.com/quotefriends/backend/internal/relationships"
	"github.com/quotefriends/backend/internal/storage"
)

const metricsNamespace = "quotefriends"

// backend is an opened document store with its health check and cleanup.
type backend struct {
	store  docstore.Store
	checks map[string]handlers.HealthCheck
	close  func(ctx context.Context) error
}

// openStore connects the backend selected by cfg.Store.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	switch cfg.Store {
	case config.StorePostgres:
		timeout := cfg.DBConnectTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		connectCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		pool, err := db.Connect(connectCtx, cfg.DatabaseURL, db.Options{
			MaxConns:       int32(cfg.DBMaxConns),
			ConnectTimeout: cfg.DBConnectTimeout,
		})
		if err != nil {
			return backend{}, err
		}
		store := pgstore.New(pool, pgstore.Options{PollInterval: cfg.PollInterval, Logger: logger})
		return backend{
			store:  store,
			checks: map[string]handlers.HealthCheck{"store": pool.Ping},
			close: func(context.Context) error {
				pool.Close()
				return nil
			},
		}, nil
	case config.StoreMongo:
		client, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoConnectTimeout)
		if err != nil {
			return backend{}, err
		}
		store := mongostore.New(client, cfg.MongoDatabase, logger)
		return backend{
			store:  store,
			checks: map[string]handlers.HealthCheck{"store": store.Ping},
			close:  store.Close,
		}, nil
	case config.StoreMemory:
		logger.Warn("using the in-memory store; data is lost on exit")
		return backend{
			store: memory.New(),
			close: func(context.Context) error { return nil },
		}, nil
	default:
		return backend{}, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// services holds the engine components shared by every entry point.
type services struct {
	store         docstore.Store
	metrics       *metrics.Collector
	profiles      *profiles.Service
	relationships *relationships.Service
	quotes        *quotes.Service
	likes         *likes.Registry
	directory     *profiles.Directory
	hub           *feed.Hub
	avatars       storage.AvatarResolver
}

// buildDependencies wires the engine over base. Writes go through the
// resilience decorator configured from cfg.
func buildDependencies(ctx context.Context, base docstore.Store, cfg config.Config, logger *slog.Logger) (services, error) {
	resilience := docstore.DefaultResilienceConfig()
	resilience.ReadTimeout = cfg.StoreReadTimeout
	resilience.WriteTimeout = cfg.StoreWriteTimeout
	resilience.Retries = cfg.StoreRetries
	store := docstore.NewResilientStore(base, resilience, logger)

	var avatars storage.AvatarResolver = storage.Passthrough{}
	if cfg.AvatarBucket != "" {
		s3Avatars, err := storage.NewS3Avatars(ctx, storage.ObjectStoreConfig{
			Bucket:        cfg.AvatarBucket,
			Region:        cfg.AvatarRegion,
			Endpoint:      cfg.AvatarEndpoint,
			PublicBaseURL: cfg.AvatarPublicBaseURL,
			URLExpiry:     cfg.AvatarURLExpiry,
		})
		if err != nil {
			return services{}, fmt.Errorf("configure avatar storage: %w", err)
		}
		avatars = s3Avatars
	}

	collector := metrics.New(metricsNamespace)
	users := profiles.NewService(store, profiles.LogVerifier{Logger: logger})

	return services{
		store:         store,
		metrics:       collector,
		profiles:      users,
		relationships: relationships.NewService(store, users, collector),
		quotes:        quotes.NewService(store, collector),
		likes: likes.NewRegistry(store, likes.Options{
			Users:      users,
			Metrics:    collector,
			OverlayTTL: cfg.LikeOverlay,
		}),
		directory: profiles.NewDirectory(users, profiles.DirectoryOptions{
			TTL:     cfg.DirectoryTTL,
			Avatars: avatars,
			Metrics: collector,
			Logger:  logger,
		}),
		hub:     feed.NewHub(),
		avatars: avatars,
	}, nil
}

// handlerDependencies exposes svc to the HTTP layer.
func handlerDependencies(svc services, checks map[string]handlers.HealthCheck, keepAlive time.Duration, done <-chan struct{}) handlers.Dependencies {
	return handlers.Dependencies{
		Store:         svc.store,
		Quotes:        svc.quotes,
		Relationships: svc.relationships,
		Profiles:      svc.profiles,
		Likes:         svc.likes,
		Authors:       svc.directory,
		Hub:           svc.hub,
		Metrics:       svc.metrics,
		HealthChecks:  checks,
		KeepAlive:     keepAlive,
		Done:          done,
	}
}
