package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/quotefriends/backend/internal/config"
	"github.com/quotefriends/backend/internal/db"
	"github.com/quotefriends/backend/internal/docstore/pgstore"
	"github.com/quotefriends/backend/internal/handlers"
	"github.com/quotefriends/backend/internal/httpserver"
	"github.com/quotefriends/backend/internal/logging"
	"github.com/quotefriends/backend/internal/middleware"
)

// stdout receives command output; tests replace it.
var stdout io.Writer = os.Stdout

// Run bootstraps the QuoteFriends backend application.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: serve, migrate, watch, or seed")
	}

	switch args[0] {
	case "serve":
		return serve(ctx)
	case "migrate":
		return runMigrations(ctx, args[1:])
	case "watch":
		return runWatch(ctx, args[1:])
	case "seed":
		return runSeed(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	be, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend(be, cfg, logger)

	svc, err := buildDependencies(ctx, be.store, cfg, logger)
	if err != nil {
		return err
	}

	streamsDone := make(chan struct{})
	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, handlerDependencies(svc, be.checks, 0, streamsDone))

	limiter := middleware.NewKeyRateLimiter(cfg.WriteRateLimit, cfg.WriteRateBurst, 0)
	handler := middleware.Chain(mux,
		middleware.Viewer,
		middleware.RequestLogger(logger, svc.metrics),
		middleware.LimitWrites(limiter),
	)

	srv := httpserver.New(cfg.AppPort, handler, httpserver.Options{
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	})
	srv.RegisterOnShutdown(func() { close(streamsDone) })

	logger.Info("starting http server", "port", cfg.AppPort, "store", cfg.Store)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	case sig := <-signalCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-srvErr:
		if err != nil {
			return err
		}
	}

	return httpserver.ShutdownWithTimeout(srv, cfg.ShutdownTimeout)
}

func closeBackend(be backend, cfg config.Config, logger *slog.Logger) {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = httpserver.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := be.close(ctx); err != nil {
		logger.Warn("close store", "error", err)
	}
}

func runMigrations(ctx context.Context, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel)

	command := "up"
	if len(args) > 0 {
		command = args[0]
	}
	if command != "up" && command != "status" {
		return fmt.Errorf("unknown migrate command %q", command)
	}
	if cfg.Store != config.StorePostgres {
		fmt.Fprintf(stdout, "store %s has no schema to migrate\n", cfg.Store)
		return nil
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.Options{
		MaxConns:       int32(cfg.DBMaxConns),
		ConnectTimeout: cfg.DBConnectTimeout,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	if command == "status" {
		statuses, err := pgstore.Status(ctx, pool)
		if err != nil {
			return err
		}
		printMigrationStatus(stdout, statuses)
		return nil
	}

	applied, err := pgstore.Migrate(ctx, pool, logger)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(stdout, "no migrations to apply")
		return nil
	}
	for _, name := range applied {
		fmt.Fprintf(stdout, "applied migration %s\n", name)
	}
	return nil
}

func printMigrationStatus(w io.Writer, statuses []pgstore.MigrationStatus) {
	for _, st := range statuses {
		mark := " "
		if st.Applied {
			mark = "x"
		}
		fmt.Fprintf(w, "[%s] %s\n", mark, st.Name)
	}
}
