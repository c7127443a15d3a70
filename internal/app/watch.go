package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quotefriends/backend/internal/config"
	"github.com/quotefriends/backend/internal/feed"
	"github.com/quotefriends/backend/internal/identity"
	"github.com/quotefriends/backend/internal/logging"
	"github.com/quotefriends/backend/internal/models"
)

func runWatch(ctx context.Context, args []string) error {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return errors.New("expected viewer id: watch <viewer-id>")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend(be, cfg, logger)

	svc, err := buildDependencies(ctx, be.store, cfg, logger)
	if err != nil {
		return err
	}
	return watchFeed(ctx, svc, strings.TrimSpace(args[0]), stdout, logger)
}

// watchFeed prints every render pass of viewerID's feed until ctx ends.
func watchFeed(ctx context.Context, svc services, viewerID string, out io.Writer, logger *slog.Logger) error {
	coordinator := svc.likes.ForViewer(viewerID)
	defer svc.likes.Forget(viewerID)

	agg := feed.New(feed.Options{
		Store:    svc.store,
		Identity: identity.Static{ID: viewerID},
		Authors:  svc.directory,
		Likes:    coordinator,
		OnChange: func(items []models.FeedItem) {
			printFeed(out, items)
		},
		OnError: func(err error) {
			logger.Warn("feed subscription fault", "error", err)
		},
		Logger:  logger,
		Metrics: svc.metrics,
	})
	defer agg.Close()

	if err := agg.Start(ctx); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}
	<-ctx.Done()
	return nil
}

func printFeed(w io.Writer, items []models.FeedItem) {
	fmt.Fprintf(w, "--- %d quotes ---\n", len(items))
	for _, item := range items {
		author := item.Author.Username
		if author == "" {
			author = item.AuthorID
		}
		liked := " "
		if item.Liked {
			liked = "*"
		}
		pending := ""
		if item.Pending {
			pending = " (pending)"
		}
		fmt.Fprintf(w, "%s %s @%s: %s [likes=%d]%s\n",
			liked, item.CreatedAt.Format(time.DateTime), author, item.Text, item.Likes, pending)
	}
}
