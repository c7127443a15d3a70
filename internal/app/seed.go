package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/quotefriends/backend/internal/config"
	"github.com/quotefriends/backend/internal/logging"
	"github.com/quotefriends/backend/internal/profiles"
	"github.com/quotefriends/backend/internal/quotes"
	"github.com/quotefriends/backend/internal/relationships"
)

type seedUser struct {
	id       string
	username string
	bio      string
	quotes   []string
}

var devSeed = []seedUser{
	{id: "seed-ada", username: "Ada Lovelace", bio: "Poet of numbers", quotes: []string{
		"The more I study, the more insatiable do I feel my genius for it to be.",
	}},
	{id: "seed-grace", username: "Grace Hopper", bio: "Ships are safe in harbor", quotes: []string{
		"It's easier to ask forgiveness than it is to get permission.",
		"The most dangerous phrase in the language is: we've always done it this way.",
	}},
	{id: "seed-alan", username: "Alan Turing", bio: "Imitation games", quotes: []string{
		"We can only see a short distance ahead, but we can see plenty there that needs to be done.",
	}},
	{id: "seed-edsger", username: "Edsger Dijkstra", bio: "Goto considered harmful", quotes: []string{
		"Simplicity is prerequisite for reliability.",
	}},
}

// devFriendships are accepted pairs; devRequests stay pending.
var (
	devFriendships = [][2]string{{"seed-ada", "seed-grace"}, {"seed-ada", "seed-alan"}}
	devRequests    = [][2]string{{"seed-edsger", "seed-ada"}}
)

func runSeed(ctx context.Context, args []string) error {
	name := "dev"
	if len(args) > 0 {
		name = args[0]
	}
	if name != "dev" {
		return fmt.Errorf("unknown seed %q", name)
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
	if err := seedData(ctx, svc, stdout); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "applied seed %s\n", name)
	return nil
}

// seedData creates sample profiles, friendships and quotes. Running it again
// leaves existing data in place.
func seedData(ctx context.Context, svc services, out io.Writer) error {
	for _, u := range devSeed {
		_, err := svc.profiles.CreateProfile(ctx, u.id, profiles.CreateInput{Username: u.username, Bio: u.bio})
		switch {
		case err == nil:
			fmt.Fprintf(out, "created profile %s\n", u.id)
		case errors.Is(err, profiles.ErrProfileExists):
		default:
			return fmt.Errorf("seed profile %s: %w", u.id, err)
		}
	}

	for _, pair := range devFriendships {
		if err := svc.relationships.SendRequest(ctx, pair[0], pair[1]); err != nil {
			return fmt.Errorf("seed friendship %s/%s: %w", pair[0], pair[1], err)
		}
		err := svc.relationships.AcceptRequest(ctx, pair[1], pair[0])
		if err != nil && !errors.Is(err, relationships.ErrNoPendingRequest) {
			return fmt.Errorf("seed friendship %s/%s: %w", pair[0], pair[1], err)
		}
	}
	for _, pair := range devRequests {
		if err := svc.relationships.SendRequest(ctx, pair[0], pair[1]); err != nil {
			return fmt.Errorf("seed request %s/%s: %w", pair[0], pair[1], err)
		}
	}

	for _, u := range devSeed {
		existing, err := svc.quotes.ListByAuthor(ctx, u.id, u.id)
		if err != nil {
			return fmt.Errorf("seed quotes for %s: %w", u.id, err)
		}
		if len(existing) > 0 {
			continue
		}
		for _, text := range u.quotes {
			if _, err := svc.quotes.Create(ctx, u.id, quotes.CreateInput{Text: text}); err != nil {
				return fmt.Errorf("seed quote for %s: %w", u.id, err)
			}
		}
		fmt.Fprintf(out, "created %d quotes for %s\n", len(u.quotes), u.id)
	}
	return nil
}
