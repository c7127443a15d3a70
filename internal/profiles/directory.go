package profiles

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quotefriends/backend/internal/metrics"
	"github.com/quotefriends/backend/internal/models"
	"github.com/quotefriends/backend/internal/storage"
)

// DefaultDirectoryTTL is how long resolved authors stay cached.
const DefaultDirectoryTTL = time.Minute

// UserLookup loads profiles by id.
type UserLookup interface {
	Lookup(ctx context.Context, ids []string) ([]models.User, error)
}

type directoryEntry struct {
	author  models.Author
	expires time.Time
}

// DirectoryOptions configure a Directory.
type DirectoryOptions struct {
	TTL     time.Duration
	Avatars storage.AvatarResolver
	Metrics *metrics.Collector
	Logger  *slog.Logger
	Now     func() time.Time
}

// Directory resolves author display data for feed items. Entries are cached
// for a TTL and concurrent misses for the same ids share one lookup.
type Directory struct {
	users UserLookup
	opts  DirectoryOptions

	group singleflight.Group

	mu    sync.RWMutex
	items map[string]directoryEntry
}

// NewDirectory wraps users with a TTL cache.
func NewDirectory(users UserLookup, opts DirectoryOptions) *Directory {
	if opts.TTL <= 0 {
		opts.TTL = DefaultDirectoryTTL
	}
	if opts.Avatars == nil {
		opts.Avatars = storage.Passthrough{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Directory{users: users, opts: opts, items: make(map[string]directoryEntry)}
}

// Authors returns display data for ids. Ids without a profile map to an
// Author carrying only the id.
func (d *Directory) Authors(ctx context.Context, ids []string) (map[string]models.Author, error) {
	now := d.opts.Now()
	out := make(map[string]models.Author, len(ids))
	var missing []string

	d.mu.RLock()
	for _, id := range ids {
		if _, dup := out[id]; dup {
			continue
		}
		if entry, ok := d.items[id]; ok && now.Before(entry.expires) {
			out[id] = entry.author
			d.opts.Metrics.CacheLookup(true)
			continue
		}
		out[id] = models.Author{ID: id}
		missing = append(missing, id)
	}
	d.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}
	for range missing {
		d.opts.Metrics.CacheLookup(false)
	}

	sort.Strings(missing)
	v, err, _ := d.group.Do(strings.Join(missing, ","), func() (any, error) {
		return d.fetch(ctx, missing)
	})
	if err != nil {
		return out, err
	}
	for id, author := range v.(map[string]models.Author) {
		out[id] = author
	}
	return out, nil
}

// Invalidate drops the cached entry for id, for example after a profile edit.
func (d *Directory) Invalidate(id string) {
	d.mu.Lock()
	delete(d.items, id)
	d.mu.Unlock()
}

func (d *Directory) fetch(ctx context.Context, ids []string) (map[string]models.Author, error) {
	users, err := d.users.Lookup(ctx, ids)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]models.Author, len(ids))
	for _, id := range ids {
		resolved[id] = models.Author{ID: id}
	}
	for _, u := range users {
		author := models.Author{ID: u.ID, Username: u.Username, ProfilePic: u.ProfilePic}
		if u.ProfilePic != "" {
			url, err := d.opts.Avatars.AvatarURL(ctx, u.ProfilePic)
			if err != nil {
				d.opts.Logger.Warn("avatar resolution failed", "userId", u.ID, "error", err)
			} else {
				author.AvatarURL = url
			}
		}
		resolved[u.ID] = author
	}

	expires := d.opts.Now().Add(d.opts.TTL)
	d.mu.Lock()
	for id, author := range resolved {
		d.items[id] = directoryEntry{author: author, expires: expires}
	}
	d.mu.Unlock()
	return resolved, nil
}
