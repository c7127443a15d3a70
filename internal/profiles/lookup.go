package profiles

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quotefriends/backend/internal/docstore"
	"github.com/quotefriends/backend/internal/models"
)

// lookupParallelism bounds concurrent chunk queries per Lookup.
const lookupParallelism = 4

// Lookup loads the profiles of ids in one query per chunk of at most
// docstore.MaxInValues ids. Results follow the order of ids; ids without a
// profile are skipped.
func (s *Service) Lookup(ctx context.Context, ids []string) ([]models.User, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return []models.User{}, nil
	}

	var (
		mu    sync.Mutex
		found = make(map[string]models.User, len(unique))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupParallelism)
	for chunk := range slices.Chunk(unique, docstore.MaxInValues) {
		g.Go(func() error {
			docs, err := s.store.Query(gctx, docstore.Where(docstore.CollectionUsers, docstore.In(docstore.FieldID, chunk...)))
			if err != nil {
				return fmt.Errorf("lookup users: %w", err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, doc := range docs {
				found[doc.ID] = models.UserFromDocument(doc)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.User, 0, len(found))
	for _, id := range unique {
		if u, ok := found[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}
