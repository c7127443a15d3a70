// Package feed assembles the viewer's live feed: the viewer's and friends'
// public quotes, deduplicated and sorted newest first, kept current by one
// store subscription per chunk of author ids.
package feed

import "github.com/quotefriends/backend/internal/docstore"

// ChunkSize is the largest author chunk one subscription can watch.
const ChunkSize = docstore.MaxInValues

// Chunk splits ids into consecutive batches of at most size ids. Duplicate
// ids are collapsed first, keeping the first occurrence, so every id lands
// in exactly one chunk. Empty ids are skipped.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		panic("feed: chunk size must be positive")
	}

	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
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
		return nil
	}
	chunks := make([][]string, 0, (len(unique)+size-1)/size)
	for start := 0; start < len(unique); start += size {
		end := min(start+size, len(unique))
		chunks = append(chunks, unique[start:end:end])
	}
	return chunks
}
