package docstore

import (
	"encoding/json"
	"hash/fnv"
	"sort"
	"strconv"
	"time"
)

// Tracker turns successive full query results into subscription snapshots.
// It reports whether anything changed since the previous delivery and which
// ids left the result set. Store implementations keep one per subscription.
type Tracker struct {
	primed   bool
	versions map[string]uint64
}

// Next compares docs with the previously delivered result. The first call
// always produces a snapshot, even an empty one.
func (t *Tracker) Next(docs []Document) (Snapshot, bool) {
	next := make(map[string]uint64, len(docs))
	changed := !t.primed || len(docs) != len(t.versions)
	for _, doc := range docs {
		fp := Fingerprint(doc)
		next[doc.ID] = fp
		if prev, ok := t.versions[doc.ID]; !ok || prev != fp {
			changed = true
		}
	}

	var removed []string
	for id := range t.versions {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)

	t.primed = true
	t.versions = next
	if !changed {
		return Snapshot{}, false
	}

	out := make([]Document, len(docs))
	for i := range docs {
		out[i] = docs[i].Clone()
	}
	SortByID(out)
	return Snapshot{Docs: out, Removed: removed}, true
}

// Fingerprint hashes a document's content so unchanged results are not redelivered.
func Fingerprint(doc Document) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(doc.ID))
	keys := make([]string, 0, len(doc.Fields))
	for k := range doc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(fingerprintValue(doc.Fields[k]))
	}
	return h.Sum64()
}

func fingerprintValue(v any) []byte {
	switch t := v.(type) {
	case time.Time:
		return []byte(strconv.FormatInt(t.UnixNano(), 10))
	case string:
		return []byte(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
