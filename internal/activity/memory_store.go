package activity

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
)

// MemoryStore implements Store using in-memory slices. Entries are lost on
// restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	seen    map[string]struct{}
}

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]struct{})}
}

func entryKey(e Entry) string {
	return e.ProjectID + "\x00" + e.EventID + "\x00" + e.EntityKind + "\x00" + e.EntityID
}

func (s *MemoryStore) WriteEntries(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		k := entryKey(e)
		if _, dup := s.seen[k]; dup {
			continue
		}
		s.seen[k] = struct{}{}
		s.entries = append(s.entries, e)
	}
	return nil
}

func (s *MemoryStore) QueryByProject(_ context.Context, projectID string, opts QueryOptions) ([]Entry, string, int, error) {
	cursor, hasCursor, err := parseCursor(opts.Cursor)
	if err != nil {
		return nil, "", 0, err
	}

	s.mu.RLock()
	var matched []Entry
	for _, e := range slices.Backward(s.entries) {
		if e.ProjectID != projectID {
			continue
		}
		if opts.Since != nil && e.OccurredAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.OccurredAt.After(*opts.Until) {
			continue
		}
		if len(opts.Categories) > 0 && !slices.Contains(opts.Categories, e.Category) {
			continue
		}
		if opts.EntityKind != "" && e.EntityKind != opts.EntityKind {
			continue
		}
		if opts.EntityID != "" && e.EntityID != opts.EntityID {
			continue
		}
		if hasCursor && !e.OccurredAt.Before(cursor) {
			continue
		}
		matched = append(matched, e)
	}
	s.mu.RUnlock()

	sortNewestFirst(matched)
	total := len(matched)
	limit := opts.limit()

	var next string
	if len(matched) > limit {
		matched = matched[:limit]
		next = formatCursor(matched[len(matched)-1].OccurredAt)
	}
	return matched, next, total, nil
}

func (s *MemoryStore) Search(_ context.Context, projectID, query string, opts SearchOptions) ([]Entry, int, error) {
	q := strings.ToLower(query)

	s.mu.RLock()
	var matched []Entry
	for _, e := range slices.Backward(s.entries) {
		if e.ProjectID != projectID {
			continue
		}
		if !strings.Contains(strings.ToLower(e.Summary), q) {
			continue
		}
		if len(opts.Categories) > 0 && !slices.Contains(opts.Categories, e.Category) {
			continue
		}
		matched = append(matched, e)
	}
	s.mu.RUnlock()

	sortNewestFirst(matched)
	total := len(matched)
	if limit := opts.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (s *MemoryStore) Close() error { return nil }

func sortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].OccurredAt.After(entries[j].OccurredAt)
	})
}
