package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

type entry struct {
	score  int64
	member string
}

type window struct {
	entries  []entry
	expireAt time.Time
}

// MemoryStore is a Store keeping the window logs in process. It is
// correct for a single gateway instance only.
type MemoryStore struct {
	mu   sync.Mutex
	logs map[string]*window
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string]*window)}
}

func (m *MemoryStore) Hit(ctx context.Context, key, member string, limit int64, w time.Duration, now time.Time) (int64, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	nowMillis := now.UnixMilli()
	l, ok := m.logs[key]
	if !ok || !now.Before(l.expireAt) {
		l = &window{}
		m.logs[key] = l
	}

	cutoff := nowMillis - w.Milliseconds()
	i := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].score > cutoff })
	l.entries = l.entries[i:]

	count := int64(len(l.entries))
	if count < limit {
		l.entries = append(l.entries, entry{score: nowMillis, member: member})
		sort.SliceStable(l.entries, func(i, j int) bool { return l.entries[i].score < l.entries[j].score })
	}

	l.expireAt = now.Add(w)
	return count + 1, w, nil
}

// Len returns the number of entries stored for key.
func (m *MemoryStore) Len(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.logs[key]; ok {
		return len(l.entries)
	}
	return 0
}

// Cleanup removes the expired keys.
func (m *MemoryStore) Cleanup(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, l := range m.logs {
		if !now.Before(l.expireAt) {
			delete(m.logs, k)
		}
	}
}

// StartCleanup removes expired keys periodically until ctx is done.
func (m *MemoryStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case now := <-t.C:
				m.Cleanup(now)
			case <-ctx.Done():
				return
			}
		}
	}()
}
