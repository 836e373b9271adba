package session

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps sessions in a mutex-guarded map. It is the fallback
// when the database is unavailable, and disappears with the process.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]*Session)}
}

func (b *MemoryBackend) Get(ctx context.Context, id string) (*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessions[id].copy(), nil
}

func (b *MemoryBackend) Put(ctx context.Context, s *Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[s.ID] = s.copy()
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		delete(b.sessions, id)
	}
	return nil
}

func (b *MemoryBackend) Count(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions), nil
}

func (b *MemoryBackend) TotalMessages(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, s := range b.sessions {
		total += s.MessageCount
	}
	return total, nil
}

func (b *MemoryBackend) RefsByLastActive(ctx context.Context) ([]Ref, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	refs := make([]Ref, 0, len(b.sessions))
	for _, s := range b.sessions {
		refs = append(refs, Ref{ID: s.ID, LastActive: s.LastActive})
	}
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].LastActive.Before(refs[j].LastActive)
	})
	return refs, nil
}

func (b *MemoryBackend) All(ctx context.Context) ([]*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *MemoryBackend) Kind() string { return "in-memory" }

func (b *MemoryBackend) Close() error { return nil }
