package session

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver so tests run without cgo
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// backends returns a fresh instance of every Backend implementation, so
// the policy tests run identically over each one.
func backends(t *testing.T) map[string]Backend {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlite, err := NewSQLiteBackendWithDB(db)
	if err != nil {
		t.Fatalf("NewSQLiteBackendWithDB: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": sqlite,
	}
}

// testClock is a manually advanced clock for driving expiry.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T, b Backend, opts Options) (*Store, *testClock) {
	t.Helper()
	st := NewStore(b, opts, discardLogger())
	clock := newTestClock()
	st.now = clock.now
	return st, clock
}

func TestGetOrCreate(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st, clock := newTestStore(t, b, Options{})
			ctx := t.Context()

			s, err := st.GetOrCreate(ctx, "s1")
			if err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}
			if s.ID != "s1" {
				t.Errorf("id = %q", s.ID)
			}
			if len(s.History) != 0 || s.MessageCount != 0 {
				t.Errorf("new session not empty: %+v", s)
			}
			if !s.CreatedAt.Equal(clock.t) {
				t.Errorf("created_at = %v, want %v", s.CreatedAt, clock.t)
			}

			// A second call returns the same session with a refreshed
			// last-active timestamp.
			clock.advance(time.Minute)
			again, err := st.GetOrCreate(ctx, "s1")
			if err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}
			if !again.CreatedAt.Equal(s.CreatedAt) {
				t.Errorf("created_at changed: %v vs %v", again.CreatedAt, s.CreatedAt)
			}
			if !again.LastActive.Equal(clock.t) {
				t.Errorf("last_active = %v, want %v", again.LastActive, clock.t)
			}
		})
	}
}

func TestAppendAndRetention(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st, clock := newTestStore(t, b, Options{Retention: 20})
			ctx := t.Context()

			for i := 0; i < 25; i++ {
				clock.advance(time.Second)
				msg := fmt.Sprintf("message %d", i)
				if err := st.Append(ctx, "s1", msg, "reply", "neutral"); err != nil {
					t.Fatalf("Append %d: %v", i, err)
				}
			}

			s, err := st.GetOrCreate(ctx, "s1")
			if err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}
			if len(s.History) != 20 {
				t.Fatalf("history length = %d, want 20", len(s.History))
			}
			// The oldest five were dropped; order is chronological.
			if s.History[0].User != "message 5" {
				t.Errorf("oldest kept = %q, want message 5", s.History[0].User)
			}
			if s.History[19].User != "message 24" {
				t.Errorf("newest kept = %q, want message 24", s.History[19].User)
			}
			// The message count tracks all exchanges ever, not just retained.
			if s.MessageCount != 25 {
				t.Errorf("message count = %d, want 25", s.MessageCount)
			}
		})
	}
}

func TestTopicTracking(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st, _ := newTestStore(t, b, Options{})
			ctx := t.Context()

			for _, msg := range []string{
				"how is the weather today",
				"tell me about your work",
				"more weather please",
				"my family is great",
			} {
				if err := st.Append(ctx, "s1", msg, "reply", "neutral"); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}

			s, err := st.GetOrCreate(ctx, "s1")
			if err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}
			want := []string{"weather", "work", "family"}
			if len(s.Topics) != len(want) {
				t.Fatalf("topics = %v, want %v", s.Topics, want)
			}
			for i := range want {
				if s.Topics[i] != want[i] {
					t.Errorf("topics[%d] = %q, want %q", i, s.Topics[i], want[i])
				}
			}
		})
	}
}

func TestUpdateFacts(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st, _ := newTestStore(t, b, Options{})
			ctx := t.Context()

			if err := st.UpdateFacts(ctx, "s1", map[string]string{"name": "Alex"}); err != nil {
				t.Fatalf("UpdateFacts: %v", err)
			}
			if err := st.UpdateFacts(ctx, "s1", map[string]string{"name": "Sam", "favorite_color": "Blue"}); err != nil {
				t.Fatalf("UpdateFacts: %v", err)
			}

			s, err := st.GetOrCreate(ctx, "s1")
			if err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}
			if s.Facts["name"] != "Sam" {
				t.Errorf("name = %q, want Sam (latest value wins)", s.Facts["name"])
			}
			if s.Facts["favorite_color"] != "Blue" {
				t.Errorf("favorite_color = %q", s.Facts["favorite_color"])
			}
		})
	}
}

func TestExpiry(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st, clock := newTestStore(t, b, Options{Timeout: 24 * time.Hour})
			ctx := t.Context()

			if err := st.Append(ctx, "s1", "hello", "reply", "neutral"); err != nil {
				t.Fatalf("Append: %v", err)
			}
			if err := st.UpdateFacts(ctx, "s1", map[string]string{"name": "Alex"}); err != nil {
				t.Fatalf("UpdateFacts: %v", err)
			}

			clock.advance(24*time.Hour + time.Minute)

			// An expired session is replaced with a fresh one.
			s, err := st.GetOrCreate(ctx, "s1")
			if err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}
			if len(s.History) != 0 {
				t.Errorf("expired session kept history: %v", s.History)
			}
			if s.Facts["name"] != "" {
				t.Errorf("expired session kept facts: %v", s.Facts)
			}
			if !s.CreatedAt.Equal(clock.t) {
				t.Errorf("created_at = %v, want fresh %v", s.CreatedAt, clock.t)
			}

			// The backend row must be replaced too, not just the returned struct.
			stored, err := b.Get(ctx, "s1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if stored == nil {
				t.Fatal("fresh session not persisted")
			}
			if !stored.CreatedAt.Equal(clock.t) {
				t.Errorf("stored created_at = %v, want fresh %v", stored.CreatedAt, clock.t)
			}
			if len(stored.History) != 0 || stored.MessageCount != 0 {
				t.Errorf("stored session kept history: count=%d %v", stored.MessageCount, stored.History)
			}
		})
	}
}

func TestExpiredNotActive(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st, clock := newTestStore(t, b, Options{Timeout: 24 * time.Hour})
			ctx := t.Context()

			if err := st.Append(ctx, "s1", "hello", "reply", "neutral"); err != nil {
				t.Fatalf("Append: %v", err)
			}

			clock.advance(25 * time.Hour)

			// Not yet swept, so still counted in totals, but never active.
			stats, err := st.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats: %v", err)
			}
			if stats.TotalSessions != 1 {
				t.Errorf("total = %d, want 1", stats.TotalSessions)
			}
			if stats.ActiveSessions != 0 {
				t.Errorf("active = %d, want 0", stats.ActiveSessions)
			}
		})
	}
}

func TestSweepExpired(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st, clock := newTestStore(t, b, Options{Timeout: 24 * time.Hour})
			ctx := t.Context()

			if err := st.Append(ctx, "old", "hello", "reply", "neutral"); err != nil {
				t.Fatalf("Append: %v", err)
			}
			clock.advance(25 * time.Hour)
			if err := st.Append(ctx, "fresh", "hello", "reply", "neutral"); err != nil {
				t.Fatalf("Append: %v", err)
			}

			if err := st.Sweep(ctx); err != nil {
				t.Fatalf("Sweep: %v", err)
			}

			stats, err := st.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats: %v", err)
			}
			if stats.TotalSessions != 1 {
				t.Errorf("total after sweep = %d, want 1", stats.TotalSessions)
			}
		})
	}
}

func TestCeilingEviction(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st, clock := newTestStore(t, b, Options{MaxSessions: 5})
			ctx := t.Context()

			for i := 0; i < 5; i++ {
				clock.advance(time.Second)
				id := fmt.Sprintf("s%d", i)
				if err := st.Append(ctx, id, "hello", "reply", "neutral"); err != nil {
					t.Fatalf("Append %s: %v", id, err)
				}
			}

			// The sixth session pushes the population past the ceiling;
			// GetOrCreate sweeps and evicts exactly the least recently
			// active session (s0).
			clock.advance(time.Second)
			if _, err := st.GetOrCreate(ctx, "s5"); err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}

			stats, err := st.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats: %v", err)
			}
			if stats.TotalSessions != 5 {
				t.Fatalf("total = %d, want 5", stats.TotalSessions)
			}

			refs, err := b.RefsByLastActive(ctx)
			if err != nil {
				t.Fatalf("RefsByLastActive: %v", err)
			}
			for _, ref := range refs {
				if ref.ID == "s0" {
					t.Error("least recently active session survived eviction")
				}
			}
		})
	}
}

func TestContextSummary(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st, _ := newTestStore(t, b, Options{})
			ctx := t.Context()

			// Unknown session.
			summary, err := st.ContextSummary(ctx, "nope")
			if err != nil {
				t.Fatalf("ContextSummary: %v", err)
			}
			if summary != "" {
				t.Errorf("unknown session summary = %q, want empty", summary)
			}

			// History without topic keywords.
			if err := st.Append(ctx, "s1", "hello there", "reply", "neutral"); err != nil {
				t.Fatalf("Append: %v", err)
			}
			summary, err = st.ContextSummary(ctx, "s1")
			if err != nil {
				t.Fatalf("ContextSummary: %v", err)
			}
			if summary != "Recent topics: general conversation" {
				t.Errorf("summary = %q", summary)
			}

			// Four topics; only the three most recent appear.
			for _, msg := range []string{
				"the weather", "my work", "my family", "technology news",
			} {
				if err := st.Append(ctx, "s1", msg, "reply", "neutral"); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}
			summary, err = st.ContextSummary(ctx, "s1")
			if err != nil {
				t.Fatalf("ContextSummary: %v", err)
			}
			if summary != "Recent topics: work, family, technology" {
				t.Errorf("summary = %q", summary)
			}
		})
	}
}

func TestStatsCounts(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st, _ := newTestStore(t, b, Options{})
			ctx := t.Context()

			for i := 0; i < 3; i++ {
				if err := st.Append(ctx, "a", fmt.Sprintf("m%d", i), "r", "neutral"); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}
			if err := st.Append(ctx, "b", "hello", "r", "neutral"); err != nil {
				t.Fatalf("Append: %v", err)
			}

			stats, err := st.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats: %v", err)
			}
			if stats.TotalSessions != 2 {
				t.Errorf("total sessions = %d, want 2", stats.TotalSessions)
			}
			if stats.TotalMessages != 4 {
				t.Errorf("total messages = %d, want 4", stats.TotalMessages)
			}
			if stats.ActiveSessions != 2 {
				t.Errorf("active sessions = %d, want 2", stats.ActiveSessions)
			}
		})
	}
}

func TestStorageType(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st, _ := newTestStore(t, b, Options{})
			got := st.StorageType()
			if name == "memory" && got != "in-memory" {
				t.Errorf("storage type = %q", got)
			}
			if name == "sqlite" && got != "sqlite" {
				t.Errorf("storage type = %q", got)
			}
		})
	}
}

func TestOpenBackendFallback(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	b := OpenBackend("/nonexistent-dir/sessions.db", logger)
	t.Cleanup(func() { b.Close() })

	if b.Kind() != "in-memory" {
		t.Fatalf("backend kind = %q, want in-memory", b.Kind())
	}
	if !strings.Contains(buf.String(), "falling back") {
		t.Errorf("fallback was not logged: %q", buf.String())
	}
}
