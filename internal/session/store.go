package session

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Defaults match the deployed service: up to a thousand concurrent
// conversations, a day of idle time before a session is forgotten, and the
// twenty most recent exchanges kept per session.
const (
	DefaultMaxSessions = 1000
	DefaultTimeout     = 24 * time.Hour
	DefaultRetention   = 20
	DefaultOpTimeout   = 5 * time.Second
)

// topicKeywords is the fixed set of topic tags scanned for in user messages.
var topicKeywords = []string{
	"weather", "time", "jokes", "help", "technology", "work", "family",
}

// lockStripes bounds the per-session mutex table.
const lockStripes = 64

// Options tune the Store's retention and expiry policy. Zero values take
// the package defaults.
type Options struct {
	MaxSessions int           // global session ceiling
	Timeout     time.Duration // idle time before a session expires
	Retention   int           // exchanges kept per session
	OpTimeout   time.Duration // per-backend-call timeout
}

// Stats are aggregate counts over stored sessions.
type Stats struct {
	TotalSessions  int    `json:"total_sessions"`
	ActiveSessions int    `json:"active_sessions_last_hour"`
	TotalMessages  int    `json:"total_messages"`
	StorageType    string `json:"storage_type"`
}

// Store applies conversation retention and expiry policy over a Backend.
// It is the only component that mutates sessions. Writes to the same
// session id are serialized through a striped lock so the read-modify-write
// append sequence cannot interleave.
type Store struct {
	backend Backend
	opts    Options
	logger  *slog.Logger
	now     func() time.Time

	locks [lockStripes]sync.Mutex
}

// NewStore creates a Store over the given backend.
func NewStore(backend Backend, opts Options, logger *slog.Logger) *Store {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = DefaultOpTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: backend,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// OpenBackend opens the SQLite backend at path, falling back to the
// in-process backend for the remainder of the process lifetime when the
// database is unavailable. The degradation is logged once; callers never
// see the failure.
func OpenBackend(path string, logger *slog.Logger) Backend {
	b, err := NewSQLiteBackend(path)
	if err != nil {
		logger.Warn("session database unavailable, falling back to in-memory storage",
			"path", path,
			"error", err,
		)
		return NewMemoryBackend()
	}
	return b
}

// StorageType reports the kind of the underlying backend.
func (st *Store) StorageType() string {
	return st.backend.Kind()
}

// Close releases the underlying backend.
func (st *Store) Close() error {
	return st.backend.Close()
}

func (st *Store) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &st.locks[h.Sum32()%lockStripes]
}

func (st *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, st.opts.OpTimeout)
}

// expired reports whether a session is past the idle timeout and therefore
// unreachable for reads.
func (st *Store) expired(s *Session) bool {
	return s != nil && st.now().Sub(s.LastActive) > st.opts.Timeout
}

// GetOrCreate returns the session for id, creating an empty one if absent.
// A session past the idle timeout is treated as absent and replaced with a
// fresh one. The session's last-active timestamp is always refreshed, and
// an expiry/eviction sweep runs after every call.
func (st *Store) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	s, err := st.getOrCreateLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := st.Sweep(ctx); err != nil {
		st.logger.Warn("session sweep failed", "error", err)
	}
	return s, nil
}

func (st *Store) getOrCreateLocked(ctx context.Context, id string) (*Session, error) {
	mu := st.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	bctx, cancel := st.opCtx(ctx)
	defer cancel()

	s, err := st.backend.Get(bctx, id)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	now := st.now()
	if s == nil || st.expired(s) {
		s = &Session{
			ID:         id,
			History:    []Exchange{},
			CreatedAt:  now,
			LastActive: now,
			Facts:      map[string]string{},
			Topics:     []string{},
		}
	} else {
		s.LastActive = now
		if s.Facts == nil {
			s.Facts = map[string]string{}
		}
	}

	if err := st.backend.Put(bctx, s); err != nil {
		return nil, fmt.Errorf("write session: %w", err)
	}
	return s, nil
}

// Append records one exchange on the session, creating it if absent. It
// bumps the message count, unions any topic keywords found in the user
// text, truncates history to the retention cap, and refreshes the
// last-active timestamp.
func (st *Store) Append(ctx context.Context, id, userText, botText, sentiment string) error {
	mu := st.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	bctx, cancel := st.opCtx(ctx)
	defer cancel()

	s, err := st.backend.Get(bctx, id)
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}

	now := st.now()
	if s == nil || st.expired(s) {
		s = &Session{
			ID:        id,
			CreatedAt: now,
			Facts:     map[string]string{},
		}
	}
	if s.Facts == nil {
		s.Facts = map[string]string{}
	}

	s.History = append(s.History, Exchange{
		User:      userText,
		Bot:       botText,
		Sentiment: sentiment,
		Timestamp: now,
	})
	s.MessageCount++
	s.Topics = unionTopics(s.Topics, userText)

	if len(s.History) > st.opts.Retention {
		s.History = s.History[len(s.History)-st.opts.Retention:]
	}
	s.LastActive = now

	if err := st.backend.Put(bctx, s); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// UpdateFacts merges updates into the session's fact mapping. Existing keys
// are overwritten, never merged or versioned.
func (st *Store) UpdateFacts(ctx context.Context, id string, updates map[string]string) error {
	if len(updates) == 0 {
		return nil
	}

	mu := st.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	bctx, cancel := st.opCtx(ctx)
	defer cancel()

	s, err := st.backend.Get(bctx, id)
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}

	now := st.now()
	if s == nil || st.expired(s) {
		s = &Session{
			ID:         id,
			CreatedAt:  now,
			LastActive: now,
			Facts:      map[string]string{},
		}
	}
	if s.Facts == nil {
		s.Facts = map[string]string{}
	}
	for k, v := range updates {
		s.Facts[k] = v
	}

	if err := st.backend.Put(bctx, s); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// ContextSummary derives a short human-readable summary from the session's
// most recent topic tags. Returns "" for unknown, expired, or empty
// sessions.
func (st *Store) ContextSummary(ctx context.Context, id string) (string, error) {
	bctx, cancel := st.opCtx(ctx)
	defer cancel()

	s, err := st.backend.Get(bctx, id)
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}
	if s == nil || st.expired(s) || len(s.History) == 0 {
		return "", nil
	}

	topics := s.Topics
	if len(topics) > 3 {
		topics = topics[len(topics)-3:]
	}
	if len(topics) == 0 {
		return "Recent topics: general conversation", nil
	}
	return "Recent topics: " + strings.Join(topics, ", "), nil
}

// Stats returns aggregate counts. "Active" means last active within the
// past hour; expired sessions never count as active even if not yet swept.
func (st *Store) Stats(ctx context.Context) (Stats, error) {
	bctx, cancel := st.opCtx(ctx)
	defer cancel()

	total, err := st.backend.Count(bctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count sessions: %w", err)
	}
	messages, err := st.backend.TotalMessages(bctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count messages: %w", err)
	}
	refs, err := st.backend.RefsByLastActive(bctx)
	if err != nil {
		return Stats{}, fmt.Errorf("query sessions: %w", err)
	}

	now := st.now()
	active := 0
	for _, ref := range refs {
		idle := now.Sub(ref.LastActive)
		if idle < time.Hour && idle <= st.opts.Timeout {
			active++
		}
	}

	return Stats{
		TotalSessions:  total,
		ActiveSessions: active,
		TotalMessages:  messages,
		StorageType:    st.backend.Kind(),
	}, nil
}

// Dump returns every stored session. Debug use only.
func (st *Store) Dump(ctx context.Context) ([]*Session, error) {
	bctx, cancel := st.opCtx(ctx)
	defer cancel()
	return st.backend.All(bctx)
}

// Sweep removes sessions idle past the timeout, then removes
// oldest-last-active sessions until the population is back at the ceiling.
func (st *Store) Sweep(ctx context.Context) error {
	bctx, cancel := st.opCtx(ctx)
	defer cancel()

	refs, err := st.backend.RefsByLastActive(bctx)
	if err != nil {
		return fmt.Errorf("query sessions: %w", err)
	}

	now := st.now()
	var expired []string
	var live []Ref
	for _, ref := range refs {
		if now.Sub(ref.LastActive) > st.opts.Timeout {
			expired = append(expired, ref.ID)
		} else {
			live = append(live, ref)
		}
	}

	if len(expired) > 0 {
		if err := st.backend.Delete(bctx, expired); err != nil {
			return fmt.Errorf("delete expired sessions: %w", err)
		}
		st.logger.Info("cleaned up expired sessions", "count", len(expired))
	}

	if excess := len(live) - st.opts.MaxSessions; excess > 0 {
		// live is already oldest-first.
		oldest := make([]string, 0, excess)
		for _, ref := range live[:excess] {
			oldest = append(oldest, ref.ID)
		}
		if err := st.backend.Delete(bctx, oldest); err != nil {
			return fmt.Errorf("delete oldest sessions: %w", err)
		}
		st.logger.Info("evicted oldest sessions to maintain ceiling",
			"count", len(oldest),
			"ceiling", st.opts.MaxSessions,
		)
	}
	return nil
}

// unionTopics adds any topic keywords present in text to topics,
// preserving insertion order. Topics monotonically grow.
func unionTopics(topics []string, text string) []string {
	lower := strings.ToLower(text)
	for _, topic := range topicKeywords {
		if !strings.Contains(lower, topic) {
			continue
		}
		seen := false
		for _, existing := range topics {
			if existing == topic {
				seen = true
				break
			}
		}
		if !seen {
			topics = append(topics, topic)
		}
	}
	return topics
}
