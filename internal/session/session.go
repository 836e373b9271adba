// Package session owns per-session conversation state: history, user facts,
// topic tags, and timestamps. The Store applies retention and expiry policy
// on top of a pluggable persistence backend.
package session

import (
	"context"
	"time"
)

// Exchange is one user-message/bot-reply pair. Immutable once appended.
type Exchange struct {
	User      string    `json:"user"`
	Bot       string    `json:"bot"`
	Sentiment string    `json:"sentiment"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the server-side record of one conversation thread.
// All mutation goes through the Store; handlers only ever see copies.
type Session struct {
	ID           string            `json:"session_id"`
	History      []Exchange        `json:"history"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActive   time.Time         `json:"last_active"`
	MessageCount int               `json:"message_count"`
	Facts        map[string]string `json:"facts"`
	Topics       []string          `json:"topics"`
}

// copy returns a deep copy so callers cannot mutate stored state.
func (s *Session) copy() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.History = make([]Exchange, len(s.History))
	copy(c.History, s.History)
	c.Facts = make(map[string]string, len(s.Facts))
	for k, v := range s.Facts {
		c.Facts[k] = v
	}
	c.Topics = make([]string, len(s.Topics))
	copy(c.Topics, s.Topics)
	return &c
}

// Ref identifies a stored session and its recency, for sweep ordering.
type Ref struct {
	ID         string
	LastActive time.Time
}

// Backend is the persistence capability the Store is polymorphic over.
// Both implementations must honor identical contracts; the choice between
// them is a deployment concern invisible to Store callers.
//
// Get returns (nil, nil) when the session does not exist. Put is a full
// document upsert keyed by session id. RefsByLastActive returns all
// sessions ordered oldest-last-active first.
type Backend interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
	TotalMessages(ctx context.Context) (int, error)
	RefsByLastActive(ctx context.Context) ([]Ref, error)
	All(ctx context.Context) ([]*Session, error)
	Kind() string
	Close() error
}
