// Package responder selects a bot reply for a user message.
//
// Two backends implement the Responder interface: the ordered rule cascade
// in rules.go, which is always available, and the generative model wrapper
// in generative.go, which falls through to the rules whenever the model is
// unreachable or misbehaves. The choice between them is made once, at
// construction time.
package responder

import (
	"context"

	"github.com/stanbot/stanbot/internal/session"
)

// Input carries everything a backend may need to produce a reply.
type Input struct {
	// Text is the raw user message. Callers guarantee it is non-empty.
	Text string

	// SessionID identifies the conversation thread.
	SessionID string

	// Facts are the session's user facts (name, favorite color, ...).
	Facts map[string]string

	// History is the session's recent exchanges, oldest first. Used by the
	// generative backend for conversational context.
	History []session.Exchange
}

// Responder produces a reply for a user message. FactUpdates, when
// non-empty, are user facts the caller must persist into the session
// (capture rules are the only source of these).
type Responder interface {
	Respond(ctx context.Context, in Input) (reply string, factUpdates map[string]string, err error)
}
