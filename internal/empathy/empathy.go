// Package empathy maps sentiment labels to empathetic reply openers.
package empathy

import (
	"math/rand"
	"sync"
	"time"

	"github.com/stanbot/stanbot/internal/sentiment"
)

var openers = map[sentiment.Label][]string{
	sentiment.Negative: {
		"I'm sorry to hear that. I'm here to help if you'd like to talk about it.",
		"That sounds challenging. Would you like to share more about what's bothering you?",
		"I understand that might be frustrating. How can I assist you?",
	},
	sentiment.Positive: {
		"That's wonderful to hear! I'm glad you're feeling good.",
		"It sounds like things are going well for you! That's great.",
		"I'm happy to hear that! What's making your day so good?",
	},
}

// Prefixer selects an empathetic opener for emotionally charged messages.
type Prefixer struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPrefixer creates a Prefixer using rnd for opener selection. A nil rnd
// gets a time-seeded source; tests pass a fixed seed for deterministic
// output.
func NewPrefixer(rnd *rand.Rand) *Prefixer {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Prefixer{rnd: rnd}
}

// For returns an opener for the given label, or "" when the label does not
// warrant one. Only negative and positive messages receive an opener.
func (p *Prefixer) For(label sentiment.Label) string {
	if !label.Emotional() {
		return ""
	}
	candidates, ok := openers[label]
	if !ok {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return candidates[p.rnd.Intn(len(candidates))]
}
