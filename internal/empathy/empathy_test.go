package empathy

import (
	"math/rand"
	"testing"

	"github.com/stanbot/stanbot/internal/sentiment"
)

func TestForEmotionalLabels(t *testing.T) {
	p := NewPrefixer(rand.New(rand.NewSource(1)))

	for _, label := range []sentiment.Label{sentiment.Negative, sentiment.Positive} {
		got := p.For(label)
		if got == "" {
			t.Errorf("For(%q) returned empty opener", label)
		}
		found := false
		for _, want := range openers[label] {
			if got == want {
				found = true
			}
		}
		if !found {
			t.Errorf("For(%q) = %q, not in candidate set", label, got)
		}
	}
}

func TestForNonEmotionalLabels(t *testing.T) {
	p := NewPrefixer(rand.New(rand.NewSource(1)))

	for _, label := range []sentiment.Label{sentiment.Neutral, sentiment.Questioning, sentiment.Label("unknown")} {
		if got := p.For(label); got != "" {
			t.Errorf("For(%q) = %q, want empty", label, got)
		}
	}
}

func TestForDeterministicWithSeed(t *testing.T) {
	a := NewPrefixer(rand.New(rand.NewSource(42)))
	b := NewPrefixer(rand.New(rand.NewSource(42)))

	for i := 0; i < 10; i++ {
		if got, want := a.For(sentiment.Negative), b.For(sentiment.Negative); got != want {
			t.Fatalf("iteration %d: %q != %q with identical seeds", i, got, want)
		}
	}
}
