package responder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"testing"

	"github.com/stanbot/stanbot/internal/llm"
	"github.com/stanbot/stanbot/internal/session"
)

type fakeClient struct {
	reply    string
	err      error
	messages []llm.Message
}

func (f *fakeClient) Chat(ctx context.Context, messages []llm.Message) (*llm.ChatResponse, error) {
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{
		Message: llm.Message{Role: "assistant", Content: f.reply},
		Done:    true,
	}, nil
}

func (f *fakeClient) Ping(ctx context.Context) error { return f.err }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGenerativeReply(t *testing.T) {
	client := &fakeClient{reply: "Hello from the model."}
	g := NewGenerative(client, NewRules(rand.New(rand.NewSource(1)), nil), discardLogger())

	reply, updates, err := g.Respond(context.Background(), Input{Text: "hello"})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply != "Hello from the model." {
		t.Errorf("reply = %q", reply)
	}
	if updates != nil {
		t.Errorf("model path produced fact updates %v", updates)
	}

	if client.messages[0].Role != "system" {
		t.Errorf("first message role = %q, want system", client.messages[0].Role)
	}
	last := client.messages[len(client.messages)-1]
	if last.Role != "user" || last.Content != "hello" {
		t.Errorf("last message = %+v, want the user text", last)
	}
}

func TestGenerativeFallbackOnError(t *testing.T) {
	client := &fakeClient{err: errors.New("connection refused")}
	g := NewGenerative(client, NewRules(rand.New(rand.NewSource(1)), nil), discardLogger())

	reply, updates, err := g.Respond(context.Background(), Input{Text: "my name is alex"})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(reply, "Alex") {
		t.Errorf("fallback reply %q did not come from the rule cascade", reply)
	}
	if updates["name"] != "Alex" {
		t.Errorf("fallback fact updates = %v", updates)
	}
}

func TestGenerativeFallbackOnEmptyReply(t *testing.T) {
	client := &fakeClient{reply: "   "}
	g := NewGenerative(client, NewRules(rand.New(rand.NewSource(1)), nil), discardLogger())

	reply, _, err := g.Respond(context.Background(), Input{Text: "tell me a joke"})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply == "" {
		t.Error("empty reply leaked through the fallback")
	}
}

func TestGenerativeHistoryWindow(t *testing.T) {
	client := &fakeClient{reply: "ok"}
	g := NewGenerative(client, NewRules(rand.New(rand.NewSource(1)), nil), discardLogger())

	history := make([]session.Exchange, 8)
	for i := range history {
		history[i] = session.Exchange{User: "u", Bot: "b"}
	}

	if _, _, err := g.Respond(context.Background(), Input{Text: "latest", History: history}); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	// system + 5 replayed exchanges (two messages each) + current text.
	if got, want := len(client.messages), 1+historyWindow*2+1; got != want {
		t.Errorf("message count = %d, want %d", got, want)
	}
}
