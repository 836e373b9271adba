package responder

import (
	"context"
	"log/slog"
	"strings"

	"github.com/stanbot/stanbot/internal/llm"
)

// historyWindow is how many recent exchanges are replayed to the model.
const historyWindow = 5

const systemPrompt = "You are Stan, a friendly conversational assistant. " +
	"Keep replies short, warm, and helpful."

// Generative produces replies with a model backend, falling through to the
// rule cascade whenever the model is unreachable or returns nothing. Model
// failures are recovered here and never surfaced to the caller.
type Generative struct {
	client   llm.Client
	fallback Responder
	logger   *slog.Logger
}

// NewGenerative wraps client with fallback as the always-available path.
func NewGenerative(client llm.Client, fallback Responder, logger *slog.Logger) *Generative {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generative{client: client, fallback: fallback, logger: logger}
}

// Respond asks the model for a reply, replaying the most recent exchanges
// for context. Capture-rule side effects only happen on the fallback path;
// the model path never produces fact updates.
func (g *Generative) Respond(ctx context.Context, in Input) (string, map[string]string, error) {
	messages := []llm.Message{{Role: "system", Content: systemPrompt}}

	history := in.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, ex := range history {
		messages = append(messages,
			llm.Message{Role: "user", Content: ex.User},
			llm.Message{Role: "assistant", Content: ex.Bot},
		)
	}
	messages = append(messages, llm.Message{Role: "user", Content: in.Text})

	resp, err := g.client.Chat(ctx, messages)
	if err != nil {
		g.logger.Warn("model backend failed, falling back to rules", "error", err)
		return g.fallback.Respond(ctx, in)
	}

	reply := strings.TrimSpace(resp.Message.Content)
	if reply == "" {
		g.logger.Debug("model returned empty reply, falling back to rules")
		return g.fallback.Respond(ctx, in)
	}
	return reply, nil, nil
}
