package responder

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
)

var (
	nameCaptureRe  = regexp.MustCompile(`my name is (\w+)`)
	colorCaptureRe = regexp.MustCompile(`my favou?rite colou?r is (\w+)`)
)

// questionWords are matched by substring, mirroring the sentiment
// classifier, so contractions like "what's" still count.
var questionWords = []string{"what", "how", "why", "when", "where", "who", "which"}

const dontRecallReply = "I don't recall you mentioning that. Could you remind me?"

// rule is one entry in the ordered cascade: a predicate over the normalized
// input and a handler producing the reply plus any fact updates.
type rule struct {
	name    string
	match   func(in string) bool
	respond func(in string, facts map[string]string) (string, map[string]string)
}

// Rules is the keyword/regex response backend. Rules are evaluated in
// order and the first match wins; the order is a semantic contract because
// rules overlap ("what's your name" matches both the bot-identity rule and
// the generic question fallback, and must pick identity).
type Rules struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time

	rules []rule
}

// NewRules creates the rule backend. A nil rnd gets a time-seeded source;
// tests inject a fixed seed to make reply selection deterministic. A nil
// now defaults to time.Now and exists so the time-of-day rule is testable.
func NewRules(rnd *rand.Rand, now func() time.Time) *Rules {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if now == nil {
		now = time.Now
	}
	r := &Rules{rnd: rnd, now: now}
	r.rules = r.buildRules()
	return r
}

// Respond evaluates the cascade against the trimmed, lower-cased input.
// It never fails for well-formed text; empty input is rejected upstream.
func (r *Rules) Respond(ctx context.Context, in Input) (string, map[string]string, error) {
	normalized := strings.ToLower(strings.TrimSpace(in.Text))

	for _, rule := range r.rules {
		if rule.match(normalized) {
			reply, updates := rule.respond(normalized, in.Facts)
			return reply, updates, nil
		}
	}

	// The default rule is unconditional; this is unreachable.
	return "", nil, fmt.Errorf("no rule matched %q", normalized)
}

// pick selects uniformly at random from candidates.
func (r *Rules) pick(candidates []string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return candidates[r.rnd.Intn(len(candidates))]
}

// buildRules assembles the cascade, most specific first: capture rules,
// recall rules, fixed intents, the generic question fallback, and the
// unconditional default.
func (r *Rules) buildRules() []rule {
	rules := []rule{
		{
			name:  "capture-name",
			match: nameCaptureRe.MatchString,
			respond: func(in string, _ map[string]string) (string, map[string]string) {
				name := titleCase(nameCaptureRe.FindStringSubmatch(in)[1])
				reply := fmt.Sprintf("Nice to meet you, %s! I'll remember your name.", name)
				return reply, map[string]string{"name": name}
			},
		},
		{
			name:  "capture-color",
			match: colorCaptureRe.MatchString,
			respond: func(in string, _ map[string]string) (string, map[string]string) {
				color := titleCase(colorCaptureRe.FindStringSubmatch(in)[1])
				reply := fmt.Sprintf("%s is a great choice! I'll remember that's your favorite color.", color)
				return reply, map[string]string{"favorite_color": color}
			},
		},
		{
			name: "recall",
			match: func(in string) bool {
				return strings.Contains(in, "what did i say") || strings.Contains(in, "did i say")
			},
			respond: func(in string, facts map[string]string) (string, map[string]string) {
				switch {
				case strings.Contains(in, "name"):
					if name := facts["name"]; name != "" {
						return fmt.Sprintf("You told me your name is %s.", name), nil
					}
				case strings.Contains(in, "color"):
					if color := facts["favorite_color"]; color != "" {
						return fmt.Sprintf("You said your favorite color is %s.", color), nil
					}
				}
				return dontRecallReply, nil
			},
		},
	}

	rules = append(rules, r.intentRules()...)

	rules = append(rules,
		rule{
			name: "generic-question",
			match: func(in string) bool {
				for _, w := range questionWords {
					if strings.Contains(in, w) {
						return true
					}
				}
				return false
			},
			respond: func(_ string, _ map[string]string) (string, map[string]string) {
				return r.pick([]string{
					"That's an interesting question! Could you give me a bit more context so I can give you a better answer?",
					"Good question! I'd be happy to help - can you share a few more details?",
				}), nil
			},
		},
		rule{
			name:  "default",
			match: func(string) bool { return true },
			respond: func(_ string, _ map[string]string) (string, map[string]string) {
				return r.pick([]string{
					"That's fascinating! Tell me more about what you're thinking.",
					"I'd love to learn more about that topic. Could you share some details?",
					"That sounds really interesting! What aspects of it would you like to explore?",
					"I'm curious to know more! Could you help me understand what you mean?",
					"That's a great topic to discuss! What specifically interests you about it?",
					"I find that intriguing! Can you tell me what prompted that question?",
					"That's worth exploring! What would you like to know more about?",
				}), nil
			},
		},
	)

	return rules
}

// intent is a fixed keyword rule: single words are matched on token
// boundaries (so "hi" does not fire inside "this"), phrases by substring.
type intent struct {
	name    string
	words   []string
	phrases []string
	replies []string
}

func (r *Rules) intentRules() []rule {
	intents := []intent{
		{
			name:    "bot-identity",
			phrases: []string{"your name", "who are you", "what are you", "about you"},
			replies: []string{
				"My name is Stan! It's nice to meet you. What's your name?",
				"I'm Stan, an AI chatbot designed to help answer questions and have conversations. I'm here to assist you with various topics!",
			},
		},
		{
			name:    "bot-confirmation",
			phrases: []string{"are you a bot", "are you a robot", "are you real", "are you human", "are you an ai", "are you ai"},
			replies: []string{
				"Yep, I'm a bot! But I do my best to be good company.",
				"I'm a chatbot - a friendly program here to chat with you!",
			},
		},
		{
			name:    "wellbeing",
			phrases: []string{"how are you", "how do you feel", "how is it going", "how's it going"},
			replies: []string{
				"I'm doing great, thank you for asking! How are you doing today?",
				"I'm functioning well and ready to help! How can I assist you?",
			},
		},
		{
			name:  "greeting",
			words: []string{"hello", "hi", "hey", "greetings"},
			phrases: []string{
				"good morning", "good afternoon", "good evening",
			},
			replies: []string{
				"Hello! I'm Stan, your AI assistant. How can I help you today?",
				"Hi there! I'm here to assist you. What can I do for you?",
				"Welcome! I'm Stan. What would you like to know?",
			},
		},
		{
			name:    "casual-greeting",
			words:   []string{"sup", "yo", "howdy"},
			phrases: []string{"what's up", "whats up"},
			replies: []string{
				"Not much, just here ready to chat! What's on your mind?",
				"Hey! Just hanging out, waiting to help. What's up with you?",
			},
		},
		{
			name:    "emotional-support",
			words:   []string{"sad", "lonely", "depressed", "miserable", "unhappy"},
			phrases: []string{"feeling down", "i'm down", "im down"},
			replies: []string{
				"I'm sorry you're feeling that way. Want to talk about it? I'm here to listen.",
				"That sounds tough. Sometimes sharing what's on your mind helps.",
			},
		},
		{
			name:    "positive-affect",
			phrases: []string{"i'm happy", "im happy", "i am happy", "i'm excited", "im excited", "feeling great", "i feel great"},
			replies: []string{
				"That's fantastic! I love hearing that. What's got you feeling so good?",
				"Wonderful! Days like that are the best. Tell me more!",
			},
		},
		{
			name:  "jokes",
			words: []string{"joke", "jokes", "funny", "humor", "laugh"},
			replies: []string{
				"Why don't scientists trust atoms? Because they make up everything!",
				"Why did the programmer quit his job? Because he didn't get arrays!",
				"Why do programmers prefer dark mode? Because light attracts bugs!",
				"What do you call a bear with no teeth? A gummy bear!",
				"Why don't eggs tell jokes? They'd crack each other up!",
				"What's the best thing about Switzerland? I don't know, but the flag is a big plus!",
			},
		},
		{
			name:    "capability",
			phrases: []string{"what can you do", "your capabilities", "help me with", "can you help"},
			replies: []string{
				"I can help you with many things! I can answer questions, provide information, have conversations, and even tell jokes. What specific help do you need?",
				"I'm here to chat, provide information, tell jokes, and help with any questions you might have!",
			},
		},
		{
			name:    "boredom",
			words:   []string{"bored", "boring"},
			phrases: []string{"i'm bored", "im bored"},
			replies: []string{
				"Let's fix that! Want to hear a joke, or talk about something you enjoy?",
				"Boredom is just a challenge in disguise. Ask me anything!",
			},
		},
		{
			name:    "age",
			phrases: []string{"how old", "your age", "were you born", "when were you created"},
			replies: []string{
				"I'm a relatively new AI assistant! I don't age like humans do, but I'm constantly learning from our conversations.",
			},
		},
		{
			name:  "weather",
			words: []string{"weather"},
			replies: []string{
				"I don't have access to real-time weather data, but I'd suggest checking a weather app or website for current conditions in your area!",
			},
		},
		{
			name:  "thanks",
			words: []string{"thank", "thanks", "appreciate"},
			replies: []string{
				"You're very welcome! I'm glad I could help. Is there anything else you'd like to know?",
				"My pleasure! Is there anything else I can assist you with?",
			},
		},
		{
			name:    "farewell",
			words:   []string{"bye", "goodbye", "farewell"},
			phrases: []string{"see you", "talk later"},
			replies: []string{
				"Goodbye! It was great chatting with you. Feel free to come back anytime if you need help.",
				"See you later! Have a wonderful day!",
			},
		},
		{
			name:  "help",
			words: []string{"help", "assist", "support"},
			replies: []string{
				"I'm here to help! You can ask me questions about various topics, request information, or just have a conversation. What would you like assistance with?",
			},
		},
	}

	rules := make([]rule, 0, len(intents)+1)

	// The time rule formats the current clock time, so it sits outside the
	// canned-reply table.
	rules = append(rules, rule{
		name: "time",
		match: func(in string) bool {
			return containsAnyPhrase(in, []string{"what time", "the time", "current time"}) ||
				containsAnyWord(in, []string{"clock"})
		},
		respond: func(_ string, _ map[string]string) (string, map[string]string) {
			return fmt.Sprintf("The current time is approximately %s. How can I help you with your day?",
				r.now().Format("3:04 PM")), nil
		},
	})

	for _, it := range intents {
		it := it
		rules = append(rules, rule{
			name: it.name,
			match: func(in string) bool {
				return containsAnyWord(in, it.words) || containsAnyPhrase(in, it.phrases)
			},
			respond: func(_ string, _ map[string]string) (string, map[string]string) {
				return r.pick(it.replies), nil
			},
		})
	}
	return rules
}

func containsAnyPhrase(in string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(in, p) {
			return true
		}
	}
	return false
}

func containsAnyWord(in string, words []string) bool {
	if len(words) == 0 {
		return false
	}
	for _, token := range tokenize(in) {
		for _, w := range words {
			if token == w {
				return true
			}
		}
	}
	return false
}

// tokenize splits on anything that is not a letter, digit, or apostrophe,
// keeping contractions ("what's") as single tokens.
func tokenize(in string) []string {
	return strings.FieldsFunc(in, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// titleCase upper-cases the first rune and lower-cases the rest, for
// presenting captured tokens ("alex" → "Alex").
func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
