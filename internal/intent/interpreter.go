// Package intent turns a free-form edit command into a structured intent,
// using the language model when it is reachable and a keyword table when it
// is not.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"chatedit/server/internal/llm"
	"chatedit/server/internal/model"
)

const defaultHistoryBudget = 1500

// Interpreter resolves commands. It never fails: every path ends in some
// model.Intent, possibly a chat intent.
type Interpreter struct {
	llm    llm.Connector
	tokens llm.TokenCounter
	budget int
	log    *slog.Logger
}

// New builds an interpreter. budget caps the tokens of conversation history
// sent with each prompt.
func New(conn llm.Connector, tokens llm.TokenCounter, budget int, logger *slog.Logger) *Interpreter {
	if conn == nil {
		conn = llm.Disabled{}
	}
	if tokens == nil {
		tokens = llm.EstimateCounter{}
	}
	if budget <= 0 {
		budget = defaultHistoryBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{llm: conn, tokens: tokens, budget: budget, log: logger}
}

type modelReply struct {
	Action           string       `json:"action"`
	Parameters       model.Params `json:"parameters"`
	Confidence       *float64     `json:"confidence"`
	Explanation      string       `json:"explanation"`
	SuggestedActions []string     `json:"suggested_actions"`
}

// Resolve maps message to an intent. Connector failures switch to the
// keyword fallback; output that cannot be decoded becomes a low-confidence
// chat intent.
func (i *Interpreter) Resolve(ctx context.Context, message string, c model.Context) model.Intent {
	message = strings.TrimSpace(message)
	if message == "" {
		return model.ChatIntent(0, "Empty command.")
	}

	raw, err := i.llm.Complete(ctx, llm.Request{
		System: systemPrompt(),
		Prompt: i.userPrompt(message, c),
		JSON:   true,
	})
	if err != nil {
		rerr := &model.IntentResolutionError{Reason: llm.Cause(err), Err: err}
		i.log.Warn("intent resolution degraded", "session_id", c.SessionID, "error", rerr)
		return Fallback(message, c)
	}

	var reply modelReply
	if err := llm.DecodeJSON(raw, &reply); err != nil || strings.TrimSpace(reply.Action) == "" {
		i.log.Info("unparseable intent reply", "session_id", c.SessionID, "error", err)
		return model.ChatIntent(0.5, ambiguousRequest)
	}
	return i.accept(reply)
}

// ambiguousRequest explains a model reply that named no usable action.
const ambiguousRequest = "ambiguous request"

func (i *Interpreter) accept(reply modelReply) model.Intent {
	kind := model.ParseActionKind(reply.Action)
	conf := 0.8
	if reply.Confidence != nil {
		conf = clamp(*reply.Confidence)
	}
	params := reply.Parameters
	if params == nil {
		params = model.Params{}
	}
	in := model.Intent{
		Action:           kind,
		Parameters:       params,
		Confidence:       conf,
		Explanation:      reply.Explanation,
		SuggestedActions: reply.SuggestedActions,
	}
	if !kind.Transformable() {
		return in
	}
	if err := model.Validate(kind, params); err != nil {
		i.log.Info("intent parameters rejected", "action", kind, "error", err)
		out := model.ChatIntent(math.Min(conf, 0.5), fmt.Sprintf("That looks like a %s edit, but %v.", kind, err))
		out.SuggestedActions = []string{string(kind)}
		return out
	}
	return in
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func systemPrompt() string {
	kinds := make([]string, 0, len(model.ActionKinds))
	for _, k := range model.ActionKinds {
		kinds = append(kinds, string(k))
	}
	var b strings.Builder
	b.WriteString("You translate video editing requests into one structured action.\n")
	b.WriteString("Allowed actions: " + strings.Join(kinds, ", ") + ".\n")
	b.WriteString("Use chat when the request is a question or cannot be mapped to an edit.\n")
	b.WriteString("Parameters per action:\n")
	b.WriteString(model.SchemaPrompt())
	b.WriteString("\nReply with a single JSON object and nothing else:\n")
	b.WriteString(`{"action": "<action>", "parameters": {...}, "confidence": 0.0-1.0, "explanation": "<one sentence>", "suggested_actions": ["<action>", ...]}`)
	return b.String()
}

func (i *Interpreter) userPrompt(message string, c model.Context) string {
	var b strings.Builder
	if c.MediaID != "" {
		fmt.Fprintf(&b, "Media: %s", c.MediaID)
		if c.MediaName != "" {
			fmt.Fprintf(&b, " (%s)", c.MediaName)
		}
		if c.DurationSec > 0 {
			fmt.Fprintf(&b, ", duration %.1fs", c.DurationSec)
		}
		if c.Width > 0 && c.Height > 0 {
			fmt.Fprintf(&b, ", %dx%d", c.Width, c.Height)
		}
		b.WriteString("\n")
	}
	if history := i.history(c.History); history != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(history)
	}
	b.WriteString("Command: ")
	b.WriteString(message)
	return b.String()
}

// history renders the newest turns that fit the token budget, oldest first.
func (i *Interpreter) history(turns []model.ConversationTurn) string {
	lines := make([]string, 0, len(turns))
	used := 0
	for k := len(turns) - 1; k >= 0; k-- {
		line := fmt.Sprintf("%s: %s\n", turns[k].Role, turns[k].Content)
		n := i.tokens.Count(line)
		if used+n > i.budget {
			break
		}
		used += n
		lines = append(lines, line)
	}
	var b strings.Builder
	for k := len(lines) - 1; k >= 0; k-- {
		b.WriteString(lines[k])
	}
	return b.String()
}
