// Package respond writes the conversational reply for a resolved intent.
package respond

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"chatedit/server/internal/llm"
	"chatedit/server/internal/model"
)

const (
	maxActions = 5
	maxTips    = 4
)

// ReducedMessage is shown while the language model is unreachable.
const ReducedMessage = "AI assistance is temporarily limited, so I'm running with reduced functionality. You can still start these edits manually."

type Action struct {
	Label   string `json:"label"`
	Command string `json:"command"`
	Kind    string `json:"kind"`
}

type Reply struct {
	Message  string   `json:"message"`
	Actions  []Action `json:"actions"`
	Tips     []string `json:"tips"`
	Fallback bool     `json:"fallback"`
}

// Outcome is what happened to the intent after resolution. A nil Outcome
// means nothing was attempted.
type Outcome struct {
	OperationID string `json:"operation_id,omitempty"`
	Started     bool   `json:"started"`
	// Confirm is set when the intent was held back for confirmation.
	Confirm bool   `json:"confirm,omitempty"`
	Message string `json:"message,omitempty"`
}

// Composer never writes anything; it reads the intent and context only.
type Composer struct {
	llm llm.Connector
	log *slog.Logger
}

func New(conn llm.Connector, logger *slog.Logger) *Composer {
	if conn == nil {
		conn = llm.Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{llm: conn, log: logger}
}

type modelReply struct {
	Message string   `json:"message"`
	Actions []Action `json:"actions"`
	Tips    []string `json:"tips"`
}

// Compose returns a reply for in. It does not fail: a degraded connector
// yields the reduced-functionality reply and malformed output yields the
// static reply for the intent's kind.
func (c *Composer) Compose(ctx context.Context, in model.Intent, mc model.Context, outcome *Outcome) Reply {
	raw, err := c.llm.Complete(ctx, llm.Request{
		System: systemPrompt,
		Prompt: prompt(in, mc, outcome),
		JSON:   true,
	})
	if err != nil {
		if llm.Degraded(err) {
			c.log.Warn("composer degraded", "session_id", mc.SessionID, "cause", llm.Cause(err), "error", err)
			return c.Reduced()
		}
		c.log.Info("composer call failed", "session_id", mc.SessionID, "error", err)
		return c.Static(in, outcome)
	}

	var reply modelReply
	if err := llm.DecodeJSON(raw, &reply); err != nil || strings.TrimSpace(reply.Message) == "" {
		c.log.Info("unparseable composer reply", "session_id", mc.SessionID, "error", err)
		return c.Static(in, outcome)
	}
	out := Reply{
		Message:  strings.TrimSpace(reply.Message),
		Actions:  clean(reply.Actions),
		Tips:     trimTips(reply.Tips),
		Fallback: in.Fallback,
	}
	if len(out.Actions) == 0 {
		out.Actions = lookup(in.Action).actions
	}
	return out
}

// Reduced is the fixed reply used while the language model is unavailable.
func (c *Composer) Reduced() Reply {
	return Reply{
		Message: ReducedMessage,
		Actions: []Action{
			action("trim", "trim the first 30 seconds", string(model.ActionTrim)),
			action("apply effect", "apply a blur effect", string(model.ActionFilter)),
			// Speed has no transformation; the kind stays unknown so a
			// client never dispatches it.
			action("adjust speed", "speed up the video", string(model.ActionUnknown)),
		},
		Tips:     []string{"Simple commands like \"trim first 10 seconds\" still work."},
		Fallback: true,
	}
}

// Static builds the reply from the per-kind table without the language model.
func (c *Composer) Static(in model.Intent, outcome *Outcome) Reply {
	entry := lookup(in.Action)
	return Reply{
		Message:  staticMessage(in, outcome, entry.message),
		Actions:  entry.actions,
		Tips:     entry.tips,
		Fallback: in.Fallback,
	}
}

func staticMessage(in model.Intent, outcome *Outcome, base string) string {
	switch {
	case outcome == nil:
		return base
	case outcome.Confirm:
		return fmt.Sprintf("I think you want a %s edit, but I'm not certain. Confirm and I'll start it.", in.Action)
	case outcome.Started:
		return fmt.Sprintf("%s Operation %s is processing.", base, outcome.OperationID)
	case outcome.Message != "":
		return outcome.Message
	}
	return base
}

// Casers carry state, so each call builds its own.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

func action(label, command, kind string) Action {
	return Action{Label: titleCase(label), Command: command, Kind: kind}
}

func clean(in []Action) []Action {
	out := make([]Action, 0, len(in))
	for _, a := range in {
		a.Command = strings.TrimSpace(a.Command)
		if a.Command == "" {
			continue
		}
		kind := model.ParseActionKind(a.Kind)
		a.Kind = string(kind)
		label := strings.TrimSpace(a.Label)
		if label == "" {
			label = string(kind)
		}
		a.Label = titleCase(label)
		out = append(out, a)
		if len(out) == maxActions {
			break
		}
	}
	return out
}

func trimTips(tips []string) []string {
	out := make([]string, 0, len(tips))
	for _, t := range tips {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
		if len(out) == maxTips {
			break
		}
	}
	return out
}

const systemPrompt = `You are the assistant of a chat-based video editor. Given the resolved edit and what happened to it, write a short friendly reply.
Reply with a single JSON object and nothing else:
{"message": "<1-3 sentences>", "actions": [{"label": "<button text>", "command": "<command the user could type>", "kind": "<action>"}], "tips": ["<short tip>"]}
Offer at most 5 actions and 4 tips.`

func prompt(in model.Intent, mc model.Context, outcome *Outcome) string {
	var b strings.Builder
	intentJSON, _ := json.Marshal(in)
	fmt.Fprintf(&b, "Intent: %s\n", intentJSON)
	if outcome != nil {
		outcomeJSON, _ := json.Marshal(outcome)
		fmt.Fprintf(&b, "Outcome: %s\n", outcomeJSON)
	}
	if mc.MediaName != "" {
		fmt.Fprintf(&b, "Media: %s", mc.MediaName)
		if mc.DurationSec > 0 {
			fmt.Fprintf(&b, " (%.1fs)", mc.DurationSec)
		}
		b.WriteString("\n")
	}
	if n := len(mc.History); n > 0 {
		last := mc.History[n-1]
		fmt.Fprintf(&b, "Last message (%s): %s\n", last.Role, last.Content)
	}
	return b.String()
}
