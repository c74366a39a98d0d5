package model

import (
	"math"
	"strconv"
	"strings"
)

// ActionKind is the closed set of edits a command can resolve to.
type ActionKind string

const (
	ActionTrim       ActionKind = "trim"
	ActionCrop       ActionKind = "crop"
	ActionFilter     ActionKind = "filter"
	ActionColor      ActionKind = "color"
	ActionAudio      ActionKind = "audio"
	ActionText       ActionKind = "text"
	ActionTransition ActionKind = "transition"
	ActionBackground ActionKind = "background"
	ActionAnalyze    ActionKind = "analyze"
	ActionExport     ActionKind = "export"
	ActionChat       ActionKind = "chat"
	ActionUnknown    ActionKind = "unknown"
)

// ActionKinds lists every kind in prompt order.
var ActionKinds = []ActionKind{
	ActionTrim,
	ActionCrop,
	ActionFilter,
	ActionColor,
	ActionAudio,
	ActionText,
	ActionTransition,
	ActionBackground,
	ActionAnalyze,
	ActionExport,
	ActionChat,
	ActionUnknown,
}

// ParseActionKind maps free-form model output onto the closed set. Anything
// it does not recognise becomes ActionUnknown.
func ParseActionKind(raw string) ActionKind {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.TrimSuffix(v, "_video")
	switch v {
	case "trim", "cut":
		return ActionTrim
	case "crop":
		return ActionCrop
	case "filter", "effect":
		return ActionFilter
	case "color", "colour", "color_grade", "color_correction":
		return ActionColor
	case "audio", "sound":
		return ActionAudio
	case "text", "caption", "title":
		return ActionText
	case "transition":
		return ActionTransition
	case "background":
		return ActionBackground
	case "analyze", "analyse", "analysis":
		return ActionAnalyze
	case "export":
		return ActionExport
	case "chat", "conversation", "none":
		return ActionChat
	default:
		return ActionUnknown
	}
}

// Transformable reports whether the engine has a handler for the kind.
func (k ActionKind) Transformable() bool {
	switch k {
	case ActionTrim, ActionCrop, ActionFilter, ActionColor, ActionAudio,
		ActionText, ActionTransition, ActionBackground, ActionExport:
		return true
	case ActionAnalyze, ActionChat, ActionUnknown:
		return false
	}
	return false
}

// Params is the loosely-typed parameter map carried by intents and
// operations. Numbers decoded from JSON arrive as float64.
type Params map[string]any

func (p Params) Has(key string) bool {
	if p == nil {
		return false
	}
	v, ok := p[key]
	return ok && v != nil
}

// Float reads a numeric parameter, accepting numeric strings.
func (p Params) Float(key string) (float64, bool) {
	if p == nil {
		return 0, false
	}
	switch v := p[key].(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func (p Params) FloatOr(key string, def float64) float64 {
	if f, ok := p.Float(key); ok {
		return f
	}
	return def
}

func (p Params) String(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	s, ok := p[key].(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func (p Params) StringOr(key, def string) string {
	if s, ok := p.String(key); ok {
		return s
	}
	return def
}

func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

type Intent struct {
	Action           ActionKind `json:"action"`
	Parameters       Params     `json:"parameters"`
	Confidence       float64    `json:"confidence"`
	Explanation      string     `json:"explanation"`
	SuggestedActions []string   `json:"suggested_actions,omitempty"`
	Fallback         bool       `json:"fallback"`
}

// ChatIntent is the catch-all returned when a command cannot be mapped onto
// an edit.
func ChatIntent(confidence float64, explanation string) Intent {
	return Intent{
		Action:      ActionChat,
		Parameters:  Params{},
		Confidence:  confidence,
		Explanation: explanation,
	}
}
