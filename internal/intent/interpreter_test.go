package intent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"chatedit/server/internal/llm"
	"chatedit/server/internal/model"
	"chatedit/server/internal/telemetry"
)

type fakeConnector struct {
	reply string
	err   error
	last  llm.Request
}

func (f *fakeConnector) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.last = req
	return f.reply, f.err
}

func mediaContext() model.Context {
	return model.Context{SessionID: "s1", MediaID: "mediaX", MediaName: "clip.mp4", DurationSec: 60, Width: 1920, Height: 1080}
}

func TestResolveQuotaFallsBackToKeywords(t *testing.T) {
	in := New(&fakeConnector{err: fmt.Errorf("call: %w", llm.ErrQuota)}, nil, 0, telemetry.Discard())
	got := in.Resolve(context.Background(), "trim the first 10 seconds", mediaContext())
	if !got.Fallback || got.Confidence > 0.7 {
		t.Fatalf("intent=%+v", got)
	}
	if got.Action != model.ActionTrim {
		t.Fatalf("action=%s", got.Action)
	}
	if got.Parameters.FloatOr("startTime", -1) != 0 || got.Parameters.FloatOr("duration", -1) != 10 {
		t.Fatalf("params=%+v", got.Parameters)
	}
}

func TestResolveModelTrim(t *testing.T) {
	conn := &fakeConnector{reply: "```json\n{\"action\":\"trim\",\"parameters\":{\"startTime\":0,\"duration\":10},\"confidence\":0.92,\"explanation\":\"keep the opening\"}\n```"}
	in := New(conn, nil, 0, telemetry.Discard())
	got := in.Resolve(context.Background(), "trim first 10 seconds", mediaContext())
	if got.Action != model.ActionTrim || got.Fallback || got.Confidence < 0.7 {
		t.Fatalf("intent=%+v", got)
	}
	if got.Parameters.FloatOr("duration", 0) != 10 {
		t.Fatalf("params=%+v", got.Parameters)
	}
	if !conn.last.JSON || !strings.Contains(conn.last.System, "trim") || !strings.Contains(conn.last.Prompt, "Command: trim first 10 seconds") {
		t.Fatalf("request=%+v", conn.last)
	}
	if !strings.Contains(conn.last.Prompt, "duration 60.0s") {
		t.Fatalf("prompt missing media context: %s", conn.last.Prompt)
	}
}

func TestResolveProseBecomesChat(t *testing.T) {
	in := New(&fakeConnector{reply: "Sure, I can trim that for you!"}, nil, 0, telemetry.Discard())
	got := in.Resolve(context.Background(), "trim it", mediaContext())
	if got.Action != model.ActionChat || got.Confidence != 0.5 || got.Fallback {
		t.Fatalf("intent=%+v", got)
	}
	if got.Explanation != "ambiguous request" {
		t.Fatalf("explanation=%q", got.Explanation)
	}

	blank := New(&fakeConnector{reply: `{"action":"  ","confidence":0.9}`}, nil, 0, telemetry.Discard())
	got = blank.Resolve(context.Background(), "do the thing", mediaContext())
	if got.Action != model.ActionChat || got.Explanation != "ambiguous request" {
		t.Fatalf("blank action intent=%+v", got)
	}
}

func TestResolveUnknownAction(t *testing.T) {
	in := New(&fakeConnector{reply: `{"action":"holographic_render","parameters":{},"confidence":0.9}`}, nil, 0, telemetry.Discard())
	got := in.Resolve(context.Background(), "holographic_render my video", mediaContext())
	if got.Action != model.ActionUnknown {
		t.Fatalf("action=%s", got.Action)
	}

	offline := New(llm.Disabled{}, nil, 0, telemetry.Discard())
	got = offline.Resolve(context.Background(), "holographic_render my video", mediaContext())
	if got.Action != model.ActionChat || !got.Fallback {
		t.Fatalf("offline intent=%+v", got)
	}
}

func TestResolveInvalidParamsBecomeChat(t *testing.T) {
	in := New(&fakeConnector{reply: `{"action":"crop","parameters":{"width":0,"height":10},"confidence":0.95}`}, nil, 0, telemetry.Discard())
	got := in.Resolve(context.Background(), "crop it to nothing", mediaContext())
	if got.Action != model.ActionChat || got.Confidence > 0.5 {
		t.Fatalf("intent=%+v", got)
	}
	if len(got.SuggestedActions) != 1 || got.SuggestedActions[0] != "crop" {
		t.Fatalf("suggested=%v", got.SuggestedActions)
	}
}

func TestResolveClampsConfidence(t *testing.T) {
	in := New(&fakeConnector{reply: `{"action":"export","parameters":{"format":"gif"},"confidence":7}`}, nil, 0, telemetry.Discard())
	got := in.Resolve(context.Background(), "export as gif", mediaContext())
	if got.Action != model.ActionExport || got.Confidence != 1 {
		t.Fatalf("intent=%+v", got)
	}
}

func TestHistoryRespectsBudget(t *testing.T) {
	conn := &fakeConnector{reply: `{"action":"chat","confidence":0.4}`}
	in := New(conn, llm.EstimateCounter{}, 20, telemetry.Discard())
	c := mediaContext()
	for k := 0; k < 10; k++ {
		c.History = append(c.History, model.ConversationTurn{Role: model.RoleUserTurn, Content: fmt.Sprintf("message number %d with some padding", k)})
	}
	in.Resolve(context.Background(), "hello", c)
	if strings.Contains(conn.last.Prompt, "message number 0 ") {
		t.Fatalf("oldest turn should have been dropped: %s", conn.last.Prompt)
	}
	if !strings.Contains(conn.last.Prompt, "message number 9 ") {
		t.Fatalf("newest turn missing: %s", conn.last.Prompt)
	}
	if strings.Index(conn.last.Prompt, "Recent conversation") > strings.Index(conn.last.Prompt, "Command:") {
		t.Fatalf("history must precede the command")
	}
}

func TestFallbackTable(t *testing.T) {
	c := mediaContext()
	cases := []struct {
		msg    string
		action model.ActionKind
		check  func(model.Params) bool
	}{
		{"cut from 1:00 to 1:30", model.ActionTrim, func(p model.Params) bool {
			return p.FloatOr("startTime", 0) == 60 && p.FloatOr("endTime", 0) == 90
		}},
		{"trim to the last 15 seconds", model.ActionTrim, func(p model.Params) bool {
			return p.FloatOr("startTime", 0) == 45 && p.FloatOr("duration", 0) == 15
		}},
		{"crop to 640x360", model.ActionCrop, func(p model.Params) bool {
			return p.FloatOr("width", 0) == 640 && p.FloatOr("height", 0) == 360
		}},
		{"make it black and white", model.ActionFilter, func(p model.Params) bool {
			return p.StringOr("filterType", "") == "grayscale"
		}},
		{"make it brighter", model.ActionColor, func(p model.Params) bool {
			return p.FloatOr("brightness", 0) > 0
		}},
		{"remove the background noise", model.ActionAudio, func(p model.Params) bool {
			return p.StringOr("operation", "") == "denoise"
		}},
		{"fade out the music over 3 seconds", model.ActionAudio, func(p model.Params) bool {
			return p.StringOr("fadeType", "") == "out" && p.FloatOr("fadeDuration", 0) == 3
		}},
		{`add a title "Summer Trip"`, model.ActionText, func(p model.Params) bool {
			return p.StringOr("text", "") == "Summer Trip"
		}},
		{"add a dissolve transition at the end", model.ActionTransition, func(p model.Params) bool {
			return p.StringOr("type", "") == "dissolve" && p.StringOr("position", "") == "end"
		}},
		{"blur the background", model.ActionBackground, func(p model.Params) bool {
			return p.StringOr("backgroundType", "") == "blur"
		}},
		{"export as webm in high quality", model.ActionExport, func(p model.Params) bool {
			return p.StringOr("format", "") == "webm" && p.StringOr("quality", "") == "high"
		}},
	}
	for _, tc := range cases {
		got := Fallback(tc.msg, c)
		if got.Action != tc.action {
			t.Fatalf("%q: action=%s", tc.msg, got.Action)
		}
		if !got.Fallback || got.Confidence > 0.7 {
			t.Fatalf("%q: intent=%+v", tc.msg, got)
		}
		if !tc.check(got.Parameters) {
			t.Fatalf("%q: params=%+v", tc.msg, got.Parameters)
		}
		if err := model.Validate(got.Action, got.Parameters); err != nil {
			t.Fatalf("%q: invalid params: %v", tc.msg, err)
		}
	}
}

func TestFallbackAsksWhenStatedValuesDoNotFit(t *testing.T) {
	cases := []struct {
		msg string
		c   model.Context
	}{
		{"trim the last 10 seconds", model.Context{}},
		{"cut from 20 to 10", mediaContext()},
		{"trim the first 0 seconds", mediaContext()},
		{"cut from 20 to 10", model.Context{}},
	}
	for _, tc := range cases {
		got := Fallback(tc.msg, tc.c)
		if got.Action != model.ActionChat || !got.Fallback {
			t.Fatalf("%q: intent=%+v", tc.msg, got)
		}
		if len(got.SuggestedActions) != 1 || got.SuggestedActions[0] != string(model.ActionTrim) {
			t.Fatalf("%q: suggested=%v", tc.msg, got.SuggestedActions)
		}
		if got.Parameters.Has("duration") || got.Parameters.Has("startTime") {
			t.Fatalf("%q: chat intent carried trim params %+v", tc.msg, got.Parameters)
		}
	}
}

func TestFallbackTrimDefaultsOnlyWithoutValues(t *testing.T) {
	got := Fallback("trim this clip", model.Context{})
	if got.Action != model.ActionTrim || got.Confidence != defaultConfidence {
		t.Fatalf("intent=%+v", got)
	}
	if got.Parameters.FloatOr("duration", 0) != 30 {
		t.Fatalf("params=%+v", got.Parameters)
	}
}

func TestFallbackTextWithoutContentAsks(t *testing.T) {
	got := Fallback("add some text", mediaContext())
	if got.Action != model.ActionChat || !got.Fallback {
		t.Fatalf("intent=%+v", got)
	}
}
