package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chatedit/server/internal/model"
	"chatedit/server/internal/telemetry"
)

type recordingToolchain struct {
	mu   sync.Mutex
	reqs []Request
	err  error
}

func (r *recordingToolchain) Run(ctx context.Context, req Request) (Output, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	if r.err != nil {
		return Output{}, r.err
	}
	return Output{OutputPath: req.OutputPath, Metadata: map[string]any{"toolchain": "recording"}}, nil
}

func newEngine(t *testing.T, tc Toolchain) *Engine {
	t.Helper()
	return New(tc, filepath.Join(t.TempDir(), "out"), telemetry.Discard())
}

func TestExecuteNormalizesTrim(t *testing.T) {
	tc := &recordingToolchain{}
	e := newEngine(t, tc)
	res, err := e.Execute(context.Background(), model.ActionTrim, Source{Path: "/media/Holiday Clip.mp4", DurationSec: 60},
		model.Params{"startTime": 5, "endTime": 15})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(tc.reqs) != 1 {
		t.Fatalf("toolchain calls=%d", len(tc.reqs))
	}
	req := tc.reqs[0]
	if req.Params["startTime"] != 5.0 || req.Params["duration"] != 10.0 {
		t.Fatalf("params=%+v", req.Params)
	}
	base := filepath.Base(res.OutputPath)
	if !strings.HasPrefix(base, "Holiday_Clip_trim_") || !strings.HasSuffix(base, ".mp4") {
		t.Fatalf("output name=%s", base)
	}
	if res.Metadata["toolchain"] != "recording" {
		t.Fatalf("metadata=%+v", res.Metadata)
	}
}

func TestOutputNamesAreUnique(t *testing.T) {
	e := newEngine(t, &recordingToolchain{})
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		p := e.OutputPath("/media/clip.mp4", model.ActionFilter, "")
		if seen[p] {
			t.Fatalf("duplicate output path %s", p)
		}
		seen[p] = true
	}
	if got := e.OutputPath("/media/clip.mp4", model.ActionExport, ".webm"); !strings.HasSuffix(got, ".webm") {
		t.Fatalf("export ext: %s", got)
	}
}

func TestExecuteRejectsInvalidParams(t *testing.T) {
	tc := &recordingToolchain{}
	e := newEngine(t, tc)
	_, err := e.Execute(context.Background(), model.ActionCrop, Source{Path: "/media/clip.mp4"}, model.Params{"width": 0, "height": 10})
	var terr *model.TransformationError
	if !errors.As(err, &terr) {
		t.Fatalf("err=%v", err)
	}
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected wrapped validation error, got %v", err)
	}
	if len(tc.reqs) != 0 {
		t.Fatalf("toolchain should not run")
	}
}

func TestExecuteUnsupportedKinds(t *testing.T) {
	e := newEngine(t, &recordingToolchain{})
	for _, kind := range []model.ActionKind{model.ActionAnalyze, model.ActionChat, model.ActionUnknown} {
		_, err := e.Execute(context.Background(), kind, Source{Path: "/media/clip.mp4"}, model.Params{})
		var unsupported *model.UnsupportedActionError
		if !errors.As(err, &unsupported) {
			t.Fatalf("%s: err=%v", kind, err)
		}
	}
}

func TestEveryTransformableKindHasHandler(t *testing.T) {
	samples := map[model.ActionKind]model.Params{
		model.ActionTrim:       {"startTime": 0, "duration": 10},
		model.ActionCrop:       {"width": 640, "height": 360},
		model.ActionFilter:     {"filterType": "sepia"},
		model.ActionColor:      {"brightness": 0.1},
		model.ActionAudio:      {"operation": "normalize"},
		model.ActionText:       {"text": "Hello"},
		model.ActionTransition: {"type": "fade", "duration": 1},
		model.ActionBackground: {"action": "remove"},
		model.ActionExport:     {"format": "webm"},
	}
	for _, kind := range model.ActionKinds {
		if !kind.Transformable() {
			continue
		}
		params, ok := samples[kind]
		if !ok {
			t.Fatalf("no sample for %s", kind)
		}
		tc := &recordingToolchain{}
		e := newEngine(t, tc)
		if _, err := e.Execute(context.Background(), kind, Source{Path: "/media/clip.mp4"}, params); err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if len(tc.reqs) != 1 || tc.reqs[0].Operation != kind {
			t.Fatalf("%s: reqs=%+v", kind, tc.reqs)
		}
	}
}

func TestToolchainFailureBecomesTransformationError(t *testing.T) {
	tc := &recordingToolchain{err: &ToolchainError{Tool: "ffmpeg", Err: errors.New("exit status 1"), Detail: "Invalid data found when processing input"}}
	e := newEngine(t, tc)
	_, err := e.Execute(context.Background(), model.ActionFilter, Source{Path: "/media/clip.mp4"}, model.Params{"filterType": "blur"})
	var terr *model.TransformationError
	if !errors.As(err, &terr) {
		t.Fatalf("err=%v", err)
	}
	if terr.Message != "Invalid data found when processing input" {
		t.Fatalf("message=%q", terr.Message)
	}
}

func TestToolchainTimeout(t *testing.T) {
	e := newEngine(t, NewMock(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Execute(ctx, model.ActionTrim, Source{Path: "/media/clip.mp4"}, model.Params{"startTime": 0, "duration": 5})
	var terr *model.TransformationError
	if !errors.As(err, &terr) || terr.Message != "toolchain timed out" {
		t.Fatalf("err=%v", err)
	}
}

func TestTrimPastEnd(t *testing.T) {
	e := newEngine(t, &recordingToolchain{})
	_, err := e.Execute(context.Background(), model.ActionTrim, Source{Path: "/media/clip.mp4", DurationSec: 30}, model.Params{"startTime": 45, "duration": 5})
	var terr *model.TransformationError
	if !errors.As(err, &terr) {
		t.Fatalf("err=%v", err)
	}
}

func TestMockWritesArtifact(t *testing.T) {
	m := NewMock(0)
	out := filepath.Join(t.TempDir(), "a", "clip_trim_x.mp4")
	if _, err := m.Run(context.Background(), Request{Operation: model.ActionTrim, SourcePath: "/media/clip.mp4", OutputPath: out}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	m.FailActions = map[model.ActionKind]bool{model.ActionCrop: true}
	if _, err := m.Run(context.Background(), Request{Operation: model.ActionCrop, OutputPath: out}); err == nil {
		t.Fatalf("expected simulated failure")
	}
}
