package chat

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"chatedit/server/internal/dispatch"
	"chatedit/server/internal/engine"
	"chatedit/server/internal/events"
	"chatedit/server/internal/intent"
	"chatedit/server/internal/ledger"
	"chatedit/server/internal/llm"
	"chatedit/server/internal/model"
	"chatedit/server/internal/respond"
	"chatedit/server/internal/store"
	"chatedit/server/internal/telemetry"
	"chatedit/server/internal/tracker"
)

type scripted struct {
	reply string
	err   error
}

func (s *scripted) Complete(ctx context.Context, req llm.Request) (string, error) {
	return s.reply, s.err
}

type fixture struct {
	svc      *Service
	st       *store.MemoryStore
	tr       *tracker.Tracker
	ledger   *ledger.Ledger
	d        *dispatch.Dispatcher
	media    model.Media
	root     model.Version
	intentLM *scripted
	replyLM  *scripted
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := telemetry.Discard()
	st := store.NewMemoryStore()
	mock := engine.NewMock(20 * time.Millisecond)
	eng := engine.New(mock, filepath.Join(t.TempDir(), "artifacts"), logger)
	tr := tracker.New(st, events.NewHub(), logger)
	l := ledger.New(st)
	d := dispatch.New(eng, tr, l, st, logger, dispatch.Options{})
	intentLM := &scripted{err: llm.ErrAuth}
	replyLM := &scripted{reply: "not json"}
	svc := NewService(st,
		intent.New(intentLM, llm.EstimateCounter{}, 0, logger),
		respond.New(replyLM, logger),
		d, tr, l, mock, logger, Options{})

	media, root, err := svc.RegisterMedia(context.Background(), "u1", RegisterInput{Path: "/uploads/clip.mp4"})
	if err != nil {
		t.Fatalf("register media: %v", err)
	}
	return &fixture{svc: svc, st: st, tr: tr, ledger: l, d: d, media: media, root: root, intentLM: intentLM, replyLM: replyLM}
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.d.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestRegisterMediaProbesAndCreatesRoot(t *testing.T) {
	f := newFixture(t)
	if f.media.Name != "clip.mp4" || f.media.DurationSec != 60 || f.media.Width != 1920 {
		t.Fatalf("media=%+v", f.media)
	}
	if !f.root.IsRoot() || f.media.RootVersionID != f.root.ID || f.root.ArtifactPath != "/uploads/clip.mp4" {
		t.Fatalf("root=%+v media=%+v", f.root, f.media)
	}
	if _, _, err := f.svc.RegisterMedia(context.Background(), "u1", RegisterInput{}); !errors.Is(err, store.ErrBadRequest) {
		t.Fatalf("empty path err=%v", err)
	}
}

func TestProcessCommandTrimsFirstTenSeconds(t *testing.T) {
	f := newFixture(t)
	f.intentLM.err = nil
	f.intentLM.reply = `{"action":"trim","parameters":{"startTime":0,"duration":10},"confidence":0.9,"explanation":"keep the opening"}`
	ctx := context.Background()

	out, err := f.svc.ProcessCommand(ctx, CommandInput{SessionID: "s1", UserID: "u1", Message: "trim first 10 seconds", Media: model.MediaRef{MediaID: f.media.ID}})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Intent.Action != model.ActionTrim || out.Operation == nil || out.Reply == "" || len(out.Actions) == 0 {
		t.Fatalf("reply=%+v", out)
	}
	if out.Operation.Status != model.OperationProcessing {
		t.Fatalf("status=%s", out.Operation.Status)
	}
	f.wait(t)

	op, err := f.svc.GetOperationStatus(ctx, "u1", out.Operation.ID)
	if err != nil || op.Status != model.OperationCompleted {
		t.Fatalf("op=%+v err=%v", op, err)
	}
	v, _ := f.ledger.Get(ctx, op.Result.VersionID)
	if *v.ParentID != f.root.ID || v.Action != model.ActionTrim {
		t.Fatalf("version=%+v", v)
	}

	turns, err := f.svc.Turns(ctx, "u1", "s1", 0)
	if err != nil || len(turns) != 2 {
		t.Fatalf("turns=%+v err=%v", turns, err)
	}
	if turns[0].Role != model.RoleUserTurn || turns[1].OperationRef != op.ID || turns[1].IntentRef == nil || turns[1].SessionID != "s1" {
		t.Fatalf("turns=%+v", turns)
	}
	if _, err := f.svc.GetOperationStatus(ctx, "u2", op.ID); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("foreign status err=%v", err)
	}
}

func TestProcessCommandUnsupportedAction(t *testing.T) {
	f := newFixture(t)
	f.intentLM.err = nil
	f.intentLM.reply = `{"action":"holographic_render","confidence":0.9}`
	ctx := context.Background()

	out, err := f.svc.ProcessCommand(ctx, CommandInput{SessionID: "s1", UserID: "u1", Message: "holographic_render my video", Media: model.MediaRef{MediaID: f.media.ID}})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Operation != nil || out.Reply != model.UnsupportedMessage {
		t.Fatalf("reply=%+v", out)
	}
	ops, _ := f.svc.ListOperations(ctx, "u1", f.media.ID)
	versions, _ := f.svc.ListVersions(ctx, "u1", f.media.ID)
	if len(ops) != 0 || len(versions) != 1 {
		t.Fatalf("ops=%d versions=%d", len(ops), len(versions))
	}
}

func TestProcessCommandDegradedStillReplies(t *testing.T) {
	f := newFixture(t)
	f.replyLM.err = llm.ErrQuota
	ctx := context.Background()

	out, err := f.svc.ProcessCommand(ctx, CommandInput{SessionID: "s1", UserID: "u1", Message: "apply a sepia filter", Media: model.MediaRef{MediaID: f.media.ID}})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !out.Fallback || out.Reply != respond.ReducedMessage || len(out.Actions) != 3 {
		t.Fatalf("reply=%+v", out)
	}
	if out.Intent.Action != model.ActionFilter || out.Operation == nil {
		t.Fatalf("fallback intent should still run: %+v", out)
	}
	f.wait(t)
}

func TestProcessCommandHoldsLowConfidence(t *testing.T) {
	f := newFixture(t)
	f.intentLM.err = nil
	f.intentLM.reply = `{"action":"crop","parameters":{"width":640,"height":360},"confidence":0.4}`
	ctx := context.Background()

	out, err := f.svc.ProcessCommand(ctx, CommandInput{SessionID: "s1", UserID: "u1", Message: "maybe make it smaller", Media: model.MediaRef{MediaID: f.media.ID}})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Operation != nil || len(out.Actions) == 0 || out.Actions[0].Label != "Confirm" {
		t.Fatalf("reply=%+v", out)
	}
	ops, _ := f.svc.ListOperations(ctx, "u1", f.media.ID)
	if len(ops) != 0 {
		t.Fatalf("ops=%d", len(ops))
	}
}

func TestProcessCommandAsksForMissingText(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.ProcessCommand(context.Background(), CommandInput{SessionID: "s1", UserID: "u1", Message: "add some text", Media: model.MediaRef{MediaID: f.media.ID}})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Operation != nil || out.Intent.Action != model.ActionChat || out.Reply == "" {
		t.Fatalf("reply=%+v", out)
	}
}

func TestProcessCommandRejectsForeignMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.ProcessCommand(ctx, CommandInput{SessionID: "s1", UserID: "u2", Message: "trim it", Media: model.MediaRef{MediaID: f.media.ID}})
	if !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("err=%v", err)
	}
	if _, err := f.svc.ProcessCommand(ctx, CommandInput{SessionID: "s1", UserID: "u1", Message: "   "}); !errors.Is(err, store.ErrBadRequest) {
		t.Fatalf("empty message err=%v", err)
	}
}

func TestTurnsAreScopedPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.ProcessCommand(ctx, CommandInput{SessionID: "shared", UserID: "u1", Message: "hello there"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	turns, err := f.svc.Turns(ctx, "u2", "shared", 10)
	if err != nil || len(turns) != 0 {
		t.Fatalf("turns=%+v err=%v", turns, err)
	}
}

func TestHeadsAfterBranching(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := model.MediaRef{MediaID: f.media.ID}
	if _, err := f.svc.ExecuteOperation(ctx, "u1", model.ActionTrim, model.Params{"startTime": 0, "duration": 5}, ref); err != nil {
		t.Fatalf("trim: %v", err)
	}
	if _, err := f.svc.ExecuteOperation(ctx, "u1", model.ActionFilter, model.Params{"filterType": "blur"}, ref); err != nil {
		t.Fatalf("filter: %v", err)
	}
	f.wait(t)

	heads, err := f.svc.Heads(ctx, "u1", f.media.ID)
	if err != nil || len(heads) != 2 {
		t.Fatalf("heads=%d err=%v", len(heads), err)
	}
	lineage, err := f.svc.Lineage(ctx, "u1", heads[0].ID)
	if err != nil || len(lineage) != 2 || lineage[0].ID != f.root.ID {
		t.Fatalf("lineage=%+v err=%v", lineage, err)
	}
	children, err := f.svc.ChildVersions(ctx, "u1", f.root.ID)
	if err != nil || len(children) != 2 {
		t.Fatalf("children=%d err=%v", len(children), err)
	}
}
