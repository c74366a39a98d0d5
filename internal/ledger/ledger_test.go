package ledger

import (
	"context"
	"testing"
	"time"

	"chatedit/server/internal/model"
	"chatedit/server/internal/store"
)

func seeded(t *testing.T) *Ledger {
	t.Helper()
	st := store.NewMemoryStore()
	_, _, err := st.CreateMedia(context.Background(),
		model.Media{ID: "m1", OwnerID: "u1", Name: "clip.mp4"},
		model.Version{ID: "root", MediaID: "m1", ArtifactPath: "/data/clip.mp4"},
	)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return New(st)
}

func child(parent string, action model.ActionKind) model.Version {
	return model.Version{MediaID: "m1", ParentID: &parent, Action: action, ArtifactPath: "/data/" + string(action) + ".mp4"}
}

func TestAppendAndChildren(t *testing.T) {
	l := seeded(t)
	ctx := context.Background()

	trimID, err := l.Append(ctx, child("root", model.ActionTrim))
	if err != nil {
		t.Fatalf("append trim: %v", err)
	}
	filterID, err := l.Append(ctx, child("root", model.ActionFilter))
	if err != nil {
		t.Fatalf("append filter: %v", err)
	}
	if trimID == "" || trimID == filterID {
		t.Fatalf("ids: %q %q", trimID, filterID)
	}

	kids, err := l.ChildrenOf(ctx, "root")
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(kids) != 2 || kids[0].ID != trimID || kids[1].ID != filterID {
		t.Fatalf("children=%+v", kids)
	}
	got, err := l.Get(ctx, trimID)
	if err != nil || got.CreatedAt.IsZero() {
		t.Fatalf("get=%+v err=%v", got, err)
	}

	if _, err := l.Append(ctx, child("missing", model.ActionCrop)); !IsNotFound(err) {
		t.Fatalf("missing parent err=%v", err)
	}
}

func TestHeadsAndLineage(t *testing.T) {
	l := seeded(t)
	ctx := context.Background()
	a, _ := l.Append(ctx, child("root", model.ActionTrim))
	b, _ := l.Append(ctx, child("root", model.ActionFilter))
	c, _ := l.Append(ctx, child(a, model.ActionColor))

	head, err := l.Head(ctx, "m1")
	if err != nil || head.ID != c {
		t.Fatalf("head=%+v err=%v", head, err)
	}

	leaves, err := l.Leaves(ctx, "m1")
	if err != nil {
		t.Fatalf("leaves: %v", err)
	}
	if len(leaves) != 2 || leaves[0].ID != c || leaves[1].ID != b {
		t.Fatalf("leaves=%+v", leaves)
	}

	path, err := l.Lineage(ctx, c)
	if err != nil {
		t.Fatalf("lineage: %v", err)
	}
	if len(path) != 3 || path[0].ID != "root" || path[1].ID != a || path[2].ID != c {
		t.Fatalf("path=%+v", path)
	}

	all, _ := l.ListByMedia(ctx, "m1")
	if len(all) != 4 {
		t.Fatalf("list=%d", len(all))
	}
}

func TestDerive(t *testing.T) {
	op := model.Operation{
		ID: "op1", MediaID: "m1", SourceVersionID: "root", Action: model.ActionTrim,
		Parameters: model.Params{"startTime": 0.0, "duration": 10.0}, CreatedBy: "u1",
	}
	now := time.Now()
	v := Derive(op, "/data/out.mp4", now)
	if v.ParentID == nil || *v.ParentID != "root" || v.ProducedByOperationID != "op1" {
		t.Fatalf("version=%+v", v)
	}
	op.Parameters["duration"] = 20.0
	if v.Parameters["duration"] != 10.0 {
		t.Fatalf("parameters shared with operation")
	}
	if v.ID == "" {
		t.Fatalf("missing id")
	}
}
