package events

import (
	"testing"
	"time"

	"chatedit/server/internal/model"
)

func TestPublishAssignsSeqAndDelivers(t *testing.T) {
	h := NewHub()
	_, ch, unsubscribe := h.Subscribe("op1", 4)
	defer unsubscribe()

	first := h.Publish(model.OperationEvent{OperationID: "op1", Type: model.EventOperationCreated})
	second := h.Publish(model.OperationEvent{OperationID: "op1", Type: model.EventOperationProcessing})
	h.Publish(model.OperationEvent{OperationID: "op2", Type: model.EventOperationCreated})

	if first.Seq != 1 || second.Seq != 2 || first.EventID == "" {
		t.Fatalf("seq=%d,%d id=%q", first.Seq, second.Seq, first.EventID)
	}
	for _, want := range []model.OperationEventType{model.EventOperationCreated, model.EventOperationProcessing} {
		select {
		case evt := <-ch:
			if evt.Type != want {
				t.Fatalf("got %s want %s", evt.Type, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event for other operation: %+v", evt)
	default:
	}
}

func TestSinceReplaysBacklog(t *testing.T) {
	h := NewHub()
	for i := 0; i < 3; i++ {
		h.Publish(model.OperationEvent{OperationID: "op1", Type: model.EventOperationProcessing})
	}
	got := h.Since("op1", 1)
	if len(got) != 2 || got[0].Seq != 2 || got[1].Seq != 3 {
		t.Fatalf("since=%+v", got)
	}
	if len(h.Since("missing", 0)) != 0 {
		t.Fatalf("expected empty backlog")
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	h := NewHub()
	_, _, unsubscribe := h.Subscribe("op1", 0)
	defer unsubscribe()
	done := make(chan struct{})
	go func() {
		h.Publish(model.OperationEvent{OperationID: "op1"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
}
