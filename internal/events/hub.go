package events

import (
	"sync"

	"chatedit/server/internal/model"

	"github.com/google/uuid"
)

const defaultBacklog = 64

// Hub fans operation events out to subscribers and keeps a short backlog per
// operation so late subscribers can replay what they missed.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[string]chan model.OperationEvent
	backlog map[string][]model.OperationEvent
	seq     map[string]int64
	keep    int
}

func NewHub() *Hub {
	return &Hub{
		subs:    map[string]map[string]chan model.OperationEvent{},
		backlog: map[string][]model.OperationEvent{},
		seq:     map[string]int64{},
		keep:    defaultBacklog,
	}
}

func (h *Hub) Subscribe(operationID string, buf int) (string, <-chan model.OperationEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subID := uuid.NewString()
	if _, ok := h.subs[operationID]; !ok {
		h.subs[operationID] = map[string]chan model.OperationEvent{}
	}
	ch := make(chan model.OperationEvent, buf)
	h.subs[operationID][subID] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		opSubs, ok := h.subs[operationID]
		if !ok {
			return
		}
		c, ok := opSubs[subID]
		if !ok {
			return
		}
		delete(opSubs, subID)
		close(c)
		if len(opSubs) == 0 {
			delete(h.subs, operationID)
		}
	}
	return subID, ch, unsubscribe
}

// Publish assigns the event its id and per-operation sequence number, records
// it in the backlog and delivers it to current subscribers.
func (h *Hub) Publish(evt model.OperationEvent) model.OperationEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq[evt.OperationID]++
	evt.Seq = h.seq[evt.OperationID]
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	log := append(h.backlog[evt.OperationID], evt)
	if len(log) > h.keep {
		log = log[len(log)-h.keep:]
	}
	h.backlog[evt.OperationID] = log

	for _, ch := range h.subs[evt.OperationID] {
		select {
		case ch <- evt:
		default:
			// Drop stale subscribers to keep producer non-blocking.
		}
	}
	return evt
}

// Since returns backlog events with Seq greater than fromSeq.
func (h *Hub) Since(operationID string, fromSeq int64) []model.OperationEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]model.OperationEvent, 0)
	for _, evt := range h.backlog[operationID] {
		if evt.Seq > fromSeq {
			out = append(out, evt)
		}
	}
	return out
}
