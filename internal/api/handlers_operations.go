package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"chatedit/server/internal/model"

	"github.com/gin-gonic/gin"
)

const sseHeartbeat = 15 * time.Second

func (s *Server) getOperation(c *gin.Context) {
	op, err := s.chat.GetOperationStatus(c.Request.Context(), userIDFromContext(c), c.Param("operation_id"))
	if err != nil {
		writeServiceError(c, "OPERATION", err)
		return
	}
	writeData(c, http.StatusOK, op)
}

// streamOperationEvents replays missed events after Last-Event-ID (or
// from_seq) and then streams live ones until the operation reaches a
// terminal state or the client goes away.
func (s *Server) streamOperationEvents(c *gin.Context) {
	operationID := c.Param("operation_id")
	userID := userIDFromContext(c)
	op, err := s.chat.GetOperationStatus(c.Request.Context(), userID, operationID)
	if err != nil {
		writeServiceError(c, "OPERATION", err)
		return
	}

	fromSeq := parseLastEventSeq(c.GetHeader("Last-Event-ID"))
	if q := c.Query("from_seq"); q != "" {
		if v, err := strconv.ParseInt(q, 10, 64); err == nil && v > 0 {
			fromSeq = v
		}
	}

	// Subscribe before reading the backlog so nothing published in between
	// is lost; duplicates are skipped by sequence.
	_, sub, unsubscribe := s.events.Subscribe(operationID, 32)
	defer unsubscribe()
	backlog := s.events.Since(operationID, fromSeq)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, http.StatusInternalServerError, "SSE_UNSUPPORTED", "Streaming unsupported", false, nil)
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	last := fromSeq
	for _, evt := range backlog {
		writeSSE(c, evt)
		last = evt.Seq
		if terminalEvent(evt) {
			flusher.Flush()
			return
		}
	}
	if op.Status.Terminal() {
		// Events were published before this process started; send the
		// final state once.
		writeSnapshot(c, op)
		flusher.Flush()
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if evt.Seq <= last {
				continue
			}
			last = evt.Seq
			writeSSE(c, evt)
			flusher.Flush()
			if terminalEvent(evt) {
				return
			}
		case <-heartbeat.C:
			fmt.Fprintf(c.Writer, ": ping %d\n\n", time.Now().Unix())
			flusher.Flush()
		}
	}
}

func terminalEvent(evt model.OperationEvent) bool {
	return evt.Type == model.EventOperationCompleted || evt.Type == model.EventOperationFailed
}

func writeSSE(c *gin.Context, evt model.OperationEvent) {
	payload, _ := json.Marshal(evt)
	fmt.Fprintf(c.Writer, "id: %d\n", evt.Seq)
	fmt.Fprintf(c.Writer, "event: %s\n", evt.Type)
	fmt.Fprintf(c.Writer, "data: %s\n\n", string(payload))
}

func writeSnapshot(c *gin.Context, op model.Operation) {
	payload, _ := json.Marshal(op)
	fmt.Fprintf(c.Writer, "event: snapshot\n")
	fmt.Fprintf(c.Writer, "data: %s\n\n", string(payload))
}

func parseLastEventSeq(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (s *Server) getVersion(c *gin.Context) {
	v, err := s.chat.GetVersion(c.Request.Context(), userIDFromContext(c), c.Param("version_id"))
	if err != nil {
		writeServiceError(c, "VERSION", err)
		return
	}
	writeData(c, http.StatusOK, v)
}

func (s *Server) listChildren(c *gin.Context) {
	items, err := s.chat.ChildVersions(c.Request.Context(), userIDFromContext(c), c.Param("version_id"))
	if err != nil {
		writeServiceError(c, "VERSION", err)
		return
	}
	writeData(c, http.StatusOK, gin.H{"items": items})
}

func (s *Server) getLineage(c *gin.Context) {
	items, err := s.chat.Lineage(c.Request.Context(), userIDFromContext(c), c.Param("version_id"))
	if err != nil {
		writeServiceError(c, "VERSION", err)
		return
	}
	writeData(c, http.StatusOK, gin.H{"items": items})
}
