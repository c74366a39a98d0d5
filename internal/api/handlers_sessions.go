package api

import (
	"net/http"
	"strconv"
	"strings"

	"chatedit/server/internal/chat"
	"chatedit/server/internal/model"

	"github.com/gin-gonic/gin"
)

type commandRequest struct {
	Message   string `json:"message" binding:"required"`
	MediaID   string `json:"media_id"`
	VersionID string `json:"version_id"`
}

func (s *Server) processCommand(c *gin.Context) {
	var req commandRequest
	if !bindJSON(c, &req, "message is required") {
		return
	}
	out, err := s.chat.ProcessCommand(c.Request.Context(), chat.CommandInput{
		SessionID: c.Param("session_id"),
		UserID:    userIDFromContext(c),
		Message:   req.Message,
		Media: model.MediaRef{
			MediaID:   strings.TrimSpace(req.MediaID),
			VersionID: strings.TrimSpace(req.VersionID),
		},
	})
	if err != nil {
		writeServiceError(c, "MEDIA", err)
		return
	}
	writeData(c, http.StatusOK, out)
}

func (s *Server) listTurns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	turns, err := s.chat.Turns(c.Request.Context(), userIDFromContext(c), c.Param("session_id"), limit)
	if err != nil {
		writeServiceError(c, "SESSION", err)
		return
	}
	writeData(c, http.StatusOK, gin.H{"items": turns})
}
