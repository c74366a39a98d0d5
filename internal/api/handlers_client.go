package api

import (
	"net/http"

	"chatedit/server/internal/model"

	"github.com/gin-gonic/gin"
)

func (s *Server) clientBootstrap(c *gin.Context) {
	kinds := make([]string, 0, len(model.ActionKinds))
	for _, k := range model.ActionKinds {
		if k.Transformable() {
			kinds = append(kinds, string(k))
		}
	}
	writeData(c, http.StatusOK, gin.H{
		"actions": kinds,
		"feature_flags": gin.H{
			"sse_operation_events": true,
			"uploads":              s.opts.UploadDir != "",
			"version_branches":     true,
		},
		"degraded": s.opts.Degraded,
		"sse": gin.H{
			"heartbeat_sec": int(sseHeartbeat.Seconds()),
			"retry_ms":      2000,
		},
	})
}
