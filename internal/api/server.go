package api

import (
	"context"
	"log/slog"

	"chatedit/server/internal/auth"
	"chatedit/server/internal/chat"
	"chatedit/server/internal/model"

	"github.com/gin-gonic/gin"
)

// Events is the live operation event feed the SSE endpoint reads from.
type Events interface {
	Subscribe(operationID string, buf int) (string, <-chan model.OperationEvent, func())
	Since(operationID string, fromSeq int64) []model.OperationEvent
}

type Options struct {
	UploadDir string
	// Degraded is reported to clients when no language model is configured.
	Degraded bool
}

type Server struct {
	auth   *auth.Service
	chat   *chat.Service
	events Events
	log    *slog.Logger
	opts   Options
	ready  func(ctx context.Context) error
}

func NewServer(authSvc *auth.Service, chatSvc *chat.Service, events Events, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		auth:   authSvc,
		chat:   chatSvc,
		events: events,
		log:    logger,
		opts:   opts,
	}
}

// WithReadiness makes /healthz report the result of check.
func (s *Server) WithReadiness(check func(ctx context.Context) error) {
	s.ready = check
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(RequestLogMiddleware(s.log))

	v1 := r.Group("/api/v1")
	v1.GET("/healthz", s.healthz)

	v1.POST("/auth/login", s.login)
	v1.POST("/auth/refresh", s.refresh)

	authed := v1.Group("")
	authed.Use(AuthMiddleware(s.auth))
	{
		authed.GET("/client/bootstrap", s.clientBootstrap)
		authed.POST("/auth/logout", s.logout)
		authed.GET("/me", s.me)

		authed.POST("/media", s.createMedia)
		authed.GET("/media", s.listMedia)
		authed.GET("/media/:media_id", s.getMedia)
		authed.GET("/media/:media_id/versions", s.listVersions)
		authed.GET("/media/:media_id/heads", s.listHeads)
		authed.GET("/media/:media_id/operations", s.listOperations)
		authed.POST("/media/:media_id/operations", s.executeOperation)

		authed.POST("/sessions/:session_id/commands", s.processCommand)
		authed.GET("/sessions/:session_id/turns", s.listTurns)

		authed.GET("/operations/:operation_id", s.getOperation)
		authed.GET("/operations/:operation_id/events", s.streamOperationEvents)

		authed.GET("/versions/:version_id", s.getVersion)
		authed.GET("/versions/:version_id/children", s.listChildren)
		authed.GET("/versions/:version_id/lineage", s.getLineage)
	}

	return r
}

func (s *Server) healthz(c *gin.Context) {
	if s.ready != nil {
		if err := s.ready(c.Request.Context()); err != nil {
			writeError(c, 503, "NOT_READY", err.Error(), true, nil)
			return
		}
	}
	writeData(c, 200, gin.H{"status": "ok"})
}
