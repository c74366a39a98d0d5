package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"chatedit/server/internal/chat"
	"chatedit/server/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type createMediaRequest struct {
	Name string `json:"name"`
	Path string `json:"path" binding:"required"`
}

// createMedia registers a file either uploaded as multipart field "file" or
// already present in the upload directory at the JSON "path".
func (s *Server) createMedia(c *gin.Context) {
	userID := userIDFromContext(c)
	var in chat.RegisterInput
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		path, name, ok := s.saveUpload(c)
		if !ok {
			return
		}
		in = chat.RegisterInput{Name: name, Path: path}
	} else {
		var req createMediaRequest
		if !bindJSON(c, &req, "path is required") {
			return
		}
		path, ok := s.mediaPath(req.Path)
		if !ok {
			writeError(c, http.StatusForbidden, "PATH_NOT_ALLOWED", "path must be inside the upload directory", false, nil)
			return
		}
		in = chat.RegisterInput{Name: req.Name, Path: path}
	}
	media, root, err := s.chat.RegisterMedia(c.Request.Context(), userID, in)
	if err != nil {
		writeServiceError(c, "MEDIA", err)
		return
	}
	writeData(c, http.StatusCreated, gin.H{
		"media":        media,
		"root_version": root,
	})
}

// mediaPath resolves a client path against the upload directory. Relative
// paths are taken from the upload directory; anything outside it is refused.
func (s *Server) mediaPath(raw string) (string, bool) {
	if s.opts.UploadDir == "" {
		return "", false
	}
	root, err := filepath.Abs(s.opts.UploadDir)
	if err != nil {
		return "", false
	}
	p := strings.TrimSpace(raw)
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
		if r, err := filepath.EvalSymlinks(root); err == nil {
			root = r
		}
	}
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return p, true
}

func (s *Server) saveUpload(c *gin.Context) (string, string, bool) {
	if s.opts.UploadDir == "" {
		writeError(c, http.StatusBadRequest, "UPLOADS_DISABLED", "Uploads are not enabled", false, nil)
		return "", "", false
	}
	file, err := c.FormFile("file")
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "file is required", false, nil)
		return "", "", false
	}
	name := filepath.Base(file.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "upload"
	}
	if err := os.MkdirAll(s.opts.UploadDir, 0o755); err != nil {
		s.log.Error("create upload dir", "trace_id", traceIDFromContext(c), "error", err)
		writeError(c, http.StatusInternalServerError, "UPLOAD_FAILED", "Failed to store upload", true, nil)
		return "", "", false
	}
	dst := filepath.Join(s.opts.UploadDir, fmt.Sprintf("%s_%s", uuid.NewString()[:8], name))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		s.log.Error("save upload", "trace_id", traceIDFromContext(c), "error", err)
		writeError(c, http.StatusInternalServerError, "UPLOAD_FAILED", "Failed to store upload", true, nil)
		return "", "", false
	}
	if override := strings.TrimSpace(c.PostForm("name")); override != "" {
		name = override
	}
	return dst, name, true
}

func (s *Server) listMedia(c *gin.Context) {
	items, err := s.chat.ListMedia(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		writeServiceError(c, "MEDIA", err)
		return
	}
	writeData(c, http.StatusOK, gin.H{"items": items})
}

func (s *Server) getMedia(c *gin.Context) {
	media, err := s.chat.GetMedia(c.Request.Context(), userIDFromContext(c), c.Param("media_id"))
	if err != nil {
		writeServiceError(c, "MEDIA", err)
		return
	}
	writeData(c, http.StatusOK, media)
}

func (s *Server) listVersions(c *gin.Context) {
	items, err := s.chat.ListVersions(c.Request.Context(), userIDFromContext(c), c.Param("media_id"))
	if err != nil {
		writeServiceError(c, "MEDIA", err)
		return
	}
	writeData(c, http.StatusOK, gin.H{"items": items})
}

func (s *Server) listHeads(c *gin.Context) {
	items, err := s.chat.Heads(c.Request.Context(), userIDFromContext(c), c.Param("media_id"))
	if err != nil {
		writeServiceError(c, "MEDIA", err)
		return
	}
	writeData(c, http.StatusOK, gin.H{"items": items})
}

func (s *Server) listOperations(c *gin.Context) {
	items, err := s.chat.ListOperations(c.Request.Context(), userIDFromContext(c), c.Param("media_id"))
	if err != nil {
		writeServiceError(c, "MEDIA", err)
		return
	}
	writeData(c, http.StatusOK, gin.H{"items": items})
}

type executeOperationRequest struct {
	Action     string       `json:"action" binding:"required"`
	Parameters model.Params `json:"parameters"`
	VersionID  string       `json:"version_id"`
}

func (s *Server) executeOperation(c *gin.Context) {
	var req executeOperationRequest
	if !bindJSON(c, &req, "action is required") {
		return
	}
	ref := model.MediaRef{MediaID: c.Param("media_id"), VersionID: strings.TrimSpace(req.VersionID)}
	action := model.ParseActionKind(req.Action)
	op, err := s.chat.ExecuteOperation(c.Request.Context(), userIDFromContext(c), action, req.Parameters, ref)
	if err != nil {
		writeServiceError(c, "MEDIA", err)
		return
	}
	c.Header("Location", "/api/v1/operations/"+op.ID)
	writeData(c, http.StatusAccepted, op)
}
