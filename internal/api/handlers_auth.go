package api

import (
	"errors"
	"net/http"

	"chatedit/server/internal/auth"
	"chatedit/server/internal/store"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func tokensBody(tokens auth.Tokens) gin.H {
	return gin.H{
		"access_token":   tokens.AccessToken,
		"refresh_token":  tokens.RefreshToken,
		"expires_in_sec": tokens.ExpiresInSec,
	}
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req, "Invalid login payload") {
		return
	}
	user, tokens, err := s.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.log.Info("login rejected", "trace_id", traceIDFromContext(c), "email", req.Email)
		writeError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", false, nil)
		return
	}
	body := tokensBody(tokens)
	body["user"] = gin.H{
		"id":    user.ID,
		"email": user.Email,
		"role":  user.Role,
	}
	writeData(c, http.StatusOK, body)
}

func (s *Server) refresh(c *gin.Context) {
	var req refreshRequest
	if !bindJSON(c, &req, "refresh_token is required") {
		return
	}
	tokens, err := s.auth.Refresh(c.Request.Context(), req.RefreshToken)
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(c, http.StatusUnauthorized, "TOKEN_EXPIRED", "Refresh token expired", false, nil)
		return
	case err != nil:
		writeUnauthorized(c)
		return
	}
	writeData(c, http.StatusOK, tokensBody(tokens))
}

func (s *Server) logout(c *gin.Context) {
	var req refreshRequest
	if !bindJSON(c, &req, "refresh_token is required") {
		return
	}
	if err := s.auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		writeUnauthorized(c)
		return
	}
	writeData(c, http.StatusOK, gin.H{"ok": true})
}

func (s *Server) me(c *gin.Context) {
	user, err := s.auth.UserByID(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeUnauthorized(c)
			return
		}
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load user", false, nil)
		return
	}
	writeData(c, http.StatusOK, user)
}

// bindJSON decodes the body into req and writes the 4xx response itself when
// it cannot.
func bindJSON(c *gin.Context, req any, message string) bool {
	if !requireJSON(c) {
		return false
	}
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", message, false, nil)
		return false
	}
	return true
}
