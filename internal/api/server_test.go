package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatedit/server/internal/auth"
	"chatedit/server/internal/chat"
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

func setupTestRouter(t *testing.T) *http.ServeMux {
	t.Helper()
	logger := telemetry.Discard()
	st := store.NewMemoryStore()
	authSvc := auth.NewService(st, "test-secret", 15*time.Minute, 24*time.Hour)
	if _, err := authSvc.EnsureUser(context.Background(), "demo@chatedit.local", "demo123456", model.RoleUser); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	hub := events.NewHub()
	mock := engine.NewMock(5 * time.Millisecond)
	eng := engine.New(mock, filepath.Join(t.TempDir(), "artifacts"), logger)
	tr := tracker.New(st, hub, logger)
	l := ledger.New(st)
	d := dispatch.New(eng, tr, l, st, logger, dispatch.Options{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Wait(ctx)
	})
	chatSvc := chat.NewService(st,
		intent.New(llm.Disabled{}, llm.EstimateCounter{}, 0, logger),
		respond.New(llm.Disabled{}, logger),
		d, tr, l, mock, logger, chat.Options{})

	s := NewServer(authSvc, chatSvc, hub, logger, Options{UploadDir: t.TempDir(), Degraded: true})
	s.WithReadiness(st.Ping)

	mux := http.NewServeMux()
	mux.Handle("/", s.Router())
	return mux
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, router http.Handler) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email":    "demo@chatedit.local",
		"password": "demo123456",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.Data.AccessToken == "" {
		t.Fatalf("empty access token")
	}
	return resp.Data.AccessToken
}

func createMedia(t *testing.T, router http.Handler, token string) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/media", token, map[string]any{
		"path": "clip.mp4",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create media status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data struct {
			Media model.Media `json:"media"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode media: %v", err)
	}
	return resp.Data.Media.ID
}

func TestCreateMediaRejectsPathOutsideUploadDir(t *testing.T) {
	router := setupTestRouter(t)
	token := login(t, router)

	for _, path := range []string{"/etc/passwd", "../secrets/clip.mp4", "sub/../../clip.mp4", "."} {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/media", token, map[string]any{"path": path})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%q: status=%d body=%s", path, rec.Code, rec.Body.String())
		}
		var resp struct {
			Error APIError `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if resp.Error.Code != "PATH_NOT_ALLOWED" {
			t.Fatalf("%q: code=%s", path, resp.Error.Code)
		}
	}

	rec := doJSON(t, router, http.MethodGet, "/api/v1/media", token, nil)
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), "passwd") {
		t.Fatalf("list status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestMediaPathStaysInUploadDir(t *testing.T) {
	root := t.TempDir()
	s := &Server{opts: Options{UploadDir: root}}
	if got, ok := s.mediaPath("nested/clip.mp4"); !ok || got != filepath.Join(root, "nested", "clip.mp4") {
		t.Fatalf("relative path: got=%q ok=%v", got, ok)
	}
	if _, ok := s.mediaPath(filepath.Join(root, "..", "other.mp4")); ok {
		t.Fatal("escaping path accepted")
	}
	if _, ok := (&Server{}).mediaPath("clip.mp4"); ok {
		t.Fatal("path accepted without an upload directory")
	}
}

func TestCommandStartsOperationThatCompletes(t *testing.T) {
	router := setupTestRouter(t)
	token := login(t, router)
	mediaID := createMedia(t, router, token)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/sessions/s1/commands", token, map[string]any{
		"message":  "trim first 10 seconds",
		"media_id": mediaID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("command status=%d body=%s", rec.Code, rec.Body.String())
	}
	var cmd struct {
		Data chat.CommandReply `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &cmd); err != nil {
		t.Fatalf("decode command: %v", err)
	}
	if cmd.Data.Operation == nil || cmd.Data.Intent.Action != model.ActionTrim || !cmd.Data.Fallback {
		t.Fatalf("command reply=%s", rec.Body.String())
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		rec = doJSON(t, router, http.MethodGet, "/api/v1/operations/"+cmd.Data.Operation.ID, token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("get operation status=%d body=%s", rec.Code, rec.Body.String())
		}
		var op struct {
			Data model.Operation `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &op); err != nil {
			t.Fatalf("decode operation: %v", err)
		}
		if op.Data.Status == model.OperationCompleted {
			if op.Data.Result == nil || op.Data.Result.VersionID == "" {
				t.Fatalf("completed without version: %+v", op.Data)
			}
			break
		}
		if op.Data.Status == model.OperationFailed {
			t.Fatalf("operation failed: %+v", op.Data)
		}
		if time.Now().After(deadline) {
			t.Fatalf("operation did not complete: %+v", op.Data)
		}
		time.Sleep(20 * time.Millisecond)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/media/"+mediaID+"/versions", token, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"action":"trim"`) {
		t.Fatalf("versions status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/sessions/s1/turns", token, nil)
	if rec.Code != http.StatusOK || strings.Count(rec.Body.String(), `"role"`) != 2 {
		t.Fatalf("turns status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestOperationEventsReplayAfterCompletion(t *testing.T) {
	router := setupTestRouter(t)
	token := login(t, router)
	mediaID := createMedia(t, router, token)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/media/"+mediaID+"/operations", token, map[string]any{
		"action":     "filter",
		"parameters": map[string]any{"filterType": "vintage"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("execute status=%d body=%s", rec.Code, rec.Body.String())
	}
	location := rec.Header().Get("Location")
	if !strings.HasPrefix(location, "/api/v1/operations/") {
		t.Fatalf("location=%q", location)
	}

	// The stream returns once the terminal event has been written.
	rec = doJSON(t, router, http.MethodGet, location+"/events", token, nil)
	body := rec.Body.String()
	if rec.Code != http.StatusOK || !strings.Contains(body, "event: operation_completed") {
		t.Fatalf("events status=%d body=%s", rec.Code, body)
	}
	if !strings.Contains(body, "event: operation_processing") {
		t.Fatalf("missing processing event: %s", body)
	}
}

func TestExecuteRejectsInvalidParameters(t *testing.T) {
	router := setupTestRouter(t)
	token := login(t, router)
	mediaID := createMedia(t, router, token)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/media/"+mediaID+"/operations", token, map[string]any{
		"action":     "crop",
		"parameters": map[string]any{"width": 0, "height": 720},
	})
	if rec.Code != http.StatusUnprocessableEntity || !strings.Contains(rec.Body.String(), "VALIDATION_FAILED") {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/media/"+mediaID+"/operations", token, map[string]any{
		"action": "analyze",
	})
	if rec.Code != http.StatusUnprocessableEntity || !strings.Contains(rec.Body.String(), "UNSUPPORTED_ACTION") {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestUnauthorizedAndMissingMedia(t *testing.T) {
	router := setupTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/media", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	token := login(t, router)
	rec = doJSON(t, router, http.MethodGet, "/api/v1/media/nope", token, nil)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "MEDIA_NOT_FOUND") {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rec.Code)
	}
}

func TestClientBootstrapListsActions(t *testing.T) {
	router := setupTestRouter(t)
	token := login(t, router)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/client/bootstrap", token, nil)
	body := rec.Body.String()
	if rec.Code != http.StatusOK || !strings.Contains(body, `"trim"`) || strings.Contains(body, `"chat"`) {
		t.Fatalf("status=%d body=%s", rec.Code, body)
	}
	if !strings.Contains(body, `"degraded":true`) {
		t.Fatalf("degraded flag missing: %s", body)
	}
}
