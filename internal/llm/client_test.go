package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCompleteReturnsContent(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key-1" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"action\":\"trim\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "key-1", Model: "m"})
	out, err := c.Complete(context.Background(), Request{System: "sys", Prompt: "trim", JSON: true})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != `{"action":"trim"}` {
		t.Fatalf("content=%q", out)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("messages=%+v", got.Messages)
	}
	if got.ResponseFormat["type"] != "json_object" {
		t.Fatalf("response format not requested")
	}
}

func TestCompleteClassifiesStatus(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, ErrAuth},
		{http.StatusForbidden, ``, ErrAuth},
		{http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, ErrQuota},
		{http.StatusBadRequest, `{"error":{"code":"insufficient_quota"}}`, ErrQuota},
		{http.StatusGatewayTimeout, ``, ErrTimeout},
		{http.StatusBadGateway, ``, ErrUnavailable},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		c := NewClient(Config{BaseURL: srv.URL, APIKey: "k"})
		_, err := c.Complete(context.Background(), Request{Prompt: "x"})
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: err=%v want %v", tc.status, err, tc.want)
		}
		if !Degraded(err) {
			t.Fatalf("status %d should be degraded", tc.status)
		}
	}
}

func TestCompleteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Timeout: 20 * time.Millisecond})
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err=%v want timeout", err)
	}
	if Cause(err) != "timeout" {
		t.Fatalf("cause=%q", Cause(err))
	}
}

func TestCompleteWithoutKeyIsAuthFailure(t *testing.T) {
	c := NewClient(Config{})
	if _, err := c.Complete(context.Background(), Request{Prompt: "x"}); !errors.Is(err, ErrAuth) {
		t.Fatalf("err=%v", err)
	}
	if _, err := (Disabled{}).Complete(context.Background(), Request{}); !errors.Is(err, ErrAuth) {
		t.Fatalf("disabled err=%v", err)
	}
}

func TestDecodeJSONTolerance(t *testing.T) {
	var out struct {
		Action string `json:"action"`
	}
	inputs := []string{
		`{"action":"crop"}`,
		"```json\n{\"action\":\"crop\"}\n```",
		`Sure! Here you go: {"action":"crop"} hope that helps`,
	}
	for _, in := range inputs {
		out.Action = ""
		if err := DecodeJSON(in, &out); err != nil {
			t.Fatalf("decode %q: %v", in, err)
		}
		if out.Action != "crop" {
			t.Fatalf("decode %q: action=%q", in, out.Action)
		}
	}
	if err := DecodeJSON("no json here", &out); err == nil {
		t.Fatalf("expected error for prose")
	}
	if err := DecodeJSON("  ", &out); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestEstimateCounter(t *testing.T) {
	var c EstimateCounter
	if c.Count("") != 0 {
		t.Fatalf("empty should be zero")
	}
	if c.Count("abcdefgh") != 3 {
		t.Fatalf("count=%d", c.Count("abcdefgh"))
	}
}
