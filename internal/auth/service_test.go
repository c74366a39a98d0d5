package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatedit/server/internal/model"
	"chatedit/server/internal/store"

	"github.com/golang-jwt/jwt/v5"
)

func TestLoginRefreshLogout(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := NewService(st, "test-secret", 2*time.Minute, 24*time.Hour)
	if _, err := svc.EnsureUser(ctx, "demo@chatedit.local", "demo123456", model.RoleUser); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	user, tokens, err := svc.Login(ctx, "Demo@ChatEdit.local", "demo123456")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("tokens must not be empty")
	}
	claims, err := svc.ParseAccess(tokens.AccessToken)
	if err != nil || claims.UserID != user.ID {
		t.Fatalf("claims=%+v err=%v", claims, err)
	}

	newTokens, err := svc.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if newTokens.AccessToken == "" || newTokens.RefreshToken == "" {
		t.Fatalf("new tokens must not be empty")
	}
	if _, err := svc.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("rotated token should be revoked: %v", err)
	}

	if err := svc.Logout(ctx, newTokens.RefreshToken); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if _, err := svc.Refresh(ctx, newTokens.RefreshToken); err == nil {
		t.Fatalf("refresh should fail after logout")
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemoryStore(), "test-secret", time.Minute, time.Hour)
	if _, err := svc.EnsureUser(ctx, "a@b.c", "correct-horse", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := svc.Login(ctx, "a@b.c", "wrong-horse"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err=%v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@b.c", "correct-horse"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err=%v", err)
	}
	if _, err := svc.EnsureUser(ctx, "short@b.c", "123", ""); !errors.Is(err, store.ErrBadRequest) {
		t.Fatalf("short password err=%v", err)
	}
}

func TestParseAccessRejectsForeignTokens(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), "test-secret", time.Minute, time.Hour)
	other := NewService(store.NewMemoryStore(), "other-secret", time.Minute, time.Hour)
	tok, err := other.issueTokens(context.Background(), model.User{ID: "u1", Role: model.RoleUser})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.ParseAccess(tok.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("foreign signature err=%v", err)
	}

	past := time.Now().Add(-time.Hour)
	svc.now = func() time.Time { return past }
	expired, err := svc.issueTokens(context.Background(), model.User{ID: "u1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	svc.now = time.Now
	if _, err := svc.ParseAccess(expired.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired err=%v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := svc.ParseAccess(unsigned); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unsigned err=%v", err)
	}
}
