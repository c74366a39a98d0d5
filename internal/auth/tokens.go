package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatedit/server/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Refresh tokens look like "rt_<id>_<secret>". Only the sha256 of the whole
// token is stored; the id locates the row.
const refreshPrefix = "rt_"

// ParseAccess verifies an HS256 access token issued by this service.
func (s *Service) ParseAccess(tokenString string) (Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrTokenExpired
	case err != nil, !token.Valid:
		return Claims{}, ErrUnauthorized
	}
	return *claims, nil
}

func (s *Service) issueTokens(ctx context.Context, user model.User) (Tokens, error) {
	now := s.now().UTC()
	access, err := s.signAccess(user, now)
	if err != nil {
		return Tokens{}, err
	}
	refresh, rt, err := newRefreshToken(user.ID, now, s.refreshTTL)
	if err != nil {
		return Tokens{}, err
	}
	if err := s.store.SaveRefreshToken(ctx, rt); err != nil {
		return Tokens{}, fmt.Errorf("save refresh token: %w", err)
	}
	return Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresInSec: int64(s.accessTTL / time.Second),
	}, nil
}

func (s *Service) signAccess(user model.User, now time.Time) (string, error) {
	claims := Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

func newRefreshToken(userID string, now time.Time, ttl time.Duration) (string, model.RefreshToken, error) {
	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return "", model.RefreshToken{}, fmt.Errorf("generate refresh token: %w", err)
	}
	id := uuid.NewString()
	token := refreshPrefix + id + "_" + hex.EncodeToString(secret)
	return token, model.RefreshToken{
		ID:        id,
		UserID:    userID,
		TokenHash: hashToken(token),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}, nil
}

func refreshTokenID(token string) (string, bool) {
	rest, ok := strings.CutPrefix(token, refreshPrefix)
	if !ok {
		return "", false
	}
	id, secret, ok := strings.Cut(rest, "_")
	if !ok || id == "" || secret == "" {
		return "", false
	}
	return id, true
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func matchesHash(stored, token string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(hashToken(token))) == 1
}
