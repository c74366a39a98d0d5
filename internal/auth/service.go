// Package auth issues and verifies the tokens that identify API callers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatedit/server/internal/model"
	"chatedit/server/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrTokenExpired = errors.New("token expired")
)

const issuer = "chatedit"

type Store interface {
	UpsertUser(ctx context.Context, user model.User) error
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUserByID(ctx context.Context, id string) (model.User, error)
	SaveRefreshToken(ctx context.Context, tok model.RefreshToken) error
	GetRefreshToken(ctx context.Context, id string) (model.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error
}

type Claims struct {
	UserID string         `json:"uid"`
	Email  string         `json:"email"`
	Role   model.UserRole `json:"role"`
	jwt.RegisteredClaims
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresInSec int64  `json:"expires_in_sec"`
}

type Service struct {
	store      Store
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewService(st Store, secret string, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		store:      st,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// EnsureUser creates the user unless one with the email already exists.
func (s *Service) EnsureUser(ctx context.Context, email, password string, role model.UserRole) (model.User, error) {
	email = strings.TrimSpace(email)
	if existing, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.User{}, err
	}
	if email == "" || len(password) < 8 {
		return model.User{}, fmt.Errorf("email and a password of at least 8 characters are required: %w", store.ErrBadRequest)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, fmt.Errorf("hash user password: %w", err)
	}
	if role == "" {
		role = model.RoleUser
	}
	now := s.now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Status:       "active",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.UpsertUser(ctx, user); err != nil {
		return model.User{}, err
	}
	return user, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (model.User, Tokens, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return model.User{}, Tokens{}, ErrUnauthorized
	}
	if user.Status != "active" {
		return model.User{}, Tokens{}, ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return model.User{}, Tokens{}, ErrUnauthorized
	}
	tokens, err := s.issueTokens(ctx, user)
	if err != nil {
		return model.User{}, Tokens{}, err
	}
	return user, tokens, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	tokenID, ok := refreshTokenID(refreshToken)
	if !ok {
		return Tokens{}, ErrUnauthorized
	}
	stored, err := s.store.GetRefreshToken(ctx, tokenID)
	if err != nil {
		return Tokens{}, ErrUnauthorized
	}
	if stored.RevokedAt != nil {
		return Tokens{}, ErrUnauthorized
	}
	now := s.now().UTC()
	if stored.ExpiresAt.Before(now) {
		return Tokens{}, ErrTokenExpired
	}
	if !matchesHash(stored.TokenHash, refreshToken) {
		return Tokens{}, ErrUnauthorized
	}
	user, err := s.store.GetUserByID(ctx, stored.UserID)
	if err != nil {
		return Tokens{}, ErrUnauthorized
	}
	if err := s.store.RevokeRefreshToken(ctx, stored.ID, now); err != nil {
		return Tokens{}, fmt.Errorf("revoke refresh token: %w", err)
	}
	return s.issueTokens(ctx, user)
}

// UserByID loads the caller behind a verified access token.
func (s *Service) UserByID(ctx context.Context, id string) (model.User, error) {
	return s.store.GetUserByID(ctx, id)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	tokenID, ok := refreshTokenID(refreshToken)
	if !ok {
		return ErrUnauthorized
	}
	if err := s.store.RevokeRefreshToken(ctx, tokenID, s.now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	return nil
}
