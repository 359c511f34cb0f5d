// Package service contains the referral and reward ledgers, the attribution
// pipeline run on registration and the authentication service.
package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	pkgcrypto "github.com/and161185/refkeeper/internal/crypto"
	"github.com/and161185/refkeeper/internal/errs"
	"github.com/and161185/refkeeper/internal/limiter"
	"github.com/and161185/refkeeper/internal/model"
	"github.com/and161185/refkeeper/internal/notify"
	"github.com/and161185/refkeeper/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const resetAudience = "password-reset"

// PasswordHasher produces and checks encoded credentials.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) bool
}

// AuthConfig configures token issuance.
type AuthConfig struct {
	Secret       []byte
	SessionTTL   time.Duration
	ResetTTL     time.Duration
	ResetURLBase string
}

// AuthService verifies credentials and issues session and password reset tokens.
type AuthService struct {
	users  repository.UserRepository
	hasher PasswordHasher
	lim    limiter.Limiter
	cache  CacheInvalidator
	notes  Notifications
	log    *zap.Logger

	sessionKey []byte
	resetKey   []byte
	sessionTTL time.Duration
	resetTTL   time.Duration
	resetURL   string
	now        func() time.Time
}

// NewAuthService constructs AuthService with required dependencies. Session
// and reset tokens are signed with distinct keys derived from cfg.Secret.
func NewAuthService(
	users repository.UserRepository,
	hasher PasswordHasher,
	lim limiter.Limiter,
	cache CacheInvalidator,
	notes Notifications,
	cfg AuthConfig,
	log *zap.Logger,
) (*AuthService, error) {
	sessionKey, err := pkgcrypto.DeriveKey(cfg.Secret, "session")
	if err != nil {
		return nil, err
	}
	resetKey, err := pkgcrypto.DeriveKey(cfg.Secret, resetAudience)
	if err != nil {
		return nil, err
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = 15 * time.Minute
	}
	return &AuthService{
		users:      users,
		hasher:     hasher,
		lim:        lim,
		cache:      cache,
		notes:      notes,
		log:        log,
		sessionKey: sessionKey,
		resetKey:   resetKey,
		sessionTTL: cfg.SessionTTL,
		resetTTL:   cfg.ResetTTL,
		resetURL:   cfg.ResetURLBase,
		now:        time.Now,
	}, nil
}

// SessionTTL is the lifetime of issued session tokens.
func (s *AuthService) SessionTTL() time.Duration { return s.sessionTTL }

// HashPassword encodes a new credential.
func (s *AuthService) HashPassword(password string) (string, error) {
	return s.hasher.Hash(password)
}

// Login authenticates by email or username with rate limiting by (identifier, ip).
func (s *AuthService) Login(ctx context.Context, identifier, password, ip string) (model.Tokens, model.User, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, identifier, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByIdentifier(ctx, identifier)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, model.User{}, err
	}
	if err != nil || !s.hasher.Verify(password, u.PasswordHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, identifier, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		// unknown user and wrong password look the same
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	if err := s.lim.Success(ctx, identifier, ipHash); err != nil {
		s.log.Warn("limiter reset failed", zap.Error(err))
	}

	tokens, err := s.IssueSession(u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return tokens, *u, nil
}

// IssueSession creates a signed HS256 session JWT for the given subject.
func (s *AuthService) IssueSession(userID uuid.UUID) (model.Tokens, error) {
	now := s.now()
	exp := now.Add(s.sessionTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.sessionKey)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("sign session: %w", err)
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: exp}, nil
}

// Authenticate validates a session token and returns its subject.
func (s *AuthService) Authenticate(token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, errs.ErrUnauthenticated
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return s.sessionKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return uuid.Nil, errs.ErrInvalidToken
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errs.ErrInvalidToken
	}
	return id, nil
}

// Logout drops the caller's cached responses. The session cookie is cleared by the transport.
func (s *AuthService) Logout(ctx context.Context, userID uuid.UUID) {
	if err := s.cache.InvalidateAll(ctx, userID.String()); err != nil {
		s.log.Warn("cache invalidation failed", zap.Stringer("identity", userID), zap.Error(err))
	}
}

type resetClaims struct {
	jwt.RegisteredClaims
	// Fingerprint of the credential the token was issued against; a reset
	// changes it and so retires every outstanding token.
	Fingerprint string `json:"fp"`
}

func (s *AuthService) fingerprint(passwordHash string) string {
	m := hmac.New(sha256.New, s.resetKey)
	m.Write([]byte(passwordHash))
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil)[:12])
}

// ForgotPassword emails a reset link when email belongs to a user. The
// outcome is the same for unknown emails.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	token, err := s.issueReset(u)
	if err != nil {
		return err
	}
	s.notes.Dispatch(notify.PasswordReset(u.Email, s.resetLink(token)))
	return nil
}

func (s *AuthService) issueReset(u *model.User) (string, error) {
	now := s.now()
	claims := resetClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			Audience:  jwt.ClaimStrings{resetAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.resetTTL)),
		},
		Fingerprint: s.fingerprint(u.PasswordHash),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.resetKey)
	if err != nil {
		return "", fmt.Errorf("sign reset: %w", err)
	}
	return signed, nil
}

func (s *AuthService) resetLink(token string) string {
	if s.resetURL == "" {
		return token
	}
	return s.resetURL + "?token=" + url.QueryEscape(token)
}

// ResetPassword replaces the credential of the token's subject.
// Any token problem is errs.ErrInvalidToken.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	var claims resetClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return s.resetKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(resetAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return errs.ErrInvalidToken
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return errs.ErrInvalidToken
	}
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return errs.ErrInvalidToken
	}
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(claims.Fingerprint), []byte(s.fingerprint(u.PasswordHash))) {
		return errs.ErrInvalidToken
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(ctx, id, hash); err != nil {
		return err
	}
	if err := s.cache.InvalidateAll(ctx, id.String()); err != nil {
		s.log.Warn("cache invalidation failed", zap.Stringer("identity", id), zap.Error(err))
	}
	return nil
}
