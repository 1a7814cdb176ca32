package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/loewenmaehne/revibe-music-sub000/pkg/database"
	"github.com/loewenmaehne/revibe-music-sub000/pkg/models"
)

// ErrSessionInvalid covers unknown, malformed and expired session tokens.
var ErrSessionInvalid = errors.New("identity: session invalid")

// Store is the durable backing the service needs; *database.MySQLDB
// satisfies it, tests use an in-memory fake.
type Store interface {
	UpsertUser(user *models.User) error
	GetUserByID(id string) (*models.User, error)
	CreateSession(session *models.Session) error
	GetSession(token string) (*models.Session, error)
	DeleteSession(token string) error
	DeleteAccount(userID string) ([]string, error)
}

// Cache fronts the store for session reads. May be nil (cache disabled).
type Cache interface {
	StoreSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, token string) (*models.Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteUserSessions(ctx context.Context, userID string) error
}

type Service struct {
	verifier   Verifier
	store      Store
	cache      Cache
	sessionTTL time.Duration
}

func NewService(verifier Verifier, store Store, cache Cache, sessionTTL time.Duration) *Service {
	return &Service{
		verifier:   verifier,
		store:      store,
		cache:      cache,
		sessionTTL: sessionTTL,
	}
}

// Login verifies the external credential, upserts the user and mints a
// fresh opaque session token with an absolute expiry.
func (s *Service) Login(ctx context.Context, credential string) (*models.User, *models.Session, error) {
	profile, err := s.verifier.Verify(ctx, credential)
	if err != nil {
		if errors.Is(err, ErrInvalidCredential) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("verify credential: %w", err)
	}

	user := &models.User{
		ID:      profile.Subject,
		Email:   profile.Email,
		Name:    profile.Name,
		Picture: profile.Picture,
	}
	if err := s.store.UpsertUser(user); err != nil {
		return nil, nil, fmt.Errorf("upsert user: %w", err)
	}

	token, err := newToken()
	if err != nil {
		return nil, nil, err
	}
	session := &models.Session{
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(s.sessionTTL),
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateSession(session); err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.StoreSession(ctx, session); err != nil {
			log.Warn().Err(err).Msg("session cache store failed")
		}
	}
	return user, session, nil
}

// Resume validates a session token and returns its user. It never extends
// the expiry; a token close to death is still just a valid token.
func (s *Service) Resume(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrSessionInvalid
	}

	var session *models.Session
	if s.cache != nil {
		if cached, err := s.cache.GetSession(ctx, token); err == nil {
			session = cached
		}
	}
	if session == nil {
		stored, err := s.store.GetSession(token)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, ErrSessionInvalid
			}
			return nil, fmt.Errorf("load session: %w", err)
		}
		session = stored
	}

	if session.Expired(time.Now()) {
		// Expired rows are garbage; drop them as they are noticed.
		_ = s.store.DeleteSession(token)
		if s.cache != nil {
			_ = s.cache.DeleteSession(ctx, token)
		}
		return nil, ErrSessionInvalid
	}

	user, err := s.store.GetUserByID(session.UserID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// Logout deletes the session. Idempotent: an unknown token is a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.store.DeleteSession(token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.DeleteSession(ctx, token); err != nil {
			log.Warn().Err(err).Msg("session cache delete failed")
		}
	}
	return nil
}

// DeleteAccount erases the user, their sessions and every room they own in
// one transaction. It returns the ids of the deleted rooms so the caller
// can tear down the live actors after the commit.
func (s *Service) DeleteAccount(ctx context.Context, userID string) ([]string, error) {
	roomIDs, err := s.store.DeleteAccount(userID)
	if err != nil {
		return nil, fmt.Errorf("delete account: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.DeleteUserSessions(ctx, userID); err != nil {
			log.Warn().Err(err).Str("user", userID).Msg("session cache purge failed")
		}
	}
	return roomIDs, nil
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
