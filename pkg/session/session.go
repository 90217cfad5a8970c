// Package session keeps the single authenticated session of the client.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/workflowshelf/workflowshelf/pkg/kvstore"
	"github.com/workflowshelf/workflowshelf/pkg/logger"
	"github.com/workflowshelf/workflowshelf/pkg/models"
)

// Storage keys.
const (
	TokenKey   = "workflow_manager_token"
	ProfileKey = "workflow_manager_profile"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 6

var (
	ErrMissingCredentials = errors.New("username and password are required")
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrPasswordMismatch   = errors.New("passwords do not match")
)

// AuthAPI is the subset of the HTTP client the session store needs.
type AuthAPI interface {
	Login(ctx context.Context, username, password string) (*models.Session, error)
	Register(ctx context.Context, username, password string) (*models.Session, error)
	UserInfo(ctx context.Context, token string) (*models.Profile, error)
}

// Store persists at most one session. A session is either fully stored
// (token and profile) or absent.
type Store struct {
	kv  kvstore.Store
	api AuthAPI
}

// New creates a session store.
func New(kv kvstore.Store, api AuthAPI) *Store {
	return &Store{kv: kv, api: api}
}

// Login authenticates and persists the session. On failure nothing is stored
// and the server's reason is returned as is.
func (s *Store) Login(ctx context.Context, username, password string) (*models.Session, error) {
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	sess, err := s.api.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if err := s.save(sess); err != nil {
		return nil, err
	}
	logger.Info("Logged in as %s", sess.Profile.Username)
	return sess, nil
}

// Register creates an account and persists its session. The password is
// checked locally before any request is made.
func (s *Store) Register(ctx context.Context, username, password, confirm string) (*models.Session, error) {
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	if len(password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}
	if password != confirm {
		return nil, ErrPasswordMismatch
	}
	sess, err := s.api.Register(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if err := s.save(sess); err != nil {
		return nil, err
	}
	logger.Info("Registered and logged in as %s", sess.Profile.Username)
	return sess, nil
}

// save writes the profile, then the token. The token is what makes a stored
// session visible, so a failed token write rolls the profile back.
func (s *Store) save(sess *models.Session) error {
	profile, err := json.Marshal(sess.Profile)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ProfileKey, string(profile)); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	if err := s.kv.Set(TokenKey, sess.Token); err != nil {
		s.kv.Remove(ProfileKey)
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// Logout removes the stored session. It is safe to call when logged out.
func (s *Store) Logout() error {
	errTok := s.kv.Remove(TokenKey)
	errProf := s.kv.Remove(ProfileKey)
	if err := errors.Join(errTok, errProf); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Current returns the stored session without contacting the server. Partial
// or corrupt state reads as no session.
func (s *Store) Current() *models.Session {
	token, ok, err := s.kv.Get(TokenKey)
	if err != nil || !ok || token == "" {
		if err != nil {
			logger.Debug("read token: %v", err)
		}
		return nil
	}
	raw, ok, err := s.kv.Get(ProfileKey)
	if err != nil || !ok {
		return nil
	}

	var profile models.Profile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		logger.Debug("stored profile is malformed, ignoring session: %v", err)
		return nil
	}
	return &models.Session{Token: token, Profile: profile}
}

// Validate probes the profile endpoint with the session's token. Any failure
// means the session is invalid; the caller decides whether to log out.
func (s *Store) Validate(ctx context.Context, sess *models.Session) bool {
	if sess == nil || sess.Token == "" {
		return false
	}
	if _, err := s.api.UserInfo(ctx, sess.Token); err != nil {
		logger.Debug("session validation failed: %v", err)
		return false
	}
	return true
}
