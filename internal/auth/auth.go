// Package auth provides username/password accounts, JWT bearer tokens and the
// middleware that guards member endpoints. With authentication disabled it
// serves mock users instead.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/workflowshelf/workflowshelf/internal/entitlements"
	"github.com/workflowshelf/workflowshelf/internal/logging"
	"github.com/workflowshelf/workflowshelf/internal/metrics"
	"github.com/workflowshelf/workflowshelf/pkg/protocol"
)

// Credential rules.
const (
	MinUsernameLength = 3
	MinPasswordLength = 6
)

// Auth errors. Handlers map them to HTTP statuses.
var (
	ErrMissingCredentials = errors.New("missing username or password")
	ErrUsernameTooShort   = fmt.Errorf("username must be at least %d characters", MinUsernameLength)
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
)

const (
	issuer          = "workflowd"
	mockTokenPrefix = "mock_token_"
)

type contextKey string

const userContextKey contextKey = "user"

// Claims holds JWT token claims.
type Claims struct {
	UserID   string `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Config controls account handling.
type Config struct {
	Enabled        bool
	Secret         string
	TokenTTL       time.Duration
	TrialDays      int
	StarterPackage string
}

// User is an authenticated caller.
type User struct {
	ID       string
	Username string
	Nickname string
	Avatar   string
	Email    string
	Phone    string
	Mock     bool
}

// Info renders the user for GET /workflow_manager/user/info.
func (u *User) Info() protocol.UserInfoResponse {
	return protocol.UserInfoResponse{
		Authenticated: true,
		ID:            u.ID,
		Username:      u.Username,
		Nickname:      u.Nickname,
		Avatar:        u.Avatar,
		Email:         u.Email,
		Phone:         u.Phone,
		Mock:          u.Mock,
	}
}

// Auth issues and validates tokens.
type Auth struct {
	store *Store
	cfg   Config
	now   func() time.Time
}

// New creates the auth service. When cfg.Enabled is false store may be nil
// and every call answers with mock users.
func New(store *Store, cfg Config) (*Auth, error) {
	if cfg.Enabled {
		if store == nil {
			return nil, fmt.Errorf("auth enabled without a users database")
		}
		if cfg.Secret == "" {
			return nil, fmt.Errorf("auth enabled without a JWT secret")
		}
	} else {
		logging.Warn("authentication disabled, serving mock users")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 7 * 24 * time.Hour
	}
	return &Auth{store: store, cfg: cfg, now: time.Now}, nil
}

// Enabled reports whether real accounts are in use.
func (a *Auth) Enabled() bool {
	return a.cfg.Enabled
}

// Login checks credentials and issues a token.
func (a *Auth) Login(ctx context.Context, username, password string) (*protocol.AuthResponse, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		metrics.RecordAuthAttempt("login", false)
		return nil, ErrMissingCredentials
	}
	if !a.cfg.Enabled {
		metrics.RecordAuthAttempt("login", true)
		return a.mockResponse(username), nil
	}

	acct, err := a.store.ByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		metrics.RecordAuthAttempt("login", false)
		logging.Warn("login failed: unknown user", logging.String("username", username))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		metrics.RecordAuthAttempt("login", false)
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		metrics.RecordAuthAttempt("login", false)
		logging.Warn("login failed: invalid password", logging.String("username", username))
		return nil, ErrInvalidCredentials
	}

	resp, err := a.issue(acct)
	metrics.RecordAuthAttempt("login", err == nil)
	if err == nil {
		logging.Info("login successful", logging.String("username", username))
	}
	return resp, err
}

// Register creates an account with trial entitlements and issues a token.
func (a *Auth) Register(ctx context.Context, username, password string) (*protocol.AuthResponse, error) {
	username = strings.TrimSpace(username)
	if err := validateCredentials(username, password); err != nil {
		metrics.RecordAuthAttempt("register", false)
		return nil, err
	}
	if !a.cfg.Enabled {
		metrics.RecordAuthAttempt("register", true)
		return a.mockResponse(username), nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		metrics.RecordAuthAttempt("register", false)
		return nil, fmt.Errorf("hash password: %w", err)
	}
	acct := &Account{
		Username:     username,
		PasswordHash: string(hashed),
		Nickname:     username,
		Entitlements: entitlements.Trial(a.cfg.TrialDays, a.cfg.StarterPackage, a.now()),
	}
	if err := a.store.Create(ctx, acct); err != nil {
		metrics.RecordAuthAttempt("register", false)
		return nil, err
	}

	resp, err := a.issue(acct)
	metrics.RecordAuthAttempt("register", err == nil)
	if err == nil {
		logging.Info("user registered", logging.String("username", username), logging.String("user_id", acct.ID))
	}
	return resp, err
}

func validateCredentials(username, password string) error {
	switch {
	case username == "" || password == "":
		return ErrMissingCredentials
	case utf8.RuneCountInString(username) < MinUsernameLength:
		return ErrUsernameTooShort
	case len(password) < MinPasswordLength:
		return ErrPasswordTooShort
	}
	return nil
}

func (a *Auth) issue(acct *Account) (*protocol.AuthResponse, error) {
	now := a.now()
	claims := &Claims{
		UserID:   acct.ID,
		Username: acct.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.Secret))
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &protocol.AuthResponse{
		Token:    token,
		ID:       acct.ID,
		Username: acct.Username,
		Nickname: acct.Nickname,
		Photo:    acct.Avatar,
		Email:    acct.Email,
		Phone:    acct.Phone,
	}, nil
}

// Validate resolves a bearer token to its user.
func (a *Auth) Validate(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	if !a.cfg.Enabled {
		return mockUser(token), nil
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.cfg.Secret), nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(a.now))
	if err != nil || !parsed.Valid {
		metrics.RecordAuthAttempt("token", false)
		return nil, ErrInvalidToken
	}

	acct, err := a.store.ByID(ctx, claims.UserID)
	if errors.Is(err, ErrUserNotFound) {
		metrics.RecordAuthAttempt("token", false)
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	metrics.RecordAuthAttempt("token", true)
	return &User{
		ID:       acct.ID,
		Username: acct.Username,
		Nickname: acct.Nickname,
		Avatar:   acct.Avatar,
		Email:    acct.Email,
		Phone:    acct.Phone,
	}, nil
}

// Entitlements returns what the user has been granted. Mock users hold the
// starter package for life.
func (a *Auth) Entitlements(ctx context.Context, u *User) (entitlements.Entitlements, error) {
	if u.Mock || !a.cfg.Enabled {
		return entitlements.Unlimited(a.cfg.StarterPackage), nil
	}
	acct, err := a.store.ByID(ctx, u.ID)
	if err != nil {
		return entitlements.Entitlements{}, err
	}
	return acct.Entitlements, nil
}

func (a *Auth) mockResponse(username string) *protocol.AuthResponse {
	initial, _ := utf8.DecodeRuneInString(username)
	return &protocol.AuthResponse{
		Token:    fmt.Sprintf("%s%s_%d", mockTokenPrefix, username, a.now().Unix()),
		ID:       "mock_" + username,
		Username: username,
		Nickname: username,
		Photo:    "https://via.placeholder.com/100/3a80d2/ffffff?text=" + strings.ToUpper(string(initial)),
		IsMock:   true,
	}
}

// mockUser recovers the username from a mock token; any other token maps to
// a fixed test user.
func mockUser(token string) *User {
	if rest, ok := strings.CutPrefix(token, mockTokenPrefix); ok {
		if i := strings.LastIndex(rest, "_"); i > 0 {
			name := rest[:i]
			return &User{ID: "mock_" + name, Username: name, Nickname: name, Mock: true}
		}
	}
	return &User{
		ID:       "mock_user_id",
		Username: "test_user",
		Nickname: "Test User",
		Avatar:   "https://via.placeholder.com/100",
		Mock:     true,
	}
}

// Middleware rejects requests without a valid bearer token and stores the
// user in the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractToken(r)
		if token == "" {
			sendAuthError(w, "Token required", "Please log in first")
			return
		}
		user, err := a.Validate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrInvalidToken) {
				logging.Error("token validation failed", logging.Err(err))
			}
			sendAuthError(w, "Invalid token", "Your session has expired, please log in again")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// WithUser stores user in ctx.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userContextKey).(*User)
	return u
}

// ExtractToken returns the bearer token from the Authorization header, or
// the token query parameter.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}
