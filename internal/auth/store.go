package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/workflowshelf/workflowshelf/internal/entitlements"
	"github.com/workflowshelf/workflowshelf/internal/logging"
)

// Store errors.
var (
	ErrUserExists   = errors.New("username already exists")
	ErrUserNotFound = errors.New("user not found")
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	username     TEXT NOT NULL UNIQUE,
	password     TEXT NOT NULL,
	nickname     TEXT NOT NULL DEFAULT '',
	avatar       TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	entitlements TEXT NOT NULL DEFAULT '{}',
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id           BIGSERIAL PRIMARY KEY,
	username     TEXT NOT NULL UNIQUE,
	password     TEXT NOT NULL,
	nickname     TEXT NOT NULL DEFAULT '',
	avatar       TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	entitlements TEXT NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

var placeholder = regexp.MustCompile(`\$\d+`)

// Store keeps user accounts in PostgreSQL or SQLite. Queries are written with
// $N placeholders and rebound for SQLite.
type Store struct {
	db       *sql.DB
	postgres bool
}

// IsPostgresURL reports whether url names a PostgreSQL database rather than
// a SQLite file.
func IsPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}

// Open connects to the users database and creates the schema.
func Open(ctx context.Context, url string) (*Store, error) {
	s := &Store{postgres: IsPostgresURL(url)}

	var err error
	if s.postgres {
		s.db, err = sql.Open("postgres", url)
	} else {
		if dir := filepath.Dir(url); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		s.db, err = sql.Open("sqlite", url)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		s.db.Close()
		return nil, err
	}

	driver := "sqlite"
	if s.postgres {
		driver = "postgres"
	}
	logging.Info("users database ready", logging.String("driver", driver))
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if s.postgres {
		if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
			return fmt.Errorf("create users table: %w", err)
		}
		return nil
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		sqliteSchema,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) rebind(query string) string {
	if s.postgres {
		return query
	}
	return placeholder.ReplaceAllString(query, "?")
}

// Account is a stored user row.
type Account struct {
	ID           string
	Username     string
	PasswordHash string
	Nickname     string
	Avatar       string
	Email        string
	Phone        string
	Entitlements entitlements.Entitlements
}

// Create inserts a new account and fills in its ID.
func (s *Store) Create(ctx context.Context, a *Account) error {
	ent, err := json.Marshal(a.Entitlements)
	if err != nil {
		return fmt.Errorf("encode entitlements: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO users (username, password, nickname, avatar, email, phone, entitlements)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`),
		a.Username, a.PasswordHash, a.Nickname, a.Avatar, a.Email, a.Phone, string(ent)).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	a.ID = strconv.FormatInt(id, 10)
	return nil
}

// ByUsername looks an account up by username.
func (s *Store) ByUsername(ctx context.Context, username string) (*Account, error) {
	return s.one(ctx, `WHERE username = $1`, username)
}

// ByID looks an account up by ID.
func (s *Store) ByID(ctx context.Context, id string) (*Account, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return s.one(ctx, `WHERE id = $1`, n)
}

func (s *Store) one(ctx context.Context, where string, arg any) (*Account, error) {
	var (
		a   Account
		id  int64
		ent string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, username, password, nickname, avatar, email, phone, entitlements
		 FROM users `+where), arg).
		Scan(&id, &a.Username, &a.PasswordHash, &a.Nickname, &a.Avatar, &a.Email, &a.Phone, &ent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	a.ID = strconv.FormatInt(id, 10)
	if err := json.Unmarshal([]byte(ent), &a.Entitlements); err != nil {
		logging.Warn("stored entitlements are corrupt, treating as none",
			logging.String("user_id", a.ID), logging.Err(err))
		a.Entitlements = entitlements.Entitlements{}
	}
	return &a, nil
}

// SetEntitlements replaces the entitlements of a user.
func (s *Store) SetEntitlements(ctx context.Context, id string, e entitlements.Entitlements) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return ErrUserNotFound
	}
	ent, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entitlements: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE users SET entitlements = $1 WHERE id = $2`), string(ent), n)
	if err != nil {
		return fmt.Errorf("update entitlements: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Count returns the number of accounts.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
