// Package auth is the external identity collaborator: it stores user
// credentials in SQLite and validates them at login. The hub core never
// touches credentials, it only consumes the User this package returns.
package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrUserNotFound  = errors.New("user does not exist")
	ErrWrongPassword = errors.New("wrong password")
	ErrIDTaken       = errors.New("this ID is already in use")
	ErrPhoneTaken    = errors.New("this phone number is already registered")
)

// ValidationError reports a registration field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var phonePattern = regexp.MustCompile(`^1\d{10}$`)

// User is the profile returned on successful registration or login.
type User struct {
	ID       string `json:"id"`
	Phone    string `json:"phone"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Provider handles SQLite-backed registration and credential checks, and
// issues session resume tokens.
type Provider struct {
	db        *sql.DB
	jwtSecret []byte
	logger    *slog.Logger
}

// Open opens (creating if needed) the user database at dbPath.
func Open(dbPath, jwtSecret string, logger *slog.Logger) (*Provider, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open user database: %w", err)
	}

	p := &Provider{
		db:        db,
		jwtSecret: []byte(jwtSecret),
		logger:    logger.With(slog.String("component", "auth_provider")),
	}
	if err := p.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize user schema: %w", err)
	}
	return p, nil
}

func (p *Provider) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		phone TEXT UNIQUE NOT NULL,
		username TEXT NOT NULL,
		password TEXT NOT NULL,
		avatar TEXT DEFAULT '👤',
		created_at INTEGER NOT NULL,
		last_login INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_phone ON users(phone);
	`
	_, err := p.db.Exec(schema)
	return err
}

// SeedTestUser inserts the well-known development account if absent.
func (p *Provider) SeedTestUser() error {
	_, err := p.db.Exec(
		`INSERT OR IGNORE INTO users (id, phone, username, password, avatar, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"testuser", "13800138000", "testuser", "123456", "😊", time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to seed test user: %w", err)
	}
	return nil
}

// Register validates and creates a new user. The username defaults to the
// ID when omitted.
func (p *Provider) Register(id, phone, username, password string) (User, error) {
	if !phonePattern.MatchString(phone) {
		return User{}, &ValidationError{Field: "phone", Reason: "must be 11 digits starting with 1"}
	}
	if len(id) < 3 || len(id) > 20 {
		return User{}, &ValidationError{Field: "id", Reason: "must be 3-20 characters"}
	}
	if len(password) < 6 {
		return User{}, &ValidationError{Field: "password", Reason: "must be at least 6 characters"}
	}

	var existing string
	err := p.db.QueryRow("SELECT id FROM users WHERE id = ?", id).Scan(&existing)
	if err == nil {
		return User{}, ErrIDTaken
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user lookup failed: %w", err)
	}

	err = p.db.QueryRow("SELECT phone FROM users WHERE phone = ?", phone).Scan(&existing)
	if err == nil {
		return User{}, ErrPhoneTaken
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("phone lookup failed: %w", err)
	}

	if username == "" {
		username = id
	}
	user := User{ID: id, Phone: phone, Username: username, Avatar: "👤"}

	_, err = p.db.Exec(
		`INSERT INTO users (id, phone, username, password, avatar, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Phone, user.Username, password, user.Avatar, time.Now().UnixMilli(),
	)
	if err != nil {
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}

	p.logger.Info("user registered", slog.String("userID", user.ID))
	return user, nil
}

// Login checks credentials by user ID or phone number and returns the
// stored profile. The last_login timestamp is updated best-effort.
func (p *Provider) Login(loginID, password string) (User, error) {
	query := "SELECT id, phone, username, password, avatar FROM users WHERE id = ?"
	if phonePattern.MatchString(loginID) {
		query = "SELECT id, phone, username, password, avatar FROM users WHERE phone = ?"
	}

	var user User
	var stored string
	err := p.db.QueryRow(query, loginID).Scan(&user.ID, &user.Phone, &user.Username, &stored, &user.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("user lookup failed: %w", err)
	}
	if stored != password {
		return User{}, ErrWrongPassword
	}

	if _, err := p.db.Exec("UPDATE users SET last_login = ? WHERE id = ?", time.Now().UnixMilli(), user.ID); err != nil {
		p.logger.Warn("failed to update last_login", slog.String("userID", user.ID), slog.Any("error", err))
	}

	p.logger.Info("user login succeeded", slog.String("userID", user.ID))
	return user, nil
}

func (p *Provider) Close() error {
	return p.db.Close()
}
