package serverdb

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a user, session or token does not exist (or
// is revoked/expired).
var ErrNotFound = errors.New("not found")

// User is a server-side account.
type User struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

func newToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// CreateUser creates an account and returns it.
func (s *ServerDB) CreateUser(name string) (*User, error) {
	u := &User{
		ID:        "u-" + newToken()[:8],
		Name:      name,
		CreatedAt: time.Now(),
	}
	_, err := s.conn.Exec(
		`INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)`,
		u.ID, u.Name, formatTime(u.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetUserByName looks up an account by its unique name.
func (s *ServerDB) GetUserByName(name string) (*User, error) {
	var u User
	var created string
	err := s.conn.QueryRow(
		`SELECT id, name, created_at FROM users WHERE name = ?`, name,
	).Scan(&u.ID, &u.Name, &created)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt, _ = parseTimestamp(created)
	return &u, nil
}

// CreateSession mints a long-lived refresh token for a user. The token is
// what a client stores on disk and presents to the refresh endpoint.
func (s *ServerDB) CreateSession(userID string) (string, error) {
	token := newToken()
	_, err := s.conn.Exec(
		`INSERT INTO sessions (id, user_id, refresh_token, created_at) VALUES (?, ?, ?, ?)`,
		"s-"+newToken()[:8], userID, token, formatTime(time.Now()),
	)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}

// RevokeSession marks the session holding this refresh token revoked.
// Subsequent refresh attempts with the token fail.
func (s *ServerDB) RevokeSession(refreshToken string) error {
	res, err := s.conn.Exec(
		`UPDATE sessions SET revoked_at = ? WHERE refresh_token = ? AND revoked_at IS NULL`,
		formatTime(time.Now()), refreshToken,
	)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UserForRefreshToken resolves a non-revoked refresh token to its user id.
func (s *ServerDB) UserForRefreshToken(refreshToken string) (string, error) {
	var userID string
	err := s.conn.QueryRow(
		`SELECT user_id FROM sessions WHERE refresh_token = ? AND revoked_at IS NULL`,
		refreshToken,
	).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup refresh token: %w", err)
	}
	return userID, nil
}

// IssueAccessToken mints a short-lived bearer token for a user.
func (s *ServerDB) IssueAccessToken(userID string, ttl time.Duration) (string, error) {
	token := newToken()
	_, err := s.conn.Exec(
		`INSERT INTO access_tokens (token, user_id, expires_at) VALUES (?, ?, ?)`,
		token, userID, formatTime(time.Now().Add(ttl)),
	)
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}
	return token, nil
}

// UserForAccessToken resolves an unexpired bearer token to its user id.
func (s *ServerDB) UserForAccessToken(token string) (string, error) {
	var userID string
	var expires string
	err := s.conn.QueryRow(
		`SELECT user_id, expires_at FROM access_tokens WHERE token = ?`, token,
	).Scan(&userID, &expires)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup access token: %w", err)
	}
	exp, err := parseTimestamp(expires)
	if err != nil || !exp.After(time.Now()) {
		return "", ErrNotFound
	}
	return userID, nil
}

// PruneAccessTokens deletes expired bearer tokens. Called opportunistically;
// correctness never depends on it.
func (s *ServerDB) PruneAccessTokens() error {
	_, err := s.conn.Exec(`DELETE FROM access_tokens WHERE expires_at < ?`, formatTime(time.Now()))
	return err
}
