package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"time"

	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/model"
)

// DefaultAuthSessionTTL bounds how long a login token stays valid when no
// explicit TTL is configured.
const DefaultAuthSessionTTL = 24 * time.Hour

// SetAuthSessionTTL overrides the login token lifetime. Non-positive
// values are ignored.
func (s *Store) SetAuthSessionTTL(d time.Duration) {
	if d > 0 {
		s.authTTL = d
	}
}

// CreateAuthSession issues a new login token for a user.
func (s *Store) CreateAuthSession(userID int64) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	ttl := s.authTTL
	if ttl <= 0 {
		ttl = DefaultAuthSessionTTL
	}
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now, now.Add(ttl),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// GetAuthSession returns the live session for the given token. Expired or
// unknown tokens come back nil; expired rows are left for the cleanup job.
func (s *Store) GetAuthSession(token string) (*model.AuthSession, error) {
	var sess model.AuthSession
	err := s.db.QueryRow(
		`SELECT id, user_id, created_at, expires_at FROM auth_sessions
		 WHERE id = ? AND expires_at > ?`, token, time.Now(),
	).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// DeleteAuthSession removes a login token.
func (s *Store) DeleteAuthSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

// CleanupExpiredSessions removes all expired login tokens.
func (s *Store) CleanupExpiredSessions() error {
	_, err := s.db.Exec(`DELETE FROM auth_sessions WHERE expires_at < ?`, time.Now())
	return err
}
