// Package auth keeps the client session: the bearer token the sync engine
// sends to the server and the user it belongs to.
//
// Token issuance is not handled here; the token is obtained out of band
// (for example from the server's "token" command) and stored with Save.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/jobsync/internal/client/api"
	"github.com/iudanet/jobsync/internal/validation"
)

// Session представляет сохраненные данные авторизации
type Session struct {
	AccessToken string `json:"access_token"`         // bearer token
	UserID      string `json:"user_id"`              // владелец токена, задает namespace хранилища
	Server      string `json:"server,omitempty"`     // адрес сервера, для которого выдан токен
	ExpiresAt   int64  `json:"expires_at,omitempty"` // Unix секунды; 0 - без срока действия
}

// Expired reports whether the session is past its expiry at now
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt > 0 && now.Unix() >= s.ExpiresAt
}

// FileSession stores the session as a JSON file readable only by the owner.
// It implements api.TokenSource.
type FileSession struct {
	now    func() time.Time
	logger *slog.Logger
	path   string
}

var _ api.TokenSource = (*FileSession)(nil)

// NewFileSession creates a session store backed by path
func NewFileSession(path string, logger *slog.Logger) *FileSession {
	return &FileSession{path: path, logger: logger, now: time.Now}
}

// Path returns the session file location
func (f *FileSession) Path() string {
	return f.path
}

// Login builds a session from a raw token and saves it. User id and expiry
// are read from the token's claims when they are not given; the signature is
// not checked here, that is the server's job.
func (f *FileSession) Login(ctx context.Context, token, userID, server string) (*Session, error) {
	if token == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}

	s := &Session{AccessToken: token, UserID: userID, Server: server}

	if claims, ok := parseClaims(token); ok {
		if s.UserID == "" {
			s.UserID, _ = claims.GetSubject()
		}
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			s.ExpiresAt = exp.Unix()
		}
	}

	if err := validation.ValidateUserID(s.UserID); err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	if s.Expired(f.now()) {
		return nil, fmt.Errorf("token expired at %s", time.Unix(s.ExpiresAt, 0).Format(time.RFC3339))
	}

	if err := f.Save(ctx, s); err != nil {
		return nil, err
	}

	return s, nil
}

func parseClaims(token string) (jwt.MapClaims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// Save writes the session atomically: to a temp file first, then renamed
func (f *FileSession) Save(ctx context.Context, s *Session) error {
	if s == nil {
		return fmt.Errorf("session is nil")
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	f.logger.Debug("Session saved", "user_id", s.UserID, "path", f.path)
	return nil
}

// Load reads the stored session.
// Returns ErrNoSession if the user has not signed in
func (f *FileSession) Load(ctx context.Context) (*Session, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		f.logger.Warn("Ignoring corrupt session file", "path", f.path, "error", err)
		return nil, ErrNoSession
	}
	if s.AccessToken == "" {
		return nil, ErrNoSession
	}

	return &s, nil
}

// Delete removes the session (logout). Missing session is not an error
func (f *FileSession) Delete(ctx context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Token returns the access token, or an empty string when there is no valid
// session. An expired token is reported as no session.
func (f *FileSession) Token(ctx context.Context) (string, error) {
	s, err := f.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return "", nil
		}
		return "", err
	}

	if s.Expired(f.now()) {
		f.logger.Info("Session expired, working in local-only mode",
			"expired_at", time.Unix(s.ExpiresAt, 0))
		return "", nil
	}

	return s.AccessToken, nil
}

// Authenticated reports whether a usable token exists
func (f *FileSession) Authenticated(ctx context.Context) bool {
	token, err := f.Token(ctx)
	return err == nil && token != ""
}

// UserID returns the signed-in user or an empty string
func (f *FileSession) UserID(ctx context.Context) string {
	s, err := f.Load(ctx)
	if err != nil {
		return ""
	}
	return s.UserID
}
