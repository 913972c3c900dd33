package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cardbounty/internal/auth"
)

var (
	ErrNoSession      = errors.New("not logged in, run `bb login`")
	ErrSessionExpired = errors.New("session expired, run `bb login`")
)

// Session is what bb keeps between runs. ContactCode is the friend code
// attached to offers when --contact is not given; it survives re-login.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Email        string    `json:"email"`
	UserID       string    `json:"user_id"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	ContactCode  string    `json:"contact_code,omitempty"`
}

// NewSession builds a session from a login response, carrying over the
// friend code from prev when the same user signs in again.
func NewSession(s auth.Session, prev Session, now time.Time) Session {
	out := Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		Email:        s.User.Email,
		UserID:       s.User.ID,
	}
	if s.ExpiresIn > 0 {
		out.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second).UTC()
	}
	if prev.UserID == out.UserID {
		out.ContactCode = prev.ContactCode
	}
	return out
}

func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Contact picks the friend code for an offer: an explicit flag wins over the
// remembered one.
func (s Session) Contact(flag string) string {
	if flag = strings.TrimSpace(flag); flag != "" {
		return flag
	}
	return s.ContactCode
}

func sessionPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".bb")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

func SaveSession(s Session) error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o600)
}

// readSession returns whatever is on disk, expired or not.
func readSession() (Session, error) {
	path, err := sessionPath()
	if err != nil {
		return Session{}, err
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	return s, nil
}

// LoadSession returns a usable session or ErrNoSession / ErrSessionExpired.
func LoadSession() (Session, error) {
	s, err := readSession()
	if err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(s.AccessToken) == "" {
		return Session{}, ErrNoSession
	}
	if s.Expired(time.Now()) {
		return Session{}, ErrSessionExpired
	}
	return s, nil
}

// PreviousSession is the last saved session even if its token has expired,
// so login can keep the remembered friend code.
func PreviousSession() Session {
	s, err := readSession()
	if err != nil {
		return Session{}
	}
	return s
}

// RememberContact stores code as the default friend code for offers.
func RememberContact(code string) error {
	s, err := readSession()
	if err != nil {
		return err
	}
	s.ContactCode = strings.TrimSpace(code)
	return SaveSession(s)
}

// ClearSession drops the tokens but keeps the friend code for the next login.
func ClearSession() error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	s, err := readSession()
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil || s.ContactCode == "" {
		err = os.Remove(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return SaveSession(Session{UserID: s.UserID, ContactCode: s.ContactCode})
}
