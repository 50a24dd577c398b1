// Package session persists the CLI's login state in the OS user
// config directory. A missing or corrupted file reads as no session.
package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const (
	appDir      = "knot"
	sessionFile = "session.json"
)

type Session struct {
	Registry string `json:"registry"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

func path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appDir, sessionFile), nil
}

// Load returns nil without error when no usable session exists.
func Load() (*Session, error) {
	p, err := path()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil || s.Token == "" {
		// Corrupted session files are treated as logged out.
		return nil, nil
	}
	return &s, nil
}

func Save(s *Session) error {
	p, err := path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o600)
}

// Clear removes the session file; clearing a missing session is not
// an error.
func Clear() error {
	p, err := path()
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
