// Package creds persists the govision credential triple between runs.
// Credentials are stored in ~/.config/lens/credentials.toml.
package creds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/govisionhq/lens/internal/govision"
)

const defaultCredsPath = "~/.config/lens/credentials.toml"

// Store holds the current credential in memory and mirrors every change to
// disk. The zero value is not usable; construct with NewStore.
type Store struct {
	mu   sync.Mutex
	path string
	cred govision.Credential
	has  bool
}

// DefaultPath returns the default credentials file path.
func DefaultPath() string {
	return defaultCredsPath
}

// NewStore builds a Store backed by the file at path. An empty path uses the
// default location. The file is read eagerly; a missing or unreadable file
// simply leaves the store empty.
func NewStore(path string) (*Store, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: resolved}
	s.load()
	return s, nil
}

type fileFormat struct {
	AccessToken  string `toml:"access_token"`
	RefreshToken string `toml:"refresh_token"`
	Identity     string `toml:"identity"`
}

func (s *Store) load() {
	bytes, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var raw fileFormat
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return
	}
	if strings.TrimSpace(raw.AccessToken) == "" {
		return
	}
	s.cred = govision.Credential{
		AccessToken:  raw.AccessToken,
		RefreshToken: raw.RefreshToken,
		Identity:     raw.Identity,
	}
	s.has = true
}

// Get returns the stored credential, reporting false when none is present.
func (s *Store) Get() (govision.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred, s.has
}

// Save replaces the stored credential and writes it to disk. The file is
// created with mode 0600 since it holds live tokens.
func (s *Store) Save(cred govision.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cred = cred
	s.has = cred.AccessToken != ""

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create creds dir: %w", err)
	}
	bytes, err := toml.Marshal(fileFormat{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Identity:     cred.Identity,
	})
	if err != nil {
		return fmt.Errorf("marshal creds: %w", err)
	}
	if err := os.WriteFile(s.path, bytes, 0o600); err != nil {
		return fmt.Errorf("write creds: %w", err)
	}
	return nil
}

// Clear removes the credential from memory and deletes the backing file. All
// three fields go together; no partial state is left behind.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cred = govision.Credential{}
	s.has = false

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove creds file: %w", err)
	}
	return nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultCredsPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
