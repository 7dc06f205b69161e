// Package authstore persists the login session: the bearer token, the user
// profile, and the logged-in flag. It is the only place auth state lives;
// the API client reads it on every request and clears it on auth failures.
package authstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// User is the persisted user profile. Servers are inconsistent about which
// identifier they populate, so all three are optional.
type User struct {
	ID     int64  `json:"id,omitempty"`
	UserID int64  `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
}

// UID returns the best available user identifier: numeric id, then userId,
// then the local part of the email, then "0" so an unauthenticated user
// still gets a stable identifier.
func (u *User) UID() string {
	if u == nil {
		return "0"
	}
	switch {
	case u.ID != 0:
		return fmt.Sprintf("%d", u.ID)
	case u.UserID != 0:
		return fmt.Sprintf("%d", u.UserID)
	}
	if local, _, ok := strings.Cut(u.Email, "@"); ok && local != "" {
		return local
	}
	return "0"
}

// Store is the auth persistence port. Implementations must treat SaveLogin
// and Clear as last-writer-wins; callers only invoke them from explicit
// user actions or the 401 handler.
type Store interface {
	Token() string
	User() *User
	LoggedIn() bool
	SaveLogin(token string, user *User) error
	Clear() error
}

type fileState struct {
	Token    string `json:"token,omitempty"`
	User     *User  `json:"user,omitempty"`
	LoggedIn bool   `json:"loggedIn,omitempty"`
}

// FileStore keeps auth state in a JSON file under the config directory.
type FileStore struct {
	path string

	mu    sync.Mutex
	state fileState
}

// NewFileStore loads existing auth state from path. A missing file is not
// an error; it just means nobody is logged in yet.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read auth file: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		// A corrupt auth file is treated as logged out rather than
		// wedging every command behind an unreadable file.
		s.state = fileState{}
	}
	return s, nil
}

func (s *FileStore) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Token
}

func (s *FileStore) User() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.User
}

func (s *FileStore) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LoggedIn
}

func (s *FileStore) SaveLogin(token string, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = fileState{Token: token, User: user, LoggedIn: true}
	return s.write()
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = fileState{}
	return s.write()
}

func (s *FileStore) write() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create auth dir: %w", err)
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal auth state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write auth file: %w", err)
	}
	return nil
}

// MemStore is an in-memory Store for tests and one-off sessions.
type MemStore struct {
	mu    sync.Mutex
	state fileState
}

func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Token
}

func (s *MemStore) User() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.User
}

func (s *MemStore) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LoggedIn
}

func (s *MemStore) SaveLogin(token string, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = fileState{Token: token, User: user, LoggedIn: true}
	return nil
}

func (s *MemStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = fileState{}
	return nil
}
