// Package store persists the small amount of session state the client
// keeps between runs: the bearer token, the candidate's role, and the
// identifiers of the exam in progress. It is the headless equivalent of
// the browser's localStorage keys the exam frontend relies on.
package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// State is the persisted session identity.
type State struct {
	Token  string `json:"token"`
	Role   string `json:"role"`
	TestID string `json:"test_id"`
	UserID string `json:"user_id"`
}

// Store is a file-backed state holder. All methods are safe for
// concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates a Store persisting to the given file path. The file is
// created lazily on first Save.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted state. A missing file yields a zero State,
// not an error.
func (s *Store) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st State
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		// Corrupt state file is treated as empty; the user re-authenticates.
		return State{}, nil
	}
	return st, nil
}

// Save writes the state atomically (temp file + rename).
func (s *Store) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".voxexam-state-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

// Clear removes the persisted state. Used on logout and on fatal
// session errors ("clear local state and exit").
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
