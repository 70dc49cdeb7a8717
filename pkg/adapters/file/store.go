// Package file persists the application state as a JSON document on the local
// filesystem.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/interplay/pkg/domain"
)

// DefaultPath is used when New receives an empty path.
var DefaultPath = filepath.Join(".interplay", "state.json")

// Store implements ports.StateBackend with a single JSON file.
type Store struct {
	Path string
}

// New creates a Store writing to path.
func New(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{Path: path}
}

// Save writes the state atomically.
// It writes to a temporary file first, syncs it, and then renames it over the destination.
func (s *Store) Save(ctx context.Context, state *domain.AppState) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure state directory: %w", err)
	}

	data, err := domain.MarshalState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// same directory, so the rename stays on one filesystem
	tmpFile, err := os.CreateTemp(dir, "tmp-"+filepath.Base(s.Path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Load reads and decodes the state file.
func (s *Store) Load(ctx context.Context) (*domain.AppState, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	state, err := domain.UnmarshalState(data)
	if err != nil {
		return nil, errors.Join(domain.ErrStateCorrupt, fmt.Errorf("%s: %w", s.Path, err))
	}
	return state, nil
}

// Quarantine renames the state file to <path>.corrupt-<unix seconds>.
func (s *Store) Quarantine(ctx context.Context) (string, error) {
	if _, err := os.Stat(s.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", domain.ErrStateNotFound
		}
		return "", err
	}

	base := fmt.Sprintf("%s.corrupt-%d", s.Path, time.Now().Unix())
	dest := base
	for n := 1; ; n++ {
		if _, err := os.Stat(dest); errors.Is(err, os.ErrNotExist) {
			break
		}
		dest = fmt.Sprintf("%s-%d", base, n)
	}

	if err := os.Rename(s.Path, dest); err != nil {
		return "", fmt.Errorf("failed to quarantine state file: %w", err)
	}
	return dest, nil
}

// Delete removes the state file.
func (s *Store) Delete(ctx context.Context) error {
	err := os.Remove(s.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	return nil
}
