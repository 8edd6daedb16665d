// Package repo implements the data persistence layer for domain entities.
// This file provides the credential store backends consumed by the routing
// core: a GORM/SQLite store, a JSON file store, and an in-memory store.
//
// All backends share one contract:
//   - Set overwrites any previous credential for the chat and is durable
//     (for the durable backends) before it returns.
//   - Get reports a missing chat as ok=false with a nil error.
//   - Per-key visibility is atomic: a reader sees either the old or the new
//     value, never a partial one.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gorm.io/gorm"
)

// SQLStore keeps credentials in the credentials table.
type SQLStore struct {
	DB *gorm.DB
}

// NewSQLStore returns a store backed by db. The schema must already be
// migrated (see AutoMigrate).
func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{DB: db}
}

// Set upserts the credential for chatID.
func (s *SQLStore) Set(ctx context.Context, chatID, token string) error {
	return UpsertCredential(ctx, s.DB, chatID, token)
}

// Get returns the credential for chatID, if any.
func (s *SQLStore) Get(ctx context.Context, chatID string) (string, bool, error) {
	c, err := GetCredential(ctx, s.DB, chatID)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return c.Token, true, nil
}

// FileStore keeps every credential in one JSON object on disk
// ({"<chat id>": "<credential>", ...}). Each Set rewrites the whole image;
// the new image is written to a sibling temp file and renamed over the old
// one, so a reader never observes a half-written file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store persisting to path. The parent directory is
// created when missing; the file itself is created on the first Set.
func NewFileStore(path string) (*FileStore, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{path: abs}, nil
}

// Path returns the absolute path of the JSON image.
func (s *FileStore) Path() string { return s.path }

// Set rewrites the image with chatID mapped to token.
func (s *FileStore) Set(ctx context.Context, chatID, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	data[chatID] = token
	return s.save(data)
}

// Get reads the image and looks up chatID. A missing file is an empty store;
// an unreadable or corrupt file is returned as an error.
func (s *FileStore) Get(ctx context.Context, chatID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return "", false, err
	}
	token, ok := data[chatID]
	return token, ok, nil
}

func (s *FileStore) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential store: %w", err)
	}
	data := map[string]string{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode credential store %s: %w", s.path, err)
	}
	return data, nil
}

func (s *FileStore) save(data map[string]string) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp image: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp image: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace credential store: %w", err)
	}
	return nil
}

// MemoryStore is a process-local store, used in tests and for throwaway runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// Set stores token for chatID.
func (s *MemoryStore) Set(_ context.Context, chatID, token string) error {
	s.mu.Lock()
	s.data[chatID] = token
	s.mu.Unlock()
	return nil
}

// Get returns the token for chatID, if any.
func (s *MemoryStore) Get(_ context.Context, chatID string) (string, bool, error) {
	s.mu.RLock()
	token, ok := s.data[chatID]
	s.mu.RUnlock()
	return token, ok, nil
}
