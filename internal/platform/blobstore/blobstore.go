// Package blobstore stores signed consent artifacts. It defines the Store
// interface, a filesystem implementation used in production, and an in-memory
// implementation for testing and development.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	ErrArtifactNotFound = errors.New("consent artifact not found")
	ErrFileTooLarge     = errors.New("file exceeds maximum allowed size")
	ErrEmptyContent     = errors.New("file content is empty")
)

// MaxFileSize is the maximum allowed consent document size in bytes (20 MB).
const MaxFileSize = 20 * 1024 * 1024

// Artifact describes a stored consent document.
type Artifact struct {
	Locator  string    `json:"locator"`
	Hash     string    `json:"hash"`
	Size     int64     `json:"size"`
	StoredAt time.Time `json:"stored_at"`
}

// Locator derives the canonical storage name for a consent document from the
// procedure it belongs to and the SHA-256 hex digest of its content.
func Locator(procedureID, contentHash string) string {
	short := contentHash
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("consent_%s_%s.pdf", procedureID, short)
}

// Store is the contract for consent artifact backends.
type Store interface {
	Put(ctx context.Context, procedureID string, content io.Reader) (*Artifact, error)
	Get(ctx context.Context, locator string) (io.ReadCloser, *Artifact, error)
	Stat(ctx context.Context, locator string) (*Artifact, error)
	Delete(ctx context.Context, locator string) error
}

func readContent(content io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading content: %w", err)
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyContent
	}
	if int64(len(data)) > MaxFileSize {
		return nil, "", ErrFileTooLarge
	}
	h := sha256.Sum256(data)
	return data, fmt.Sprintf("%x", h), nil
}

// ---------------------------------------------------------------------------
// Filesystem implementation
// ---------------------------------------------------------------------------

// FSStore stores consent artifacts as files under a single directory.
type FSStore struct {
	dir string
}

func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create consent directory %s: %w", dir, err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) path(locator string) (string, error) {
	// Locators are derived server-side, but never trust them as paths.
	if locator == "" || strings.ContainsAny(locator, "/\\") || strings.Contains(locator, "..") {
		return "", ErrArtifactNotFound
	}
	return filepath.Join(s.dir, locator), nil
}

func (s *FSStore) Put(_ context.Context, procedureID string, content io.Reader) (*Artifact, error) {
	data, hash, err := readContent(content)
	if err != nil {
		return nil, err
	}

	locator := Locator(procedureID, hash)
	path, err := s.path(locator)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, data, 0640); err != nil {
		return nil, fmt.Errorf("write consent artifact: %w", err)
	}

	return &Artifact{
		Locator:  locator,
		Hash:     hash,
		Size:     int64(len(data)),
		StoredAt: time.Now().UTC(),
	}, nil
}

func (s *FSStore) Get(ctx context.Context, locator string) (io.ReadCloser, *Artifact, error) {
	meta, err := s.Stat(ctx, locator)
	if err != nil {
		return nil, nil, err
	}

	path, err := s.path(locator)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrArtifactNotFound
		}
		return nil, nil, fmt.Errorf("open consent artifact: %w", err)
	}

	return f, meta, nil
}

func (s *FSStore) Stat(_ context.Context, locator string) (*Artifact, error) {
	path, err := s.path(locator)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("stat consent artifact: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read consent artifact: %w", err)
	}
	h := sha256.Sum256(data)

	return &Artifact{
		Locator:  locator,
		Hash:     fmt.Sprintf("%x", h),
		Size:     info.Size(),
		StoredAt: info.ModTime().UTC(),
	}, nil
}

func (s *FSStore) Delete(_ context.Context, locator string) error {
	path, err := s.path(locator)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrArtifactNotFound
		}
		return fmt.Errorf("delete consent artifact: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedArtifact struct {
	meta    Artifact
	content []byte
}

// InMemoryStore is a thread-safe Store for testing and development.
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]*storedArtifact
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{artifacts: make(map[string]*storedArtifact)}
}

func (s *InMemoryStore) Put(_ context.Context, procedureID string, content io.Reader) (*Artifact, error) {
	data, hash, err := readContent(content)
	if err != nil {
		return nil, err
	}

	meta := Artifact{
		Locator:  Locator(procedureID, hash),
		Hash:     hash,
		Size:     int64(len(data)),
		StoredAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.artifacts[meta.Locator] = &storedArtifact{meta: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *InMemoryStore) Get(_ context.Context, locator string) (io.ReadCloser, *Artifact, error) {
	s.mu.RLock()
	a, ok := s.artifacts[locator]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrArtifactNotFound
	}

	meta := a.meta
	return io.NopCloser(bytes.NewReader(a.content)), &meta, nil
}

func (s *InMemoryStore) Stat(_ context.Context, locator string) (*Artifact, error) {
	s.mu.RLock()
	a, ok := s.artifacts[locator]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrArtifactNotFound
	}

	meta := a.meta
	return &meta, nil
}

func (s *InMemoryStore) Delete(_ context.Context, locator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.artifacts[locator]; !ok {
		return ErrArtifactNotFound
	}
	delete(s.artifacts, locator)
	return nil
}
