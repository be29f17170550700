package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// credentialFile is the on-disk document. UpdatedAt exists for operator
// inspection only; it carries no semantics.
type credentialFile struct {
	AccessToken string    `json:"access_token"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FileStore persists the credential as a single JSON document with 0600
// permissions. A missing or empty file means no credential.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("credential file path is required")
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Get(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoCredential
		}
		return "", fmt.Errorf("read credential file: %w", err)
	}
	if len(b) == 0 {
		return "", ErrNoCredential
	}

	var doc credentialFile
	if err := json.Unmarshal(b, &doc); err != nil {
		return "", fmt.Errorf("decode credential file: %w", err)
	}
	if strings.TrimSpace(doc.AccessToken) == "" {
		return "", ErrNoCredential
	}
	return doc.AccessToken, nil
}

func (s *FileStore) Set(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.MarshalIndent(credentialFile{
		AccessToken: token,
		UpdatedAt:   time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("mkdir credential dir: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	return nil
}
