package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend persists the document as a JSON file on the local filesystem.
type FileBackend struct {
	path string
}

// NewFileBackend creates a backend writing to path. Parent directories are
// created on first save.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Load reads the document from disk. A missing file is an empty document.
func (b *FileBackend) Load(ctx context.Context) (Document, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewDocument(), nil
		}
		return NewDocument(), fmt.Errorf("failed to read state file %s: %w", b.path, err)
	}
	doc := NewDocument()
	if err := json.Unmarshal(data, &doc); err != nil {
		return NewDocument(), fmt.Errorf("failed to decode state file %s: %w", b.path, err)
	}
	if doc.Runners == nil {
		doc.Runners = map[string]ArmRecord{}
	}
	return doc, nil
}

// Save writes the document atomically: temp file in the same directory, then
// rename over the target.
func (b *FileBackend) Save(ctx context.Context, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state document: %w", err)
	}
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".bandit-state-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("failed to replace state file %s: %w", b.path, err)
	}
	return nil
}
