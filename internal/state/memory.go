package state

import (
	"context"
	"sync"
)

// MemoryBackend keeps the document in process memory. Useful for tests and
// single-process deployments that accept losing learned state on restart.
type MemoryBackend struct {
	mu  sync.Mutex
	doc Document
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{doc: NewDocument()}
}

// Load returns a copy of the stored document.
func (b *MemoryBackend) Load(ctx context.Context) (Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doc.Clone(), nil
}

// Save replaces the stored document.
func (b *MemoryBackend) Save(ctx context.Context, doc Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doc = doc.Clone()
	return nil
}
