package memory

import (
	"context"
	"sync"
)

type blob struct {
	contentType string
	data        []byte
}

// BlobStore keeps raw captures in memory, addressed by mem:// URIs.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

// NewBlobStore constructs a BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]blob)}
}

// PutObject stores data under path and returns its URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data []byte) (string, error) {
	buf := make([]byte, len(data))
	copy(buf, data)
	s.mu.Lock()
	s.blobs[path] = blob{contentType: contentType, data: buf}
	s.mu.Unlock()
	return "mem://" + path, nil
}

// GetObject returns the stored bytes for path.
func (s *BlobStore) GetObject(_ context.Context, path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[path]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, true
}
