package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

// MemoryStore is an in-process VideoStore for tests and local development
// without AWS credentials. Presigned URLs point at a fake host and carry
// the expiry as a query parameter.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	BaseURL string
}

type memoryObject struct {
	data        []byte
	contentType string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memoryObject),
		BaseURL: "https://storage.local",
	}
}

func (m *MemoryStore) signedURL(method, key string, ttl time.Duration) string {
	q := url.Values{}
	q.Set("method", method)
	q.Set("expires", fmt.Sprintf("%d", int(ttl.Seconds())))
	return fmt.Sprintf("%s/%s?%s", m.BaseURL, key, q.Encode())
}

func (m *MemoryStore) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return m.signedURL("PUT", key, ttl), nil
}

func (m *MemoryStore) PresignPlayback(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return m.signedURL("GET", key, ttl), nil
}

func (m *MemoryStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return &ObjectInfo{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType}, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: buf.Bytes(), contentType: contentType}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Has reports whether key exists
func (m *MemoryStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

var _ VideoStore = (*MemoryStore)(nil)
