package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVideoKey(t *testing.T) {
	tests := []struct {
		filename string
		expected string
	}{
		{"clip.mp4", "videos/c1/v1.mp4"},
		{"CLIP.MOV", "videos/c1/v1.mov"},
		{"noext", "videos/c1/v1.mp4"},
		{"dir/trailer.webm", "videos/c1/v1.webm"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.expected, VideoKey("c1", "v1", tt.filename))
		})
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Head(ctx, "videos/c1/v1.mp4")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, store.Put(ctx, "videos/c1/v1.mp4", strings.NewReader("data"), 4, "video/mp4"))

	info, err := store.Head(ctx, "videos/c1/v1.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size)
	assert.Equal(t, "video/mp4", info.ContentType)

	require.NoError(t, store.Delete(ctx, "videos/c1/v1.mp4"))
	assert.False(t, store.Has("videos/c1/v1.mp4"))
}

func TestMemoryStorePresign(t *testing.T) {
	store := NewMemoryStore()

	put, err := store.PresignUpload(context.Background(), "videos/c1/v1.mp4", "video/mp4", 15*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, put, "method=PUT")
	assert.Contains(t, put, "expires=900")

	get, err := store.PresignPlayback(context.Background(), "videos/c1/v1.mp4", time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(get, "https://storage.local/videos/c1/v1.mp4?"))
}
