package storage

import (
	"context"
	"fmt"
	"mime"
	"path"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/config"
)

// Object is one upload to durable storage.
type Object struct {
	Key         string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

// ObjectStore is durable storage that can hand out time-limited links.
type ObjectStore interface {
	Name() string
	Put(ctx context.Context, obj Object) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Health(ctx context.Context) error
}

// NewObjectStore builds the configured backend. It returns nil when the
// backend is "none".
func NewObjectStore(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "s3":
		store, err := NewS3Store(ctx, S3Options{
			Bucket:       cfg.Bucket,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "supabase":
		store, err := NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.Bucket)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// ContentType maps an audio file extension to its MIME type.
func ContentType(key string) string {
	switch path.Ext(key) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	}
	if t := mime.TypeByExtension(path.Ext(key)); t != "" {
		return t
	}
	return "application/octet-stream"
}
