package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	storage_go "github.com/supabase-community/storage-go"
	supabase "github.com/supabase-community/supabase-go"
)

type supabaseAPI interface {
	UploadFile(bucketID, relativePath string, data io.Reader, opts ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	CreateSignedUrl(bucketID, filePath string, expiresIn int) (storage_go.SignedUrlResponse, error)
	GetBucket(id string) (storage_go.Bucket, error)
}

// SupabaseStore uploads lessons to a Supabase storage bucket. The storage API
// has no object metadata, so metadata rides along in a sidecar object.
type SupabaseStore struct {
	bucket string
	client supabaseAPI
}

func NewSupabaseStore(url, key, bucket string) (*SupabaseStore, error) {
	if bucket == "" {
		return nil, errors.New("supabase bucket must be set")
	}
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("initialize supabase client: %w", err)
	}
	return &SupabaseStore{bucket: bucket, client: client.Storage}, nil
}

func (s *SupabaseStore) Name() string { return "supabase" }

// MetadataKey is the sidecar object holding an upload's metadata.
func MetadataKey(key string) string { return key + ".meta.json" }

func (s *SupabaseStore) Put(ctx context.Context, obj Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	upsert := true
	contentType := obj.ContentType
	if contentType == "" {
		contentType = ContentType(obj.Key)
	}
	_, err := s.client.UploadFile(s.bucket, obj.Key, bytes.NewReader(obj.Data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return fmt.Errorf("supabase upload %s: %w", obj.Key, err)
	}
	if len(obj.Metadata) == 0 {
		return nil
	}
	meta, err := json.Marshal(obj.Metadata)
	if err != nil {
		return err
	}
	jsonType := "application/json"
	if _, err := s.client.UploadFile(s.bucket, MetadataKey(obj.Key), bytes.NewReader(meta), storage_go.FileOptions{
		ContentType: &jsonType,
		Upsert:      &upsert,
	}); err != nil {
		return fmt.Errorf("supabase upload metadata %s: %w", obj.Key, err)
	}
	return nil
}

func (s *SupabaseStore) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	resp, err := s.client.CreateSignedUrl(s.bucket, key, int(ttl.Seconds()))
	if err != nil {
		return "", fmt.Errorf("supabase sign %s: %w", key, err)
	}
	return resp.SignedURL, nil
}

func (s *SupabaseStore) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.client.GetBucket(s.bucket); err != nil {
		return fmt.Errorf("supabase bucket %s unreachable: %w", s.bucket, err)
	}
	return nil
}
