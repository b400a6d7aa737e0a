package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	storage_go "github.com/supabase-community/storage-go"

	"github.com/loqalabs/loqa-podcast/internal/config"
)

func TestLocalStoreSave(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)

	path, err := store.Save("session-1", 2, "mp3", []byte("audio"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "session-1", "lesson_2.mp3"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(data))

	_, err = store.Save("session-1", 2, ".mp3", []byte("again"))
	require.NoError(t, err)
	files, err := store.SessionFiles("session-1")
	require.NoError(t, err)
	assert.Len(t, files, 1)

	require.NoError(t, store.Writable())
}

func TestLocalStoreSanitizesSession(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	path := store.Path("../../etc/passwd", 1, "wav")
	assert.Equal(t, store.Root(), filepath.Dir(filepath.Dir(path)))
	assert.Equal(t, "lesson_1.wav", filepath.Base(path))

	_, err = NewLocalStore("  ")
	assert.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "lessons/abc/lesson_3.mp3", ObjectKey("lessons", "abc", 3, "mp3"))
	assert.Equal(t, "abc/lesson_3.wav", ObjectKey("", "abc", 3, "wav"))
	assert.Equal(t, "a/b/x_y/lesson_1.mp3", ObjectKey("/a/b/", "x y", 1, "mp3"))
	assert.Equal(t, "audio/mpeg", ContentType("k/lesson_1.mp3"))
	assert.Equal(t, "audio/wav", ContentType("k/lesson_1.wav"))
}

func TestNewObjectStoreNone(t *testing.T) {
	store, err := NewObjectStore(context.Background(), config.StorageConfig{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, store)

	_, err = NewObjectStore(context.Background(), config.StorageConfig{Backend: "ftp"})
	assert.Error(t, err)
}

type fakeS3 struct {
	put     *s3.PutObjectInput
	body    []byte
	headErr error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.put = in
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{}
	var gotTTL time.Duration
	store := &S3Store{
		bucket: "podcasts",
		client: fake,
		presign: func(_ context.Context, key string, ttl time.Duration) (string, error) {
			gotTTL = ttl
			return "https://example.invalid/" + key + "?sig=1", nil
		},
	}
	err := store.Put(context.Background(), Object{
		Key:      "lessons/s/lesson_1.mp3",
		Data:     []byte("abc"),
		Metadata: map[string]string{"lesson": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "podcasts", *fake.put.Bucket)
	assert.Equal(t, "audio/mpeg", *fake.put.ContentType)
	assert.Equal(t, "1", fake.put.Metadata["lesson"])
	assert.Equal(t, "abc", string(fake.body))

	url, err := store.PresignedURL(context.Background(), "lessons/s/lesson_1.mp3", time.Hour)
	require.NoError(t, err)
	assert.Contains(t, url, "lesson_1.mp3")
	assert.Equal(t, time.Hour, gotTTL)

	require.NoError(t, store.Health(context.Background()))
	fake.headErr = errors.New("forbidden")
	assert.Error(t, store.Health(context.Background()))
}

type fakeSupabase struct {
	uploads map[string][]byte
	types   map[string]string
	err     error
}

func (f *fakeSupabase) UploadFile(_ string, path string, data io.Reader, opts ...storage_go.FileOptions) (storage_go.FileUploadResponse, error) {
	if f.err != nil {
		return storage_go.FileUploadResponse{}, f.err
	}
	b, _ := io.ReadAll(data)
	f.uploads[path] = b
	if len(opts) > 0 && opts[0].ContentType != nil {
		f.types[path] = *opts[0].ContentType
	}
	return storage_go.FileUploadResponse{Key: path}, nil
}

func (f *fakeSupabase) CreateSignedUrl(bucket, path string, expires int) (storage_go.SignedUrlResponse, error) {
	return storage_go.SignedUrlResponse{SignedURL: "https://sb.invalid/" + bucket + "/" + path}, nil
}

func (f *fakeSupabase) GetBucket(id string) (storage_go.Bucket, error) {
	return storage_go.Bucket{}, f.err
}

func TestSupabaseStoreWritesMetadataSidecar(t *testing.T) {
	fake := &fakeSupabase{uploads: map[string][]byte{}, types: map[string]string{}}
	store := &SupabaseStore{bucket: "podcasts", client: fake}

	err := store.Put(context.Background(), Object{
		Key:      "lessons/s/lesson_1.wav",
		Data:     []byte("RIFF"),
		Metadata: map[string]string{"title": "Intro"},
	})
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(fake.uploads["lessons/s/lesson_1.wav"]))
	assert.Equal(t, "audio/wav", fake.types["lessons/s/lesson_1.wav"])

	var meta map[string]string
	require.NoError(t, json.Unmarshal(fake.uploads[MetadataKey("lessons/s/lesson_1.wav")], &meta))
	assert.Equal(t, "Intro", meta["title"])

	url, err := store.PresignedURL(context.Background(), "lessons/s/lesson_1.wav", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://sb.invalid/podcasts/lessons/s/lesson_1.wav", url)
	require.NoError(t, store.Health(context.Background()))

	fake.err = errors.New("boom")
	assert.Error(t, store.Put(context.Background(), Object{Key: "k.mp3"}))
	assert.Error(t, store.Health(context.Background()))
}
