package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// LocalStore keeps rendered lessons on disk, one directory per session.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("output dir must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (l *LocalStore) Root() string { return l.root }

// LessonName is the file name used for one lesson of a session.
func LessonName(lesson int, ext string) string {
	return fmt.Sprintf("lesson_%d.%s", lesson, strings.TrimPrefix(ext, "."))
}

// ObjectKey is the durable-storage key for a lesson.
func ObjectKey(prefix, sessionID string, lesson int, ext string) string {
	parts := []string{}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, sanitize(sessionID), LessonName(lesson, ext))
	return strings.Join(parts, "/")
}

func sanitize(s string) string {
	s = unsafeSegment.ReplaceAllString(strings.TrimSpace(s), "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return "default"
	}
	return s
}

// Path returns where a lesson lives without touching the filesystem.
func (l *LocalStore) Path(sessionID string, lesson int, ext string) string {
	return filepath.Join(l.root, sanitize(sessionID), LessonName(lesson, ext))
}

// Save writes data atomically and returns the final path.
func (l *LocalStore) Save(sessionID string, lesson int, ext string, data []byte) (string, error) {
	target := l.Path(sessionID, lesson, ext)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".lesson-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write lesson: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync lesson: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close lesson: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("commit lesson: %w", err)
	}
	return target, nil
}

// Writable probes the output directory with a throwaway file.
func (l *LocalStore) Writable() error {
	f, err := os.CreateTemp(l.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("output dir not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// SessionFiles lists the lesson files stored for a session.
func (l *LocalStore) SessionFiles(sessionID string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.root, sanitize(sessionID), "lesson_*"))
	if err != nil {
		return nil, err
	}
	return matches, nil
}
