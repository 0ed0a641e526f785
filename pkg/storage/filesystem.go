package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage persists files on disk under a base directory.
type LocalStorage struct {
	baseDir       string
	publicBaseURL string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
// publicBaseURL is optional and only used by Put to build object URLs.
func NewLocalStorage(baseDir string, publicBaseURL ...string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	s := &LocalStorage{baseDir: baseDir}
	if len(publicBaseURL) > 0 {
		s.publicBaseURL = strings.TrimRight(publicBaseURL[0], "/")
	}
	return s, nil
}

// Save writes the given bytes to the provided relative path under the base dir.
func (s *LocalStorage) Save(filename string, data []byte) (string, error) {
	return s.SaveStream(filename, bytes.NewReader(data))
}

// SaveStream copies from reader into the target file path.
func (s *LocalStorage) SaveStream(filename string, r io.Reader) (string, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare storage directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer file.Close() //nolint:errcheck
	if _, err := io.Copy(file, r); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return filename, nil
}

// Put stores an object and returns its public URL.
func (s *LocalStorage) Put(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := s.SaveStream(key, r); err != nil {
		return "", err
	}
	return s.URL(key), nil
}

// Remove deletes an object previously stored with Put.
func (s *LocalStorage) Remove(ctx context.Context, key string) error {
	return s.Delete(key)
}

// URL returns the public URL of key.
func (s *LocalStorage) URL(key string) string {
	key = strings.TrimLeft(filepath.ToSlash(key), "/")
	if s.publicBaseURL == "" {
		return "/" + key
	}
	return s.publicBaseURL + "/" + key
}

// Open returns a read-only handle for the stored file.
func (s *LocalStorage) Open(filename string) (*os.File, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return file, nil
}

// Delete removes a stored file if present.
func (s *LocalStorage) Delete(filename string) error {
	path, err := s.resolve(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// CleanupOlderThan removes files older than the provided TTL and returns deleted names.
func (s *LocalStorage) CleanupOlderThan(ttl time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-ttl)
	deleted := make([]string, 0)
	err := filepath.WalkDir(s.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			rel = path
		}
		deleted = append(deleted, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cleanup storage: %w", err)
	}
	return deleted, nil
}

// Path exposes the resolved path on disk.
func (s *LocalStorage) Path(filename string) string {
	path, err := s.resolve(filename)
	if err != nil {
		return ""
	}
	return path
}

func (s *LocalStorage) resolve(filename string) (string, error) {
	clean := filepath.Clean("/" + filepath.ToSlash(filename))
	if clean == "/" {
		return "", fmt.Errorf("empty filename")
	}
	return filepath.Join(s.baseDir, clean), nil
}
