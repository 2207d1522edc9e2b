package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects as files under a root directory
type LocalStore struct {
	root string
}

// NewLocalStore creates a store rooted at dir
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStore{root: dir}, nil
}

func (s *LocalStore) path(objectName string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(objectName))
	if !strings.HasPrefix(p, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid object name %q", objectName)
	}
	return p, nil
}

func (s *LocalStore) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	p, err := s.path(objectName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("failed to create object: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, reader); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

func (s *LocalStore) UploadFile(ctx context.Context, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return s.Upload(ctx, objectName, f, -1, ContentType(filePath))
}

func (s *LocalStore) DownloadFile(ctx context.Context, objectName, filePath string) error {
	p, err := s.path(objectName)
	if err != nil {
		return err
	}
	src, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	return nil
}

func (s *LocalStore) Delete(ctx context.Context, objectName string) error {
	p, err := s.path(objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Exists reports whether an object is present
func (s *LocalStore) Exists(objectName string) bool {
	p, err := s.path(objectName)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}
