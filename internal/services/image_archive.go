package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	_ ImageArchive = (*FilesystemImageArchive)(nil)
)

// ImageArchive persists rendered invite images.
type ImageArchive interface {
	// Store writes the PNG for an invite and returns the path recorded on the invite.
	Store(ctx context.Context, code string, createdAt time.Time, png []byte) (string, error)
	// Delete removes the object at path. Missing objects are not an error.
	Delete(ctx context.Context, path string) error
}

// FilesystemImageArchive persists images on the local filesystem.
type FilesystemImageArchive struct {
	root string
}

// NewFilesystemImageArchive initialises a filesystem-backed archive rooted at dir.
func NewFilesystemImageArchive(dir string) (*FilesystemImageArchive, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("image archive: root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("image archive: ensure root directory: %w", err)
	}
	return &FilesystemImageArchive{root: dir}, nil
}

// Store writes the image under year/month directories.
func (a *FilesystemImageArchive) Store(_ context.Context, code string, createdAt time.Time, png []byte) (string, error) {
	if a == nil {
		return "", errors.New("image archive: archive not initialised")
	}
	name := sanitizePathFragment(code)
	if name == "" {
		return "", errors.New("image archive: invite code is required")
	}
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	key := archiveKey(name, createdAt)
	fullPath := filepath.Join(a.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("image archive: mkdir: %w", err)
	}
	if err := os.WriteFile(fullPath, png, 0o644); err != nil {
		return "", fmt.Errorf("image archive: write file: %w", err)
	}
	return a.relative(fullPath), nil
}

// Delete removes the stored image.
func (a *FilesystemImageArchive) Delete(_ context.Context, path string) error {
	if a == nil {
		return errors.New("image archive: archive not initialised")
	}
	if err := os.Remove(a.absolute(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("image archive: delete file: %w", err)
	}
	return nil
}

func (a *FilesystemImageArchive) absolute(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.root, filepath.FromSlash(path))
}

func (a *FilesystemImageArchive) relative(fullPath string) string {
	rel, err := filepath.Rel(a.root, fullPath)
	if err != nil {
		return fullPath
	}
	return filepath.ToSlash(rel)
}

func archiveKey(name string, createdAt time.Time) string {
	createdAt = createdAt.UTC()
	return fmt.Sprintf("%04d/%02d/qrcode_%s.png", createdAt.Year(), int(createdAt.Month()), name)
}
