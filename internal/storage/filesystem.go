package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var _ Backend = (*FileStore)(nil)

// FileStore persists artifacts onto the local filesystem. References are the
// cleaned keys relative to the base path.
type FileStore struct {
	basePath string
	urlBase  string
}

// NewFileStore initializes a FileStore rooted at basePath. Public URLs are
// served under urlBase, "/media" when empty.
func NewFileStore(basePath, urlBase string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	urlBase = strings.TrimRight(strings.TrimSpace(urlBase), "/")
	if urlBase == "" {
		urlBase = "/media"
	}
	return &FileStore{basePath: basePath, urlBase: urlBase}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Put writes data to a temporary file next to the target and renames it into
// place, so readers never observe a partial artifact.
func (s *FileStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &WriteError{Key: key, Err: err}
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", &WriteError{Key: key, Err: err}
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &WriteError{Key: cleanKey, Err: fmt.Errorf("ensure directory: %w", err)}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(fullPath)+"-*")
	if err != nil {
		return "", &WriteError{Key: cleanKey, Err: fmt.Errorf("create temp file: %w", err)}
	}
	tmpName := tmp.Name()
	cleanup := func(cause error) (string, error) {
		tmp.Close()
		os.Remove(tmpName)
		return "", &WriteError{Key: cleanKey, Err: cause}
	}
	if _, err := tmp.Write(data); err != nil {
		return cleanup(fmt.Errorf("write file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(fmt.Errorf("sync file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", &WriteError{Key: cleanKey, Err: fmt.Errorf("close file: %w", err)}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return "", &WriteError{Key: cleanKey, Err: fmt.Errorf("chmod file: %w", err)}
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return "", &WriteError{Key: cleanKey, Err: fmt.Errorf("rename file: %w", err)}
	}
	return cleanKey, nil
}

// Get reads the artifact stored under ref.
func (s *FileStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanKey, err := sanitizeKey(ref)
	if err != nil {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, filepath.FromSlash(cleanKey)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	return data, nil
}

// Delete removes the artifact stored under ref.
func (s *FileStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cleanKey, err := sanitizeKey(ref)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.basePath, filepath.FromSlash(cleanKey)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete file: %w", err)
	}
	return nil
}

// PublicURL returns the path the HTTP layer serves ref from.
func (s *FileStore) PublicURL(ref string) string {
	if ref == "" {
		return ""
	}
	return s.urlBase + "/" + strings.TrimLeft(ref, "/")
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(filepath.FromSlash(key)))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
