package seen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultCacheFile is the JSON cache used when no path is configured.
const DefaultCacheFile = "retweeted_cache.json"

// FileBackend stores the set as a JSON array of id strings.
type FileBackend struct {
	Path string
}

// NewFileBackend returns a backend for path (DefaultCacheFile when empty).
func NewFileBackend(path string) *FileBackend {
	if path == "" {
		path = DefaultCacheFile
	}
	return &FileBackend{Path: path}
}

// Load reads the file. A missing file is an empty set; a malformed one is an error.
func (b *FileBackend) Load(_ context.Context) ([]string, error) {
	data, err := os.ReadFile(b.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.Path, err)
	}
	return ids, nil
}

// Save rewrites the whole file through a temp file and rename.
func (b *FileBackend) Save(_ context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(b.Path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, b.Path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Close is a no-op.
func (b *FileBackend) Close() error { return nil }
