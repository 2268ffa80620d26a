package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// LocalStore writes uploads under one directory as "<id>-<base>_<ts><ext>".
type LocalStore struct {
	dir string
	now func() time.Time
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		dir = "uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir failed: %w", err)
	}
	return &LocalStore{dir: dir, now: time.Now}, nil
}

func (s *LocalStore) Save(ctx context.Context, materialID uint, filename, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%d-%s", materialID, storedName(filename, s.now()))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload %s failed: %w", name, err)
	}
	return path, nil
}

// DeleteAll removes every stored file of the material except the paths in keep.
func (s *LocalStore) DeleteAll(ctx context.Context, materialID uint, keep ...string) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read upload dir failed: %w", err)
	}
	prefix := fmt.Sprintf("%d-", materialID)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(s.dir, e.Name())
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || slices.Contains(keep, path) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove upload %s failed: %w", e.Name(), err)
		}
	}
	return nil
}
