package objstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Dir is a local-filesystem FileStore for development and tests, used when
// no bucket is configured.
type Dir struct {
	root string
}

func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	// Keys may contain slashes; keep them inside the root.
	clean := filepath.Join(d.root, filepath.FromSlash(strings.TrimLeft(key, "/")))
	if err := os.MkdirAll(filepath.Dir(clean), 0o755); err != nil {
		return "", fmt.Errorf("create upload subdir: %w", err)
	}
	if err := os.WriteFile(clean, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return "file://" + clean, nil
}

func (d *Dir) Delete(_ context.Context, key string) error {
	clean := filepath.Join(d.root, filepath.FromSlash(strings.TrimLeft(key, "/")))
	err := os.Remove(clean)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete upload: %w", err)
	}
	return nil
}
