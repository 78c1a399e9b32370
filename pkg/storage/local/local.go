// Package local stores dataset versions on the local filesystem as
// <root>/<dataset>/v<N>.csv.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/your-org/datasetingest/pkg/storage/versioned"
)

var _ versioned.Backend = (*Backend)(nil)

// Backend implements versioned.Backend on a directory tree.
type Backend struct {
	root string
}

// New returns a Backend rooted at root. The root is resolved to an absolute
// path so returned locations are absolute.
func New(root string) (*Backend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve datasets root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create datasets root: %w", err)
	}
	return &Backend{root: abs}, nil
}

// Root is the absolute storage root.
func (b *Backend) Root() string {
	return b.root
}

func (b *Backend) dir(dataset string) string {
	return filepath.Join(b.root, dataset)
}

// Versions scans the dataset directory for version files.
func (b *Backend) Versions(ctx context.Context, dataset string) ([]int, error) {
	entries, err := os.ReadDir(b.dir(dataset))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dataset directory: %w", err)
	}

	var versions []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if v, ok := versioned.ParseFileName(e.Name()); ok {
			versions = append(versions, v)
		}
	}
	sort.Ints(versions)
	return versions, nil
}

// Write stages data in a temp file, syncs it, links it to its final name
// and syncs the directory. The link fails if the version exists, and a
// failed write leaves no version file behind.
func (b *Backend) Write(ctx context.Context, dataset string, version int, data []byte, metadata map[string]string) (string, error) {
	dir := b.dir(dataset)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dataset directory: %w", err)
	}

	tmp := filepath.Join(dir, ".upload-"+uuid.NewString()+".tmp")
	if err := writeSynced(tmp, data); err != nil {
		os.Remove(tmp)
		return "", err
	}
	defer os.Remove(tmp)

	final := filepath.Join(dir, versioned.FileName(version))
	if err := os.Link(tmp, final); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", versioned.ErrVersionExists
		}
		return "", fmt.Errorf("publish version file: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return "", err
	}
	return final, nil
}

// syncDir flushes the directory entry created by the link.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dataset directory: %w", err)
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return fmt.Errorf("sync dataset directory: %w", err)
	}
	return d.Close()
}

func writeSynced(name string, data []byte) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return nil
}

// Close is a no-op.
func (b *Backend) Close() error {
	return nil
}
