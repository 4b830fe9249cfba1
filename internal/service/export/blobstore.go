package export

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// BlobStore persists bundles. Put returns a location that Get accepts.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, location string) ([]byte, error)
}

// FSStore keeps bundles under a root directory of an afero filesystem.
type FSStore struct {
	fs   afero.Fs
	root string
}

// NewFSStore creates a filesystem store rooted at root.
func NewFSStore(fsys afero.Fs, root string) *FSStore {
	return &FSStore{fs: fsys, root: filepath.Clean(root)}
}

// Put writes to a temporary file and renames it so readers never observe a
// partial bundle.
func (s *FSStore) Put(_ context.Context, key string, data []byte) (string, error) {
	dst, err := s.resolve(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		return "", err
	}
	if err := s.fs.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", fmt.Errorf("create bundle dir: %w", err)
	}
	tmp := dst + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o640); err != nil {
		return "", fmt.Errorf("write bundle: %w", err)
	}
	if err := s.fs.Rename(tmp, dst); err != nil {
		_ = s.fs.Remove(tmp)
		return "", fmt.Errorf("commit bundle: %w", err)
	}
	return dst, nil
}

func (s *FSStore) Get(_ context.Context, location string) ([]byte, error) {
	p, err := s.resolve(location)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	return data, nil
}

// resolve rejects locations outside the store root.
func (s *FSStore) resolve(p string) (string, error) {
	p = filepath.Clean(p)
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("location %q is outside the export root", p)
	}
	return p, nil
}

// splitURI parses "<scheme>://<bucket>/<key>".
func splitURI(scheme, uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("location %q is not a %s:// URI", uri, scheme)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("location %q must name a bucket and a key", uri)
	}
	return bucket, key, nil
}
