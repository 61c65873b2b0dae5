package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// PublicPrefix is the URL path uploads are served under.
const PublicPrefix = "/uploads"

// DiskImageStore keeps uploaded images on local disk: incoming files land in
// a temp directory, then move into a per-item directory once the item exists.
type DiskImageStore struct {
	root string
}

func NewDiskImageStore(root string) (*DiskImageStore, error) {
	if err := os.MkdirAll(filepath.Join(root, "temp"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &DiskImageStore{root: root}, nil
}

// Root returns the directory served under PublicPrefix.
func (s *DiskImageStore) Root() string {
	return s.root
}

// SaveTemp writes an uploaded file into the temp directory and returns its
// path on disk.
func (s *DiskImageStore) SaveTemp(filename string, r io.Reader) (string, error) {
	name := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), filepath.Base(filename))
	path := filepath.Join(s.root, "temp", name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	return path, nil
}

// Promote moves temp files into the item's directory and returns their
// public paths.
func (s *DiskImageStore) Promote(itemID string, tempPaths []string) ([]string, error) {
	dir := filepath.Join(s.root, itemID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create item dir: %w", err)
	}

	public := make([]string, 0, len(tempPaths))
	for _, tmp := range tempPaths {
		base := filepath.Base(tmp)
		if err := os.Rename(tmp, filepath.Join(dir, base)); err != nil {
			return nil, fmt.Errorf("failed to move image: %w", err)
		}
		public = append(public, fmt.Sprintf("%s/%s/%s", PublicPrefix, itemID, base))
	}
	return public, nil
}

// Discard removes temp files that will never be promoted.
func (s *DiskImageStore) Discard(tempPaths []string) {
	for _, tmp := range tempPaths {
		_ = os.Remove(tmp)
	}
}
