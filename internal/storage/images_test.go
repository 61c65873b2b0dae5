package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskImageStore(t *testing.T) {
	root := t.TempDir()
	store, err := NewDiskImageStore(root)
	require.NoError(t, err)

	tempPath, err := store.SaveTemp("front.jpg", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)
	assert.FileExists(t, tempPath)
	assert.True(t, strings.HasSuffix(tempPath, "-front.jpg"))

	public, err := store.Promote("item-123", []string{tempPath})
	require.NoError(t, err)
	require.Len(t, public, 1)

	// Public path maps onto the file's new location under the root.
	assert.True(t, strings.HasPrefix(public[0], PublicPrefix+"/item-123/"))
	onDisk := filepath.Join(root, strings.TrimPrefix(public[0], PublicPrefix+"/"))
	content, err := os.ReadFile(onDisk)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(content))

	// The temp copy is gone.
	assert.NoFileExists(t, tempPath)
}

func TestDiskImageStore_Discard(t *testing.T) {
	store, err := NewDiskImageStore(t.TempDir())
	require.NoError(t, err)

	tempPath, err := store.SaveTemp("orphan.jpg", strings.NewReader("bytes"))
	require.NoError(t, err)

	store.Discard([]string{tempPath})
	assert.NoFileExists(t, tempPath)
}

func TestDiskImageStore_StripsDirectoryComponents(t *testing.T) {
	root := t.TempDir()
	store, err := NewDiskImageStore(root)
	require.NoError(t, err)

	tempPath, err := store.SaveTemp("../../etc/passwd", strings.NewReader("bytes"))
	require.NoError(t, err)

	// The file lands inside the temp dir regardless of the submitted name.
	assert.Equal(t, filepath.Join(root, "temp"), filepath.Dir(tempPath))
}
