package fs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonhull/bfio/internal/store"
	"github.com/simonhull/bfio/internal/store/fs"
	"github.com/simonhull/bfio/internal/store/storetest"
)

func TestFSStore(t *testing.T) {
	suite := &storetest.Suite{
		NewStore: func(t *testing.T) store.Store { return fs.New(filepath.Join(t.TempDir(), "img.zarr")) },
	}
	suite.Run(t)
}

func TestFSStore_Layout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "img.zarr")
	st := fs.New(root)

	require.NoError(t, st.Set(context.Background(), "0/c/0/0", []byte("chunk")))

	data, err := os.ReadFile(filepath.Join(root, "0", "c", "0", "0"))
	require.NoError(t, err, "keys map onto nested files")
	assert.Equal(t, "chunk", string(data))

	entries, err := os.ReadDir(filepath.Join(root, "0", "c", "0"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestFSStore_ListMissingRoot(t *testing.T) {
	st := fs.New(filepath.Join(t.TempDir(), "absent"))
	keys, err := st.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
