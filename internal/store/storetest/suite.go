// Package storetest is a conformance suite for store.Store implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonhull/bfio/internal/store"
)

// Suite tests the store contract, not implementation details.
//
// Usage:
//
//	func TestStore(t *testing.T) {
//	    suite := &storetest.Suite{
//	        NewStore: func(t *testing.T) store.Store { return memory.New() },
//	    }
//	    suite.Run(t)
//	}
type Suite struct {
	// NewStore returns a fresh, empty store for each subtest.
	NewStore func(t *testing.T) store.Store
}

// Run executes all tests in the suite.
func (s *Suite) Run(t *testing.T) {
	t.Run("GetMissing", s.testGetMissing)
	t.Run("SetGet", s.testSetGet)
	t.Run("Overwrite", s.testOverwrite)
	t.Run("Delete", s.testDelete)
	t.Run("List", s.testList)
	t.Run("InvalidKey", s.testInvalidKey)
	t.Run("Concurrent", s.testConcurrent)
	t.Run("Cancelled", s.testCancelled)
}

func (s *Suite) open(t *testing.T) store.Store {
	t.Helper()
	st := s.NewStore(t)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustSet(t *testing.T, st store.Store, key string, value []byte) {
	t.Helper()
	require.NoError(t, st.Set(context.Background(), key, value), "Set(%s) should succeed", key)
}

func mustGet(t *testing.T, st store.Store, key string) []byte {
	t.Helper()
	v, err := st.Get(context.Background(), key)
	require.NoError(t, err, "Get(%s) should succeed", key)
	return v
}

func (s *Suite) testGetMissing(t *testing.T) {
	st := s.open(t)
	_, err := st.Get(context.Background(), "0/.zarray")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound), "expected ErrNotFound, got %v", err)

	ok, err := store.Exists(context.Background(), st, "0/.zarray")
	require.NoError(t, err)
	assert.False(t, ok)
}

func (s *Suite) testSetGet(t *testing.T) {
	st := s.open(t)
	value := []byte{0x00, 0x01, 0xfe, 0xff}
	mustSet(t, st, "0/c/0/0/0/1/2", value)

	got := mustGet(t, st, "0/c/0/0/0/1/2")
	assert.Equal(t, value, got)

	value[0] = 0x42
	assert.Equal(t, byte(0x00), mustGet(t, st, "0/c/0/0/0/1/2")[0], "store must not alias caller buffers")
}

func (s *Suite) testOverwrite(t *testing.T) {
	st := s.open(t)
	mustSet(t, st, "zarr.json", []byte(`{"zarr_format":3}`))
	mustSet(t, st, "zarr.json", []byte(`{"zarr_format":3,"node_type":"group"}`))
	assert.Equal(t, `{"zarr_format":3,"node_type":"group"}`, string(mustGet(t, st, "zarr.json")))
}

func (s *Suite) testDelete(t *testing.T) {
	st := s.open(t)
	ctx := context.Background()
	mustSet(t, st, "0/0/0", []byte("chunk"))

	require.NoError(t, st.Delete(ctx, "0/0/0"))
	_, err := st.Get(ctx, "0/0/0")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, st.Delete(ctx, "0/0/0"), "deleting a missing key is not an error")
}

func (s *Suite) testList(t *testing.T) {
	st := s.open(t)
	for _, k := range []string{".zgroup", ".zattrs", "0/.zarray", "0/0/0/0/0/0", "0/0/0/0/0/1", "OME/METADATA.ome.xml"} {
		mustSet(t, st, k, []byte(k))
	}

	all, err := st.List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{".zattrs", ".zgroup", "0/.zarray", "0/0/0/0/0/0", "0/0/0/0/0/1", "OME/METADATA.ome.xml"}, all)

	arr, err := st.List(context.Background(), "0/")
	require.NoError(t, err)
	assert.Len(t, arr, 3)

	none, err := st.List(context.Background(), "missing/")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func (s *Suite) testInvalidKey(t *testing.T) {
	st := s.open(t)
	for _, k := range []string{"", "/abs", "../escape", "a//b", "a/./b"} {
		assert.Error(t, st.Set(context.Background(), k, []byte("x")), "Set(%q) should fail", k)
	}
}

func (s *Suite) testConcurrent(t *testing.T) {
	st := s.open(t)
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("0/0/%d", i)
			assert.NoError(t, st.Set(context.Background(), key, []byte{byte(i)}))
			v, err := st.Get(context.Background(), key)
			assert.NoError(t, err)
			assert.Equal(t, []byte{byte(i)}, v)
		}(i)
	}
	wg.Wait()

	keys, err := st.List(context.Background(), "0/0/")
	require.NoError(t, err)
	assert.Len(t, keys, 16)
}

func (s *Suite) testCancelled(t *testing.T) {
	st := s.open(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, st.Set(ctx, "k", []byte("v")), context.Canceled)
	_, err := st.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
