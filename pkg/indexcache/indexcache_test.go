package indexcache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestSaveLoad(t *testing.T) {
	cache := newTestCache(t)

	id := FileID{Path: "/media/a.ogg", Size: 4096, ModTime: 1700000000}
	entries := []Entry{
		{TimeUs: 0, Offset: 58},
		{TimeUs: 10000, Offset: 512},
		{TimeUs: 20000, Offset: 1024},
	}

	require.NoError(t, cache.Save(id, entries))

	got, err := cache.Load(id)
	require.NoError(t, err)
	require.Equal(t, entries, got)
}

func TestLoadMiss(t *testing.T) {
	cache := newTestCache(t)

	got, err := cache.Load(FileID{Path: "/nope", Size: 1, ModTime: 1})
	require.NoError(t, err)
	require.Nil(t, got)
}

// A new mtime is a different identity; the stale table must not serve.
func TestModTimeChangesIdentity(t *testing.T) {
	cache := newTestCache(t)

	id := FileID{Path: "/media/a.ogg", Size: 4096, ModTime: 1700000000}
	require.NoError(t, cache.Save(id, []Entry{{TimeUs: 0, Offset: 58}}))

	changed := id
	changed.ModTime = 1700009999
	got, err := cache.Load(changed)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDelete(t *testing.T) {
	cache := newTestCache(t)

	id := FileID{Path: "/media/a.ogg", Size: 4096, ModTime: 1}
	require.NoError(t, cache.Save(id, []Entry{{TimeUs: 0, Offset: 1}}))
	require.NoError(t, cache.Delete(id))

	got, err := cache.Load(id)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestPruneKeepsRecentlyUsed(t *testing.T) {
	cache := newTestCache(t)

	ids := make([]FileID, 3)
	for i := range ids {
		ids[i] = FileID{Path: "/media/file", Size: int64(i), ModTime: 1}
		require.NoError(t, cache.Save(ids[i], []Entry{{TimeUs: 0, Offset: int64(i)}}))
	}

	// Touch the oldest so the middle one becomes eviction candidate.
	_, err := cache.Load(ids[0])
	require.NoError(t, err)

	require.NoError(t, cache.Prune(2))

	got, err := cache.Load(ids[0])
	require.NoError(t, err)
	require.NotNil(t, got)

	got, err = cache.Load(ids[1])
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = cache.Load(ids[2])
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestSaveReplaces(t *testing.T) {
	cache := newTestCache(t)

	id := FileID{Path: "/x", Size: 10, ModTime: 5}
	require.NoError(t, cache.Save(id, []Entry{{TimeUs: 0, Offset: 1}, {TimeUs: 1, Offset: 2}}))
	require.NoError(t, cache.Save(id, []Entry{{TimeUs: 9, Offset: 9}}))

	got, err := cache.Load(id)
	require.NoError(t, err)
	require.Equal(t, []Entry{{TimeUs: 9, Offset: 9}}, got)
}
