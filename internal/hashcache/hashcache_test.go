package hashcache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpan-cli/xpan/internal/xpantypes"
)

func openTest(t *testing.T) *Cache {
	t.Helper()
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "hashcache.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleDigest() xpantypes.FileDigest {
	var d xpantypes.FileDigest
	d.MD5[0] = 0xab
	d.SliceMD5[0] = 0xcd
	d.CRC32 = 12345
	d.Size = 4096
	return d
}

func TestCache_MissWhenAbsent(t *testing.T) {
	c := openTest(t)
	_, ok := c.Lookup("/a/b.txt", 100, 4096)
	assert.False(t, ok)
}

func TestCache_StoreThenLookup(t *testing.T) {
	c := openTest(t)
	d := sampleDigest()

	require.NoError(t, c.Store("/a/b.txt", 100, 4096, d))

	got, ok := c.Lookup("/a/b.txt", 100, 4096)
	require.True(t, ok)
	assert.Equal(t, d, got)
}

func TestCache_MismatchInvalidatesEntry(t *testing.T) {
	c := openTest(t)
	d := sampleDigest()
	require.NoError(t, c.Store("/a/b.txt", 100, 4096, d))

	_, ok := c.Lookup("/a/b.txt", 200, 4096)
	assert.False(t, ok, "mtime changed, must miss")

	_, ok = c.Lookup("/a/b.txt", 100, 9999)
	assert.False(t, ok, "size changed, must miss")
}

func TestCache_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hashcache.db")

	c1, err := Open(path, 0)
	require.NoError(t, err)
	d := sampleDigest()
	require.NoError(t, c1.Store("/a/b.txt", 100, 4096, d))
	require.NoError(t, c1.Flush())
	require.NoError(t, c1.Close())

	c2, err := Open(path, 0)
	require.NoError(t, err)
	defer c2.Close()

	got, ok := c2.Lookup("/a/b.txt", 100, 4096)
	require.True(t, ok)
	assert.Equal(t, d, got)
}

func TestCache_OverwriteReplacesEntry(t *testing.T) {
	c := openTest(t)
	d1 := sampleDigest()
	d2 := sampleDigest()
	d2.CRC32 = 99999

	require.NoError(t, c.Store("/a/b.txt", 100, 4096, d1))
	require.NoError(t, c.Store("/a/b.txt", 200, 8192, d2))

	got, ok := c.Lookup("/a/b.txt", 200, 8192)
	require.True(t, ok)
	assert.Equal(t, d2, got)

	_, ok = c.Lookup("/a/b.txt", 100, 4096)
	assert.False(t, ok, "stale key must no longer match")
}
