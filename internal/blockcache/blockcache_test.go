package blockcache_test

import (
	"testing"

	"github.com/chiro2001/ext2fuse/internal/blockcache"
	"github.com/chiro2001/ext2fuse/internal/blockdev"
	"github.com/stretchr/testify/require"
)

const blockSize = 512

func newCached(t *testing.T, capacityBlocks int) (*blockcache.CachedDevice, *blockdev.MemDevice) {
	t.Helper()
	layout := uint32(16 * blockSize)
	inner := blockdev.NewMemDevice(layout, blockSize)
	require.NoError(t, inner.Open(""))
	cached := blockcache.New(inner, layout, blockSize, uint64(capacityBlocks*blockSize))
	require.NoError(t, cached.Open(""))
	return cached, inner
}

func pattern(b byte) []byte {
	buf := make([]byte, blockSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestReadAfterWriteHitsCache(t *testing.T) {
	cached, _ := newCached(t, 4)
	_, err := cached.Seek(0, blockdev.SeekSet)
	require.NoError(t, err)
	_, err = cached.Write(pattern(0x42))
	require.NoError(t, err)

	_, err = cached.Seek(0, blockdev.SeekSet)
	require.NoError(t, err)
	got := make([]byte, blockSize)
	_, err = cached.Read(got)
	require.NoError(t, err)
	require.Equal(t, pattern(0x42), got)
}

func TestWriteNotFlushedToInnerUntilEviction(t *testing.T) {
	cached, inner := newCached(t, 1)
	_, err := cached.Seek(0, blockdev.SeekSet)
	require.NoError(t, err)
	_, err = cached.Write(pattern(0x7A))
	require.NoError(t, err)

	raw := make([]byte, blockSize)
	_, err = inner.Seek(0, blockdev.SeekSet)
	require.NoError(t, err)
	_, err = inner.Read(raw)
	require.NoError(t, err)
	require.NotEqual(t, pattern(0x7A), raw, "dirty block should not reach the wrapped device before eviction/flush")
}

func TestEvictionWritesBackDirtyBlock(t *testing.T) {
	cached, inner := newCached(t, 1)
	_, err := cached.Seek(0, blockdev.SeekSet)
	require.NoError(t, err)
	_, err = cached.Write(pattern(0x11))
	require.NoError(t, err)

	// Second block evicts the first out of a 1-block-capacity cache.
	_, err = cached.Seek(blockSize, blockdev.SeekSet)
	require.NoError(t, err)
	_, err = cached.Write(pattern(0x22))
	require.NoError(t, err)

	raw := make([]byte, blockSize)
	_, err = inner.Seek(0, blockdev.SeekSet)
	require.NoError(t, err)
	_, err = inner.Read(raw)
	require.NoError(t, err)
	require.Equal(t, pattern(0x11), raw)
}

func TestFlushWritesAllDirtyBlocks(t *testing.T) {
	cached, inner := newCached(t, 4)
	_, err := cached.Seek(0, blockdev.SeekSet)
	require.NoError(t, err)
	_, err = cached.Write(pattern(0x55))
	require.NoError(t, err)

	require.NoError(t, cached.Flush())

	raw := make([]byte, blockSize)
	_, err = inner.Seek(0, blockdev.SeekSet)
	require.NoError(t, err)
	_, err = inner.Read(raw)
	require.NoError(t, err)
	require.Equal(t, pattern(0x55), raw)
}

func TestMisalignedSeekThenWritePanics(t *testing.T) {
	cached, _ := newCached(t, 4)
	_, err := cached.Seek(1, blockdev.SeekSet)
	require.NoError(t, err)
	require.Panics(t, func() { cached.Write(pattern(0x33)) })
}

func TestMisalignedSeekThenReadPanics(t *testing.T) {
	cached, _ := newCached(t, 4)
	_, err := cached.Seek(blockSize+1, blockdev.SeekSet)
	require.NoError(t, err)
	got := make([]byte, blockSize)
	require.Panics(t, func() { cached.Read(got) })
}

func TestCloseFlushesDirtyBlocks(t *testing.T) {
	cached, inner := newCached(t, 4)
	_, err := cached.Seek(blockSize, blockdev.SeekSet)
	require.NoError(t, err)
	_, err = cached.Write(pattern(0x99))
	require.NoError(t, err)

	require.NoError(t, cached.Close())

	raw := make([]byte, blockSize)
	_, err = inner.Seek(blockSize, blockdev.SeekSet)
	require.NoError(t, err)
	_, err = inner.Read(raw)
	require.NoError(t, err)
	require.Equal(t, pattern(0x99), raw)
}
