package alloc_test

import (
	"testing"

	"github.com/chiro2001/ext2fuse/internal/blockdev"
	"github.com/chiro2001/ext2fuse/internal/ext2/alloc"
	"github.com/stretchr/testify/require"
)

func newBitmap(t *testing.T, reserved int) (*alloc.Bitmap, blockdev.Device) {
	t.Helper()
	dev := blockdev.NewMemDevice(4096, 512)
	require.NoError(t, dev.Open(""))
	bm, err := alloc.Load(dev, 0, 512, reserved)
	require.NoError(t, err)
	return bm, dev
}

func TestAllocateSkipsReserved(t *testing.T) {
	bm, _ := newBitmap(t, 11)
	n, err := bm.Allocate()
	require.NoError(t, err)
	require.EqualValues(t, 12, n)
}

func TestAllocateIsLowestFirst(t *testing.T) {
	bm, _ := newBitmap(t, 0)
	first, err := bm.Allocate()
	require.NoError(t, err)
	require.EqualValues(t, 1, first)

	second, err := bm.Allocate()
	require.NoError(t, err)
	require.EqualValues(t, 2, second)
}

func TestFreeThenReallocate(t *testing.T) {
	bm, _ := newBitmap(t, 0)
	a, err := bm.Allocate()
	require.NoError(t, err)
	b, err := bm.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	require.NoError(t, bm.Free(a))
	require.False(t, bm.InUse(a))

	c, err := bm.Allocate()
	require.NoError(t, err)
	require.Equal(t, a, c, "freed slot should be reused before higher numbers")
}

func TestAllocatePersistsAcrossReload(t *testing.T) {
	bm, dev := newBitmap(t, 0)
	n, err := bm.Allocate()
	require.NoError(t, err)

	reloaded, err := alloc.Load(dev, 0, 512, 0)
	require.NoError(t, err)
	require.True(t, reloaded.InUse(n))
}

func TestExhaustion(t *testing.T) {
	dev := blockdev.NewMemDevice(512, 1)
	require.NoError(t, dev.Open(""))
	bm, err := alloc.Load(dev, 0, 1, 0) // 8 objects total
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		_, err := bm.Allocate()
		require.NoError(t, err)
	}
	_, err = bm.Allocate()
	require.ErrorIs(t, err, alloc.ErrExhausted)
}

func TestFreeCountAccountsForReserved(t *testing.T) {
	bm, _ := newBitmap(t, 11)
	require.EqualValues(t, 512*8-11, bm.FreeCount())
	_, err := bm.Allocate()
	require.NoError(t, err)
	require.EqualValues(t, 512*8-12, bm.FreeCount())
}

func TestFreeOfReservedIsNoop(t *testing.T) {
	bm, _ := newBitmap(t, 11)
	require.NoError(t, bm.Free(5))
	require.False(t, bm.InUse(5))
}
