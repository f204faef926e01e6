package fs_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chiro2001/ext2fuse/cfg"
	"github.com/chiro2001/ext2fuse/internal/clock"
	"github.com/chiro2001/ext2fuse/internal/ext2/fs"
	"github.com/chiro2001/ext2fuse/internal/ext2/layout"
	"github.com/stretchr/testify/require"
)

// writeLayoutFile lays down the declarative layout text for a 4MiB,
// 1024-byte-block volume: one reserved boot block so the superblock lands
// at block 1 (per SPEC_FULL.md §6's "block size 1024 ⇒ superblock at
// block 1" rule), single-block inode/data bitmaps, and a 128-block inode
// table sized for 1024 inodes.
func writeLayoutFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "layout.txt")
	text := "BSIZE = 1024 B\n| boot(1) | super(1) | groupdesc(1) | data map(1) | inode map(1) | inode table(128) | data(*) |\n"
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func testConfig(t *testing.T) cfg.Config {
	c := cfg.Default()
	c.InMemory = true
	c.DiskSize = 4 << 20
	c.IOUnit = 512
	c.BlockSize = 1024
	c.InodeCount = 1024
	c.CacheEnable = false
	c.LayoutFile = writeLayoutFile(t)
	return c
}

func mountFresh(t *testing.T) *fs.Volume {
	t.Helper()
	c := testConfig(t)
	dev, err := fs.OpenDevice(c)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Unix(1700000000, 0))
	vol, err := fs.Mount(dev, c, clk)
	require.NoError(t, err)
	return vol
}

func TestFreshFormatAndRootListing(t *testing.T) {
	vol := mountFresh(t)

	entries, err := vol.ReadDir(layout.RootIno)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	require.True(t, names["."])
	require.True(t, names[".."])

	root, err := vol.GetAttr(layout.RootIno)
	require.NoError(t, err)
	require.Equal(t, uint16(fs.ModeDir|0755), root.Mode)

	st := vol.Stat()
	require.Greater(t, st.BlocksFree, uint32(0))
	require.Greater(t, st.InodesFree, uint32(0))
}

func TestCreateRegularFileAndRoundTrip3KiB(t *testing.T) {
	vol := mountFresh(t)

	ino, _, err := vol.MkNod(layout.RootIno, "foo.txt", fs.ModeRegular|0644)
	require.NoError(t, err)

	payload := make([]byte, 3*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	n, err := vol.WriteAt(ino, payload, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	readBack := make([]byte, len(payload))
	n, err = vol.ReadAt(ino, readBack, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, readBack)

	attr, err := vol.GetAttr(ino)
	require.NoError(t, err)
	require.Equal(t, uint32(len(payload)), attr.Size)

	found, attr2, err := vol.Lookup(layout.RootIno, "foo.txt")
	require.NoError(t, err)
	require.Equal(t, ino, found)
	require.Equal(t, attr.Size, attr2.Size)
}

func TestSparseHoleReadsZero(t *testing.T) {
	vol := mountFresh(t)

	ino, _, err := vol.MkNod(layout.RootIno, "sparse.bin", fs.ModeRegular|0644)
	require.NoError(t, err)

	tail := []byte("end-of-file-marker")
	_, err = vol.WriteAt(ino, tail, 3*1024)
	require.NoError(t, err)

	hole := make([]byte, 1024)
	n, err := vol.ReadAt(ino, hole, 0)
	require.NoError(t, err)
	require.Equal(t, len(hole), n)
	for _, b := range hole {
		require.Zero(t, b)
	}

	back := make([]byte, len(tail))
	_, err = vol.ReadAt(ino, back, 3*1024)
	require.NoError(t, err)
	require.Equal(t, tail, back)
}

func TestCrossThresholdGrowth(t *testing.T) {
	vol := mountFresh(t)
	ino, _, err := vol.MkNod(layout.RootIno, "big.bin", fs.ModeRegular|0644)
	require.NoError(t, err)

	const blockSize = 1024
	// T0 = 12: the last direct block, then the first single-indirect one.
	_, err = vol.WriteAt(ino, []byte("direct-tail"), 11*blockSize)
	require.NoError(t, err)
	_, err = vol.WriteAt(ino, []byte("single-indirect-head"), 12*blockSize)
	require.NoError(t, err)

	attr, err := vol.GetAttr(ino)
	require.NoError(t, err)
	require.NotZero(t, attr.Block[11])
	require.NotZero(t, attr.Block[layout.IndBlock])

	buf := make([]byte, len("single-indirect-head"))
	_, err = vol.ReadAt(ino, buf, 12*blockSize)
	require.NoError(t, err)
	require.Equal(t, "single-indirect-head", string(buf))

	// T1 = 268: crossing from single- to double-indirect addressing.
	_, err = vol.WriteAt(ino, []byte("double-indirect-head"), 268*blockSize)
	require.NoError(t, err)
	attr, err = vol.GetAttr(ino)
	require.NoError(t, err)
	require.NotZero(t, attr.Block[layout.DIndBlock])

	buf2 := make([]byte, len("double-indirect-head"))
	_, err = vol.ReadAt(ino, buf2, 268*blockSize)
	require.NoError(t, err)
	require.Equal(t, "double-indirect-head", string(buf2))
}

func TestRenameAcrossDirectories(t *testing.T) {
	vol := mountFresh(t)

	dirA, _, err := vol.MkDir(layout.RootIno, "a", 0755)
	require.NoError(t, err)
	dirB, _, err := vol.MkDir(layout.RootIno, "b", 0755)
	require.NoError(t, err)

	file, _, err := vol.MkNod(dirA, "note.txt", fs.ModeRegular|0644)
	require.NoError(t, err)

	require.NoError(t, vol.Rename(dirA, "note.txt", dirB, "renamed.txt"))

	_, _, err = vol.Lookup(dirA, "note.txt")
	require.Error(t, err)

	found, _, err := vol.Lookup(dirB, "renamed.txt")
	require.NoError(t, err)
	require.Equal(t, file, found)
}

func TestSymlinkInlineStorage(t *testing.T) {
	vol := mountFresh(t)

	ino, _, err := vol.Symlink(layout.RootIno, "link", "/usr/bin/target")
	require.NoError(t, err)

	target, err := vol.ReadSymlink(ino)
	require.NoError(t, err)
	require.Equal(t, "/usr/bin/target", target)

	attr, err := vol.GetAttr(ino)
	require.NoError(t, err)
	require.Equal(t, uint32(len("/usr/bin/target")), attr.Size)
}

func TestUnlinkRestoresFreeCounts(t *testing.T) {
	vol := mountFresh(t)
	before := vol.Stat()

	ino, _, err := vol.MkNod(layout.RootIno, "throwaway.bin", fs.ModeRegular|0644)
	require.NoError(t, err)
	_, err = vol.WriteAt(ino, []byte("hello"), 0)
	require.NoError(t, err)

	require.NoError(t, vol.Unlink(layout.RootIno, "throwaway.bin"))

	after := vol.Stat()
	require.Equal(t, before.InodesFree, after.InodesFree)
	require.Equal(t, before.BlocksFree, after.BlocksFree)
}

func TestRmdirRejectsNonEmptyDirectory(t *testing.T) {
	vol := mountFresh(t)
	dir, _, err := vol.MkDir(layout.RootIno, "occupied", 0755)
	require.NoError(t, err)
	_, _, err = vol.MkNod(dir, "file", fs.ModeRegular|0644)
	require.NoError(t, err)

	err = vol.Rmdir(layout.RootIno, "occupied")
	require.Error(t, err)
}
