package fuseadapter_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/require"

	"github.com/chiro2001/ext2fuse/cfg"
	"github.com/chiro2001/ext2fuse/internal/clock"
	"github.com/chiro2001/ext2fuse/internal/ext2/fs"
	"github.com/chiro2001/ext2fuse/internal/fuseadapter"
)

func writeLayoutFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "layout.txt")
	text := "BSIZE = 1024 B\n| boot(1) | super(1) | groupdesc(1) | data map(1) | inode map(1) | inode table(128) | data(*) |\n"
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func mountFresh(t *testing.T) *fuseadapter.FileSystem {
	t.Helper()
	c := cfg.Default()
	c.InMemory = true
	c.DiskSize = 4 << 20
	c.IOUnit = 512
	c.BlockSize = 1024
	c.InodeCount = 1024
	c.CacheEnable = false
	c.LayoutFile = writeLayoutFile(t)

	dev, err := fs.OpenDevice(c)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Unix(1700000000, 0))
	vol, err := fs.Mount(dev, c, clk)
	require.NoError(t, err)
	return fuseadapter.New(vol)
}

func TestLookUpInodeRemapsRoot(t *testing.T) {
	fsys := mountFresh(t)
	ctx := context.Background()

	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "."}
	require.NoError(t, fsys.LookUpInode(ctx, op))
	require.EqualValues(t, fuseops.RootInodeID, op.Entry.Child)
	require.True(t, op.Entry.Attributes.Mode.IsDir())
}

func TestLookUpInodeMissingReturnsENOENT(t *testing.T) {
	fsys := mountFresh(t)
	ctx := context.Background()

	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "nope"}
	err := fsys.LookUpInode(ctx, op)
	require.Error(t, err)
}

func TestMkDirCreateFileWriteReadRoundTrip(t *testing.T) {
	fsys := mountFresh(t)
	ctx := context.Background()

	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "sub", Mode: os.ModeDir | 0755}
	require.NoError(t, fsys.MkDir(ctx, mk))
	require.True(t, mk.Entry.Attributes.Mode.IsDir())

	cf := &fuseops.CreateFileOp{Parent: mk.Entry.Child, Name: "f.txt", Mode: 0644}
	require.NoError(t, fsys.CreateFile(ctx, cf))
	require.NotZero(t, cf.Handle)

	payload := []byte("hello, ext2fuse")
	wr := &fuseops.WriteFileOp{Inode: cf.Entry.Child, Handle: cf.Handle, Data: payload, Offset: 0}
	require.NoError(t, fsys.WriteFile(ctx, wr))

	buf := make([]byte, len(payload))
	rd := &fuseops.ReadFileOp{Inode: cf.Entry.Child, Handle: cf.Handle, Dst: buf, Offset: 0}
	require.NoError(t, fsys.ReadFile(ctx, rd))
	require.Equal(t, len(payload), rd.BytesRead)
	require.Equal(t, payload, buf)
}

func TestOpenDirReadDirListsDotEntries(t *testing.T) {
	fsys := mountFresh(t)
	ctx := context.Background()

	od := &fuseops.OpenDirOp{Inode: fuseops.RootInodeID}
	require.NoError(t, fsys.OpenDir(ctx, od))
	require.NotZero(t, od.Handle)

	dst := make([]byte, 4096)
	rd := &fuseops.ReadDirOp{Inode: fuseops.RootInodeID, Handle: od.Handle, Dst: dst, Offset: 0}
	require.NoError(t, fsys.ReadDir(ctx, rd))
	require.Greater(t, rd.BytesRead, 0)

	// A full listing of a fresh root (just "." and "..") fits in one call;
	// asking again past the end must report no further bytes.
	rd2 := &fuseops.ReadDirOp{Inode: fuseops.RootInodeID, Handle: od.Handle, Dst: dst, Offset: 2}
	require.NoError(t, fsys.ReadDir(ctx, rd2))
	require.Zero(t, rd2.BytesRead)

	require.NoError(t, fsys.ReleaseDirHandle(ctx, &fuseops.ReleaseDirHandleOp{Handle: od.Handle}))
}

func TestRmDirRejectsNonEmptyDirectory(t *testing.T) {
	fsys := mountFresh(t)
	ctx := context.Background()

	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "occupied", Mode: os.ModeDir | 0755}
	require.NoError(t, fsys.MkDir(ctx, mk))

	cf := &fuseops.CreateFileOp{Parent: mk.Entry.Child, Name: "f", Mode: 0644}
	require.NoError(t, fsys.CreateFile(ctx, cf))

	err := fsys.RmDir(ctx, &fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "occupied"})
	require.Error(t, err)
}

func TestSetInodeAttributesPreservesFileType(t *testing.T) {
	fsys := mountFresh(t)
	ctx := context.Background()

	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "d", Mode: os.ModeDir | 0755}
	require.NoError(t, fsys.MkDir(ctx, mk))

	mode := os.FileMode(0700)
	set := &fuseops.SetInodeAttributesOp{Inode: mk.Entry.Child, Mode: &mode}
	require.NoError(t, fsys.SetInodeAttributes(ctx, set))
	require.True(t, set.Attributes.Mode.IsDir())
	require.Equal(t, os.FileMode(0700), set.Attributes.Mode.Perm())
}

func TestStatFSReportsFreeCounts(t *testing.T) {
	fsys := mountFresh(t)
	ctx := context.Background()

	op := &fuseops.StatFSOp{}
	require.NoError(t, fsys.StatFS(ctx, op))
	require.Greater(t, op.BlocksFree, uint64(0))
	require.Greater(t, op.InodesFree, uint64(0))
}

func TestReadSymlinkRoundTrip(t *testing.T) {
	fsys := mountFresh(t)
	ctx := context.Background()

	cs := &fuseops.CreateSymlinkOp{Parent: fuseops.RootInodeID, Name: "link", Target: "/usr/bin/env"}
	require.NoError(t, fsys.CreateSymlink(ctx, cs))

	rl := &fuseops.ReadSymlinkOp{Inode: cs.Entry.Child}
	require.NoError(t, fsys.ReadSymlink(ctx, rl))
	require.Equal(t, "/usr/bin/env", rl.Target)
}
