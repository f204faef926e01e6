package layout_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/chiro2001/ext2fuse/internal/clock"
	"github.com/chiro2001/ext2fuse/internal/ext2/layout"
	"github.com/stretchr/testify/require"
)

func fixedClock() clock.Clock {
	return clock.NewFakeClock(time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC))
}

func TestSuperBlockRoundTrip(t *testing.T) {
	sb := layout.NewSuperBlock(fixedClock(), 1024, 4096, 1, 0)
	require.True(t, sb.MagicMatched())
	require.Equal(t, uint32(1024), sb.BlockSize())

	var buf bytes.Buffer
	require.NoError(t, layout.WriteSuperBlock(&buf, sb))
	require.Equal(t, layout.SuperBlockSize, buf.Len())

	got, err := layout.ReadSuperBlock(&buf)
	require.NoError(t, err)
	require.Equal(t, sb, got)
}

func TestLogBlockSizeFor(t *testing.T) {
	require.EqualValues(t, 0, layout.LogBlockSizeFor(1024))
	require.EqualValues(t, 1, layout.LogBlockSizeFor(2048))
	require.EqualValues(t, 2, layout.LogBlockSizeFor(4096))
	require.Panics(t, func() { layout.LogBlockSizeFor(777) })
}

func TestInodeRoundTrip(t *testing.T) {
	in := layout.DefaultInode(fixedClock())
	in.Mode = 0o40755
	in.Block[0] = 42

	var buf bytes.Buffer
	require.NoError(t, layout.WriteInode(&buf, in))
	require.Equal(t, layout.InodeSize, buf.Len())

	got, err := layout.ReadInode(&buf)
	require.NoError(t, err)
	require.Equal(t, in, got)
	require.EqualValues(t, 0x4, got.FileModeKind())
	require.EqualValues(t, 0o755, got.Perm())
}

func TestGroupDescriptorRoundTrip(t *testing.T) {
	gd := layout.DefaultGroupDescriptor()
	var buf bytes.Buffer
	require.NoError(t, layout.WriteGroupDescriptor(&buf, gd))
	require.Equal(t, layout.GroupDescriptorSize, buf.Len())

	got, err := layout.ReadGroupDescriptor(&buf)
	require.NoError(t, err)
	require.Equal(t, gd, got)
}

func TestDirEntryEncodeDecode(t *testing.T) {
	e := layout.NewDirEntry("hello.txt", 12, layout.FtRegFile)
	buf := make([]byte, e.RecLen)
	layout.EncodeDirEntry(buf, e)

	got := layout.DecodeDirEntry(buf)
	require.Equal(t, e.Inode, got.Inode)
	require.Equal(t, e.RecLen, got.RecLen)
	require.Equal(t, e.NameLen, got.NameLen)
	require.Equal(t, e.FileType, got.FileType)
	require.Equal(t, e.Name, got.Name)
}

func TestDirEntryInflatedToBlockEnd(t *testing.T) {
	e := layout.NewDirEntry(".", 2, layout.FtDir)
	minLen := e.EncodedLen()
	e.RecLen = 1024 // inflate to cover the rest of a 1024-byte block
	buf := make([]byte, e.RecLen)
	layout.EncodeDirEntry(buf, e)

	got := layout.DecodeDirEntry(buf)
	require.Equal(t, uint16(1024), got.RecLen)
	require.True(t, got.RecLen > minLen)
	require.Equal(t, ".", got.Name)
}

func TestDirEntryIsFree(t *testing.T) {
	var e layout.DirEntry
	require.True(t, e.IsFree())
	e.Inode = 5
	require.False(t, e.IsFree())
}

func TestParsePlanSimple(t *testing.T) {
	text := "BSIZE = 1024 B\n| super(1) | groupdesc(1) | data map(1) | inode map(1) | inode table(128) | data(*) |"
	p, err := layout.ParsePlan(text, 4096)
	require.NoError(t, err)
	require.EqualValues(t, 1024, p.BlockSize)
	require.False(t, p.HasBoot)
	require.EqualValues(t, 0, p.SuperOffset)
	require.EqualValues(t, 1, p.GroupDescOffset)
	require.EqualValues(t, 2, p.DataMapOffset)
	require.EqualValues(t, 3, p.InodeMapOffset)
	require.EqualValues(t, 4, p.InodeTableOffset)
	require.EqualValues(t, 132, p.DataOffset)
	require.EqualValues(t, 4096-132, p.DataBlocks)
}

func TestParsePlanWithBoot(t *testing.T) {
	text := "BSIZE = 1024 B\n| boot(1) | super(1) | groupdesc(1) | data map(1) | inode map(1) | inode table(64) | data(*) |"
	p, err := layout.ParsePlan(text, 2048)
	require.NoError(t, err)
	require.True(t, p.HasBoot)
	require.EqualValues(t, 0, p.BootOffset)
	require.EqualValues(t, 1, p.SuperOffset)
}

func TestParsePlanMissingData(t *testing.T) {
	_, err := layout.ParsePlan("BSIZE = 1024 B\n| super(1) |", 4096)
	require.Error(t, err)
}

func TestParsePlanMissingBsize(t *testing.T) {
	_, err := layout.ParsePlan("| super(1) | data(*) |", 4096)
	require.Error(t, err)
}
