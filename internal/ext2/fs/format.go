package fs

import (
	"fmt"
	"os"

	"github.com/chiro2001/ext2fuse/cfg"
	"github.com/chiro2001/ext2fuse/internal/blockdev"
	"github.com/chiro2001/ext2fuse/internal/clock"
	"github.com/chiro2001/ext2fuse/internal/ext2/alloc"
	"github.com/chiro2001/ext2fuse/internal/ext2/inode"
	"github.com/chiro2001/ext2fuse/internal/ext2/layout"
)

// formatNative lays down a fresh volume per SPEC_FULL.md §4.7's native
// format path: parse the declarative layout file, derive a superblock and
// group descriptor consistent with it, zero the fixed prefix, build empty
// bitmaps, and create the root directory. Returns the parsed plan so
// callers that want it (tests, mainly) don't have to re-derive it.
func formatNative(dev blockdev.Device, c cfg.Config, clk clock.Clock) (layout.Plan, error) {
	text, err := os.ReadFile(c.LayoutFile)
	if err != nil {
		return layout.Plan{}, fmt.Errorf("fs: reading layout file: %w", err)
	}
	size, err := deviceSize(dev)
	if err != nil {
		return layout.Plan{}, err
	}
	totalBlocks := size / c.BlockSize

	plan, err := layout.ParsePlan(string(text), totalBlocks)
	if err != nil {
		return layout.Plan{}, err
	}
	if plan.BlockSize != c.BlockSize {
		return layout.Plan{}, fmt.Errorf("fs: layout file declares block size %d, config wants %d", plan.BlockSize, c.BlockSize)
	}
	if plan.DataMapBlocks != 1 || plan.InodeMapBlocks != 1 {
		return layout.Plan{}, fmt.Errorf("fs: this engine only supports single-block inode/data bitmaps")
	}

	firstDataBlock := uint32(0)
	if c.BlockSize == 1024 {
		firstDataBlock = 1
	}
	sb := layout.NewSuperBlock(clk, c.InodeCount, totalBlocks, firstDataBlock, layout.LogBlockSizeFor(c.BlockSize))

	// Zero the fixed metadata prefix (boot, super, group descriptor, both
	// bitmaps, and the inode table) before laying down real content.
	zero := make([]byte, c.BlockSize)
	for b := uint32(0); b < plan.DataOffset; b++ {
		if _, err := dev.Seek(int64(b)*int64(c.BlockSize), blockdev.SeekSet); err != nil {
			return layout.Plan{}, err
		}
		if _, err := dev.Write(zero); err != nil {
			return layout.Plan{}, err
		}
	}

	gd := layout.GroupDescriptor{
		BlockBitmap: plan.DataMapOffset,
		InodeBitmap: plan.InodeMapOffset,
		InodeTable:  plan.InodeTableOffset,
	}

	dataBm, err := alloc.NewEmpty(dev, int64(gd.BlockBitmap)*int64(c.BlockSize), int(c.BlockSize), int(plan.DataOffset))
	if err != nil {
		return layout.Plan{}, err
	}
	if err := dataBm.ReserveTail(totalBlocks + 1); err != nil {
		return layout.Plan{}, err
	}
	inodeBm, err := alloc.NewEmpty(dev, int64(gd.InodeBitmap)*int64(c.BlockSize), int(c.BlockSize), int(sb.FirstIno-1))
	if err != nil {
		return layout.Plan{}, err
	}
	if err := inodeBm.ReserveTail(c.InodeCount + 1); err != nil {
		return layout.Plan{}, err
	}

	sb.FreeBlocksCount = dataBm.FreeCount()
	sb.FreeInodesCount = inodeBm.FreeCount()

	blockAlloc := &blockAllocator{bm: dataBm, sb: &sb}
	inodeEngine := inode.NewEngine(dev, c.BlockSize, plan.InodeTableOffset)

	rootBlock, err := blockAlloc.AllocateBlock()
	if err != nil {
		return layout.Plan{}, err
	}
	if err := writeBlockRaw(dev, rootBlock, c.BlockSize, newDirDataBlock(c.BlockSize, layout.RootIno, layout.RootIno)); err != nil {
		return layout.Plan{}, err
	}

	root := layout.DefaultInode(clk)
	root.Mode = ModeDir | uint16(c.DirMode)
	root.LinksCount = 2
	root.Block[0] = rootBlock
	root.Size = c.BlockSize
	root.Blocks = c.BlockSize / 512
	if err := inodeEngine.Set(layout.RootIno, root); err != nil {
		return layout.Plan{}, err
	}
	gd.UsedDirsCount = 1
	gd.FreeBlocksCount = uint16(sb.FreeBlocksCount)
	gd.FreeInodesCount = uint16(sb.FreeInodesCount)

	if err := writeSuperBlockAt(dev, plan.SuperOffset, c.BlockSize, sb); err != nil {
		return layout.Plan{}, err
	}
	if err := writeGroupDescriptorAt(dev, plan.GroupDescOffset, c.BlockSize, gd); err != nil {
		return layout.Plan{}, err
	}
	return plan, dev.Flush()
}

func writeBlockRaw(dev blockdev.Device, block, blockSize uint32, buf []byte) error {
	if _, err := dev.Seek(int64(block)*int64(blockSize), blockdev.SeekSet); err != nil {
		return err
	}
	_, err := dev.Write(buf)
	return err
}
