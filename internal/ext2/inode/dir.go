package inode

import (
	"fmt"

	"github.com/chiro2001/ext2fuse/internal/blockdev"
	"github.com/chiro2001/ext2fuse/internal/ext2/ext2err"
	"github.com/chiro2001/ext2fuse/internal/ext2/layout"
	"github.com/chiro2001/ext2fuse/internal/ext2/resolve"
)

// DirEngine reads and mutates directory content: a sequence of fixed-size
// blocks, each densely packed with DirEntry records up to the block's end,
// the last entry in a block inflated to cover the remainder of the block.
// Ground truth for the per-block entry format is RFS::get_block_dir_entries
// in rfs_lib::mod.rs; unlike that function (and RFS::get_dir_entries, which
// only ever reads i_block[0]), DirEngine walks every block the resolver
// yields for the directory's full i_size, so directories spanning indirect
// blocks read correctly.
type DirEngine struct {
	dev       blockdev.Device
	blockSize uint32
	resolver  *resolve.Resolver
}

func NewDirEngine(dev blockdev.Device, blockSize uint32) *DirEngine {
	return &DirEngine{dev: dev, blockSize: blockSize, resolver: resolve.New(dev, blockSize)}
}

func (d *DirEngine) readBlock(block uint32) ([]byte, error) {
	buf := make([]byte, d.blockSize)
	if _, err := d.dev.Seek(int64(block)*int64(d.blockSize), blockdev.SeekSet); err != nil {
		return nil, err
	}
	if _, err := d.dev.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *DirEngine) writeBlock(block uint32, buf []byte) error {
	if _, err := d.dev.Seek(int64(block)*int64(d.blockSize), blockdev.SeekSet); err != nil {
		return err
	}
	_, err := d.dev.Write(buf)
	return err
}

// blockEntries decodes every entry packed into one block, including free
// (inode==0) slots, advancing strictly by each entry's own rec_len so that
// a block's tail free-space record (rec_len extended to the block's end)
// is reported as a single free entry rather than mistaken for corruption.
func blockEntries(buf []byte) ([]layout.DirEntry, error) {
	var out []layout.DirEntry
	off := 0
	for off+layout.DirEntryHeaderSize <= len(buf) {
		e := layout.DecodeDirEntry(buf[off:])
		if e.RecLen < uint16(layout.DirEntryHeaderSize) {
			return nil, fmt.Errorf("%w: directory entry at block offset %d has rec_len %d", ext2err.Corrupt, off, e.RecLen)
		}
		out = append(out, e)
		off += int(e.RecLen)
	}
	return out, nil
}

// ReadAll returns every live (non-free) entry in the directory whose inode
// record is dirInode, in on-disk order across every allocated block.
func (d *DirEngine) ReadAll(dirInode *layout.Inode) ([]layout.DirEntry, error) {
	numBlocks := blocksForSize(dirInode.Size, d.blockSize)
	var out []layout.DirEntry
	for i := uint64(0); i < numBlocks; i++ {
		var block uint32
		err := d.resolver.VisitBlocks(dirInode, i, nil, func(b uint32, index uint64) (bool, bool) {
			block = b
			return false, false
		})
		if err != nil {
			return nil, err
		}
		if block == 0 {
			continue
		}
		buf, err := d.readBlock(block)
		if err != nil {
			return nil, err
		}
		entries, err := blockEntries(buf)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsFree() {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// Find looks up name among dirInode's live entries.
func (d *DirEngine) Find(dirInode *layout.Inode, name string) (layout.DirEntry, bool, error) {
	entries, err := d.ReadAll(dirInode)
	if err != nil {
		return layout.DirEntry{}, false, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e, true, nil
		}
	}
	return layout.DirEntry{}, false, nil
}

func blocksForSize(size uint32, blockSize uint32) uint64 {
	if size == 0 {
		return 0
	}
	return (uint64(size) + uint64(blockSize) - 1) / uint64(blockSize)
}

// Add inserts a new entry into dirInode, reusing free space in an existing
// block when the new entry fits, and otherwise allocating a fresh block
// (appended to the directory's block list via the resolver/allocator and
// reflected in dirInode.Size). dirInode is mutated in place; the caller is
// responsible for persisting it via the inode Engine.
func (d *DirEngine) Add(dirInode *layout.Inode, alloc resolve.Allocator, name string, ino uint32, fileType uint8) error {
	entry := layout.NewDirEntry(name, ino, fileType)
	needed := entry.EncodedLen()

	numBlocks := blocksForSize(dirInode.Size, d.blockSize)
	for i := uint64(0); i < numBlocks; i++ {
		var block uint32
		if err := d.resolver.VisitBlocks(dirInode, i, nil, func(b uint32, index uint64) (bool, bool) {
			block = b
			return false, false
		}); err != nil {
			return err
		}
		if block == 0 {
			continue
		}
		buf, err := d.readBlock(block)
		if err != nil {
			return err
		}
		if ok := tryInsertIntoBlock(buf, entry, needed); ok {
			return d.writeBlock(block, buf)
		}
	}

	// No existing block has room: allocate a fresh one and append it.
	var newBlock uint32
	err := d.resolver.VisitBlocks(dirInode, numBlocks, alloc, func(b uint32, index uint64) (bool, bool) {
		if b == 0 {
			return true, true
		}
		newBlock = b
		return false, false
	})
	if err != nil {
		return err
	}

	buf := make([]byte, d.blockSize)
	entry.RecLen = uint16(d.blockSize)
	layout.EncodeDirEntry(buf, entry)
	if err := d.writeBlock(newBlock, buf); err != nil {
		return err
	}
	dirInode.Size += d.blockSize
	dirInode.Blocks += d.blockSize / 512
	return nil
}

// tryInsertIntoBlock scans buf's packed entries for a slot at least needed
// bytes long (either a free entry, or live-entry slack beyond its own
// minimum encoded length) and splits it to hold the new entry, returning
// false if no slot in this block is large enough.
func tryInsertIntoBlock(buf []byte, entry layout.DirEntry, needed uint16) bool {
	off := 0
	for off+layout.DirEntryHeaderSize <= len(buf) {
		e := layout.DecodeDirEntry(buf[off:])
		if e.RecLen < uint16(layout.DirEntryHeaderSize) {
			return false
		}

		if e.IsFree() {
			if e.RecLen >= needed {
				splitSlot(buf, off, e.RecLen, entry, needed)
				return true
			}
		} else {
			minLen := e.EncodedLen()
			slack := e.RecLen - minLen
			if slack >= needed {
				// Shrink the live entry to its minimum size and place the
				// new entry in the freed slack that follows it.
				e.RecLen = minLen
				layout.EncodeDirEntry(buf[off:], e)
				splitSlot(buf, off+int(minLen), slack, entry, needed)
				return true
			}
		}
		off += int(e.RecLen)
	}
	return false
}

// splitSlot writes entry at buf[off:], consuming either the whole
// available slotLen (if too small to split further) or exactly needed
// bytes, leaving a free entry behind to cover the remainder.
func splitSlot(buf []byte, off int, slotLen uint16, entry layout.DirEntry, needed uint16) {
	remainder := slotLen - needed
	if remainder < uint16(layout.DirEntryHeaderSize) {
		entry.RecLen = slotLen
		layout.EncodeDirEntry(buf[off:], entry)
		return
	}
	entry.RecLen = needed
	layout.EncodeDirEntry(buf[off:], entry)
	free := layout.DirEntry{Inode: 0, RecLen: remainder}
	layout.EncodeDirEntry(buf[off+int(needed):], free)
}

// Remove deletes the entry named name from dirInode by zeroing its inode
// number; the freed span is left as a free slot for Add to reclaim later
// (ext2 does not compact directory blocks on every unlink).
func (d *DirEngine) Remove(dirInode *layout.Inode, name string) error {
	numBlocks := blocksForSize(dirInode.Size, d.blockSize)
	for i := uint64(0); i < numBlocks; i++ {
		var block uint32
		if err := d.resolver.VisitBlocks(dirInode, i, nil, func(b uint32, index uint64) (bool, bool) {
			block = b
			return false, false
		}); err != nil {
			return err
		}
		if block == 0 {
			continue
		}
		buf, err := d.readBlock(block)
		if err != nil {
			return err
		}
		off := 0
		found := false
		for off+layout.DirEntryHeaderSize <= len(buf) {
			e := layout.DecodeDirEntry(buf[off:])
			if e.RecLen < uint16(layout.DirEntryHeaderSize) {
				break
			}
			if !e.IsFree() && e.Name == name {
				e.Inode = 0
				layout.EncodeDirEntry(buf[off:], e)
				found = true
				break
			}
			off += int(e.RecLen)
		}
		if found {
			return d.writeBlock(block, buf)
		}
	}
	return fmt.Errorf("%w: %q", ext2err.NotFound, name)
}

// IsEmpty reports whether dirInode contains only "." and ".." entries.
func (d *DirEngine) IsEmpty(dirInode *layout.Inode) (bool, error) {
	entries, err := d.ReadAll(dirInode)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Name != "." && e.Name != ".." {
			return false, nil
		}
	}
	return true, nil
}
