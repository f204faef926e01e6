package inode

import (
	"github.com/chiro2001/ext2fuse/internal/blockdev"
	"github.com/chiro2001/ext2fuse/internal/ext2/layout"
	"github.com/chiro2001/ext2fuse/internal/ext2/resolve"
)

// FileEngine reads and writes regular-file content addressed through the
// block resolver. Ground truth for the block-by-block traversal is
// Filesystem::read in rfs_lib::fs.rs; that function asserts both offset and
// size are block-aligned and refuses anything else, a restriction this
// implementation lifts (see ReadAt/WriteAt) per the redesigned unaligned-
// access support.
type FileEngine struct {
	dev       blockdev.Device
	blockSize uint32
	resolver  *resolve.Resolver
}

func NewFileEngine(dev blockdev.Device, blockSize uint32) *FileEngine {
	return &FileEngine{dev: dev, blockSize: blockSize, resolver: resolve.New(dev, blockSize)}
}

func (f *FileEngine) readBlock(block uint32, buf []byte) error {
	if block == 0 {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	if _, err := f.dev.Seek(int64(block)*int64(f.blockSize), blockdev.SeekSet); err != nil {
		return err
	}
	_, err := f.dev.Read(buf)
	return err
}

func (f *FileEngine) writeBlock(block uint32, buf []byte) error {
	if _, err := f.dev.Seek(int64(block)*int64(f.blockSize), blockdev.SeekSet); err != nil {
		return err
	}
	_, err := f.dev.Write(buf)
	return err
}

// ReadAt reads len(p) bytes of fileInode's content starting at offset,
// which need not be block-aligned: a read landing inside a block reads the
// whole block and copies out only the requested window, closing the gap
// left by the original's alignment assertion. A read is cut short at
// fileInode.Size, matching ordinary POSIX short-read semantics; a read
// starting at or past the end returns 0 bytes.
func (f *FileEngine) ReadAt(fileInode *layout.Inode, p []byte, offset int64) (int, error) {
	if offset >= int64(fileInode.Size) {
		return 0, nil
	}
	end := offset + int64(len(p))
	if end > int64(fileInode.Size) {
		end = int64(fileInode.Size)
	}

	total := 0
	cur := offset
	blockBuf := make([]byte, f.blockSize)
	for cur < end {
		index := uint64(cur) / uint64(f.blockSize)
		inBlockOff := int(uint64(cur) % uint64(f.blockSize))

		var block uint32
		err := f.resolver.VisitBlocks(fileInode, index, nil, func(b uint32, idx uint64) (bool, bool) {
			block = b
			return false, false
		})
		if err != nil {
			return total, err
		}
		if err := f.readBlock(block, blockBuf); err != nil {
			return total, err
		}

		n := int(f.blockSize) - inBlockOff
		if int64(n) > end-cur {
			n = int(end - cur)
		}
		copy(p[total:total+n], blockBuf[inBlockOff:inBlockOff+n])
		total += n
		cur += int64(n)
	}
	return total, nil
}

// WriteAt writes len(p) bytes of fileInode's content starting at offset,
// allocating blocks as needed and growing fileInode.Size. An offset or
// length that does not land on a block boundary is handled by a
// read-modify-write of the partial block (the redesigned unaligned-write
// path; the original only ever wrote whole blocks at whole-block offsets).
// fileInode is mutated in place; the caller persists it via the inode
// Engine.
func (f *FileEngine) WriteAt(fileInode *layout.Inode, alloc resolve.Allocator, p []byte, offset int64) (int, error) {
	total := 0
	cur := offset
	end := offset + int64(len(p))
	blockBuf := make([]byte, f.blockSize)

	for cur < end {
		index := uint64(cur) / uint64(f.blockSize)
		inBlockOff := int(uint64(cur) % uint64(f.blockSize))
		n := int(f.blockSize) - inBlockOff
		if int64(n) > end-cur {
			n = int(end - cur)
		}
		partial := inBlockOff != 0 || n != int(f.blockSize)

		var block uint32
		err := f.resolver.VisitBlocks(fileInode, index, alloc, func(b uint32, idx uint64) (bool, bool) {
			if b == 0 {
				return true, true
			}
			block = b
			return false, false
		})
		if err != nil {
			return total, err
		}

		if partial {
			if err := f.readBlock(block, blockBuf); err != nil {
				return total, err
			}
		}
		copy(blockBuf[inBlockOff:inBlockOff+n], p[total:total+n])
		if err := f.writeBlock(block, blockBuf); err != nil {
			return total, err
		}

		total += n
		cur += int64(n)
	}

	if uint32(end) > fileInode.Size {
		fileInode.Size = uint32(end)
	}
	fileInode.Blocks = uint32(blocksForSize(fileInode.Size, f.blockSize)) * uint32(f.blockSize) / 512
	return total, nil
}

// Truncate sets fileInode.Size to size. Shrinking never frees already
// allocated blocks beyond the new size (matching the minimal-churn
// preallocation behavior ext2 volumes commonly exhibit; space reclamation
// happens on Unlink, not Truncate).
func Truncate(fileInode *layout.Inode, size uint32) {
	fileInode.Size = size
}
