package fs

import (
	"github.com/chiro2001/ext2fuse/internal/ext2/alloc"
	"github.com/chiro2001/ext2fuse/internal/ext2/layout"
)

// blockAllocator adapts the data bitmap to resolve.Allocator: object number
// n on the bitmap (1-based) addresses physical block n-1, so block 0 itself
// falls out of the allocatable range entirely (it is always part of the
// reserved metadata prefix — see SPEC_FULL.md §9's bitmap-reservation note).
type blockAllocator struct {
	bm *alloc.Bitmap
	sb *layout.SuperBlock
}

func (a *blockAllocator) AllocateBlock() (uint32, error) {
	n, err := a.bm.Allocate()
	if err != nil {
		return 0, err
	}
	if a.sb.FreeBlocksCount > 0 {
		a.sb.FreeBlocksCount--
	}
	return n - 1, nil
}

func (a *blockAllocator) FreeBlock(phys uint32) error {
	if err := a.bm.Free(phys + 1); err != nil {
		return err
	}
	a.sb.FreeBlocksCount++
	return nil
}

// inodeAllocator adapts the inode bitmap: object number equals inode
// number directly, matching internal/ext2/inode.Engine's own 1-based
// addressing.
type inodeAllocator struct {
	bm *alloc.Bitmap
	sb *layout.SuperBlock
}

func (a *inodeAllocator) Allocate() (uint32, error) {
	n, err := a.bm.Allocate()
	if err != nil {
		return 0, err
	}
	if a.sb.FreeInodesCount > 0 {
		a.sb.FreeInodesCount--
	}
	return n, nil
}

func (a *inodeAllocator) Free(ino uint32) error {
	if err := a.bm.Free(ino); err != nil {
		return err
	}
	a.sb.FreeInodesCount++
	return nil
}
