// Package resolve walks an inode's direct, single-, double-, and
// triple-indirect block pointers, grounded on the threshold arithmetic in
// rfs_lib::fs.rs's Filesystem::read implementation (the layer/layer_layer/
// threshold calculation), generalized from a read-only walk into a visitor
// that can also allocate missing indirect blocks on demand.
package resolve

import (
	"encoding/binary"
	"fmt"

	"github.com/chiro2001/ext2fuse/internal/blockdev"
	"github.com/chiro2001/ext2fuse/internal/ext2/layout"
)

// VisitFunc is called for each logical block index a traversal reaches.
// block is the physical block number currently recorded for that index (0
// if none is allocated yet). Returning cont=false stops the traversal
// immediately. Returning needAlloc=true with block==0 tells the resolver the
// caller wants a physical block allocated for this index; the resolver
// allocates it, wires the new pointer into the inode/indirect chain, and
// calls f a second time for the same index with the newly allocated block
// number (that second call's needAlloc is ignored).
type VisitFunc func(block uint32, index uint64) (cont bool, needAlloc bool)

// Allocator allocates a single fresh data block and returns its physical
// block number.
type Allocator interface {
	AllocateBlock() (uint32, error)
}

// Thresholds holds the logical-index boundaries between direct,
// single-indirect, double-indirect, and triple-indirect addressing, derived
// from the pointers-per-block count L = blockSize/4.
type Thresholds struct {
	L              uint64 // pointers per indirect block
	T0, T1, T2, T3 uint64 // index boundaries
}

// ComputeThresholds derives the T0-T3 boundaries for the given block size,
// matching fs.rs's layer/layer_layer/threshold computation exactly (T0=12,
// T1=12+L, T2=12+L+L^2, T3=11+L+2L+L^2 in block units there; here expressed
// in block-index units directly since VisitBlocks operates on logical block
// indices, not byte offsets).
func ComputeThresholds(blockSize uint32) Thresholds {
	l := uint64(blockSize) / 4
	return Thresholds{
		L:  l,
		T0: layout.NDirBlocks,
		T1: layout.NDirBlocks + l,
		T2: layout.NDirBlocks + l + l*l,
		T3: layout.NDirBlocks - 1 + l + 2*l + l*l,
	}
}

// Resolver walks block-pointer chains for inodes backed by dev, using
// blockSize-sized blocks. It caches at most one indirect block per
// indirection level in memory at a time (never more than 3: single, double,
// triple), matching the original's data_block/data_block_index trio.
type Resolver struct {
	dev       blockdev.Device
	blockSize uint32
	th        Thresholds
}

// New returns a Resolver over dev using the given block size.
func New(dev blockdev.Device, blockSize uint32) *Resolver {
	return &Resolver{dev: dev, blockSize: blockSize, th: ComputeThresholds(blockSize)}
}

func (r *Resolver) readBlock(block uint32) ([]byte, error) {
	buf := make([]byte, r.blockSize)
	if _, err := r.dev.Seek(int64(block)*int64(r.blockSize), blockdev.SeekSet); err != nil {
		return nil, err
	}
	if _, err := r.dev.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *Resolver) writeBlock(block uint32, buf []byte) error {
	if _, err := r.dev.Seek(int64(block)*int64(r.blockSize), blockdev.SeekSet); err != nil {
		return err
	}
	_, err := r.dev.Write(buf)
	return err
}

// indirectCache holds at most one loaded indirect block per level (0 = the
// top indirect block of whichever tier is being walked, 1 = the second hop
// of a double or triple walk, 2 = the third hop of a triple walk — callers
// only ever need the block for the level currently being descended,
// matching the teacher's 3-slot data_block array).
type indirectCache struct {
	block [3]uint32
	data  [3][]byte
	dirty [3]bool
}

func (c *indirectCache) load(r *Resolver, level int, block uint32) error {
	if c.block[level] == block && c.data[level] != nil {
		return nil
	}
	if c.dirty[level] && c.data[level] != nil {
		if err := r.writeBlock(c.block[level], c.data[level]); err != nil {
			return err
		}
		c.dirty[level] = false
	}
	buf, err := r.readBlock(block)
	if err != nil {
		return err
	}
	c.block[level] = block
	c.data[level] = buf
	return nil
}

func (c *indirectCache) flush(r *Resolver) error {
	for lvl := 0; lvl < 3; lvl++ {
		if c.dirty[lvl] && c.data[lvl] != nil {
			if err := r.writeBlock(c.block[lvl], c.data[lvl]); err != nil {
				return err
			}
			c.dirty[lvl] = false
		}
	}
	return nil
}

func ptrAt(buf []byte, i uint64) uint32 {
	return binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
}

func setPtrAt(buf []byte, i uint64, v uint32) {
	binary.LittleEndian.PutUint32(buf[i*4:i*4+4], v)
}

// VisitBlocks walks the logical block indices of ino starting at
// startIndex, in increasing order, calling f for each. If f requests
// allocation for an index with no physical block yet, alloc is used to
// obtain one and the pointer chain (inode direct slot, or single/double/
// triple indirect blocks, allocating indirect blocks themselves as needed)
// is updated. A modified indirect block is written back when the traversal
// loads a different block at the same level, or when the traversal ends;
// inode slots change only in the caller's in-memory inode. Traversal stops
// when f returns cont=false or the triple-indirect range is exhausted.
func (r *Resolver) VisitBlocks(inode *layout.Inode, startIndex uint64, alloc Allocator, f VisitFunc) error {
	th := r.th
	if startIndex >= th.T3 {
		return fmt.Errorf("resolve: start index %d exceeds triple-indirect range (max %d)", startIndex, th.T3)
	}
	var cache indirectCache

	maxIndex := th.T3
	for index := startIndex; index < maxIndex; index++ {
		block, err := r.blockAt(inode, &cache, alloc, index, false)
		if err != nil {
			return err
		}

		cont, needAlloc := f(block, index)
		if needAlloc && block == 0 {
			newBlock, err := r.blockAt(inode, &cache, alloc, index, true)
			if err != nil {
				return err
			}
			cont, _ = f(newBlock, index)
		}
		if !cont {
			break
		}
	}
	return cache.flush(r)
}

// blockAt returns the physical block currently mapped at the given logical
// index, allocating it (and any indirect blocks on the path to it) when
// allocate is true and no block is present yet.
func (r *Resolver) blockAt(inode *layout.Inode, cache *indirectCache, alloc Allocator, index uint64, allocate bool) (uint32, error) {
	th := r.th

	ensure := func(slot *uint32) (uint32, error) {
		if *slot != 0 {
			return *slot, nil
		}
		if !allocate {
			return 0, nil
		}
		if alloc == nil {
			return 0, fmt.Errorf("resolve: allocation requested with no allocator")
		}
		b, err := alloc.AllocateBlock()
		if err != nil {
			return 0, err
		}
		*slot = b
		return b, nil
	}

	switch {
	case index < th.T0:
		return ensure(&inode.Block[index])

	case index < th.T1:
		indBlock, err := ensure(&inode.Block[layout.IndBlock])
		if err != nil || indBlock == 0 {
			return 0, err
		}
		if err := cache.load(r, 0, indBlock); err != nil {
			return 0, err
		}
		i := index - th.T0
		b := ptrAt(cache.data[0], i)
		if b == 0 && allocate {
			nb, err := alloc.AllocateBlock()
			if err != nil {
				return 0, err
			}
			setPtrAt(cache.data[0], i, nb)
			cache.dirty[0] = true
			b = nb
		}
		return b, nil

	case index < th.T2:
		dindBlock, err := ensure(&inode.Block[layout.DIndBlock])
		if err != nil || dindBlock == 0 {
			return 0, err
		}
		if err := cache.load(r, 0, dindBlock); err != nil {
			return 0, err
		}
		rel := index - th.T1
		outer := rel / th.L
		inner := rel % th.L

		mid := ptrAt(cache.data[0], outer)
		if mid == 0 {
			if !allocate {
				return 0, nil
			}
			nb, err := alloc.AllocateBlock()
			if err != nil {
				return 0, err
			}
			setPtrAt(cache.data[0], outer, nb)
			cache.dirty[0] = true
			mid = nb
		}
		if err := cache.load(r, 1, mid); err != nil {
			return 0, err
		}
		b := ptrAt(cache.data[1], inner)
		if b == 0 && allocate {
			nb, err := alloc.AllocateBlock()
			if err != nil {
				return 0, err
			}
			setPtrAt(cache.data[1], inner, nb)
			cache.dirty[1] = true
			b = nb
		}
		return b, nil

	case index < th.T3:
		tindBlock, err := ensure(&inode.Block[layout.TIndBlock])
		if err != nil || tindBlock == 0 {
			return 0, err
		}
		if err := cache.load(r, 0, tindBlock); err != nil {
			return 0, err
		}
		rel := index - th.T2
		outer := rel / (th.L * th.L)
		mid := (rel / th.L) % th.L
		inner := rel % th.L

		b1 := ptrAt(cache.data[0], outer)
		if b1 == 0 {
			if !allocate {
				return 0, nil
			}
			nb, err := alloc.AllocateBlock()
			if err != nil {
				return 0, err
			}
			setPtrAt(cache.data[0], outer, nb)
			cache.dirty[0] = true
			b1 = nb
		}
		if err := cache.load(r, 1, b1); err != nil {
			return 0, err
		}
		b2 := ptrAt(cache.data[1], mid)
		if b2 == 0 {
			if !allocate {
				return 0, nil
			}
			nb, err := alloc.AllocateBlock()
			if err != nil {
				return 0, err
			}
			setPtrAt(cache.data[1], mid, nb)
			cache.dirty[1] = true
			b2 = nb
		}
		if err := cache.load(r, 2, b2); err != nil {
			return 0, err
		}
		b := ptrAt(cache.data[2], inner)
		if b == 0 && allocate {
			nb, err := alloc.AllocateBlock()
			if err != nil {
				return 0, err
			}
			setPtrAt(cache.data[2], inner, nb)
			cache.dirty[2] = true
			b = nb
		}
		return b, nil

	default:
		return 0, fmt.Errorf("resolve: logical index %d exceeds triple-indirect range", index)
	}
}
