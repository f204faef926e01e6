// Package blockcache implements a write-back, write-allocate block cache
// sitting in front of any blockdev.Device, grounded on
// disk_driver::cache::CacheDiskDriver: a fully-associative cache keyed by
// block tag (offset >> block_log), tracking a dirty bit per cached block and
// writing dirty blocks back to the wrapped device only on eviction or Flush.
package blockcache

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"strconv"

	"github.com/chiro2001/ext2fuse/internal/blockdev"
	"github.com/chiro2001/ext2fuse/internal/logger"
	"github.com/chiro2001/ext2fuse/internal/lrucache"
	"github.com/chiro2001/ext2fuse/internal/metrics"
)

// cacheItem carries its own block offset so that an evicted item can be
// written back to the right place without needing its cache key back.
type cacheItem struct {
	offset int64
	dirty  bool
	data   []byte
}

func (c *cacheItem) Size() uint64 { return uint64(len(c.data)) }

// CachedDevice wraps a blockdev.Device with a byte-capacity-bounded LRU
// block cache. All reads and writes must be whole multiples of BlockSize,
// matching the wrapped device's own alignment requirement.
type CachedDevice struct {
	inner     blockdev.Device
	blockSize uint32
	blockLog  uint
	cache     lrucache.Cache
	pointer   int64
	layout    uint32
}

// New wraps inner in a block cache of the given byte capacity. blockSize
// must be a power of two and must match inner's IO unit size.
func New(inner blockdev.Device, layoutSize, blockSize uint32, capacity uint64) *CachedDevice {
	return &CachedDevice{
		inner:     inner,
		blockSize: blockSize,
		blockLog:  uint(bits.TrailingZeros32(blockSize)),
		cache:     lrucache.New(capacity),
		layout:    layoutSize,
	}
}

func (d *CachedDevice) tag(offset int64) string {
	return strconv.FormatInt(offset>>d.blockLog, 10)
}

func (d *CachedDevice) Open(path string) error { return d.inner.Open(path) }

func (d *CachedDevice) Close() error {
	if err := d.Flush(); err != nil {
		return err
	}
	return d.inner.Close()
}

func (d *CachedDevice) Seek(offset int64, whence blockdev.Whence) (int64, error) {
	switch whence {
	case blockdev.SeekSet:
		d.pointer = offset
	case blockdev.SeekCur:
		d.pointer += offset
	case blockdev.SeekEnd:
		d.pointer = int64(d.layout) - offset
	default:
		return 0, blockdev.ErrMisaligned
	}
	return d.pointer, nil
}

// writeBack pushes a dirty block out to the wrapped device.
func (d *CachedDevice) writeBack(item *cacheItem) error {
	if !item.dirty {
		return nil
	}
	if _, err := d.inner.Seek(item.offset, blockdev.SeekSet); err != nil {
		return err
	}
	if _, err := d.inner.Write(item.data); err != nil {
		return err
	}
	logger.Tracef("blockcache: wrote back dirty block at offset %d", item.offset)
	return nil
}

// insertEvicting inserts item, writing back anything it evicts — ground
// truth: CacheDiskDriver's push() writes the replaced slot back on its way
// out whenever that slot is dirty.
func (d *CachedDevice) insertEvicting(key string, item *cacheItem) error {
	evicted := d.cache.Insert(key, item)
	for _, v := range evicted {
		if err := d.writeBack(v.(*cacheItem)); err != nil {
			return err
		}
	}
	return nil
}

// loadBlock returns the cached copy of the block at byte offset blockOff,
// fetching it from the wrapped device on a miss. A freshly loaded block is
// clean: it mirrors the device exactly until modified.
func (d *CachedDevice) loadBlock(blockOff int64) (*cacheItem, error) {
	key := d.tag(blockOff)
	if v := d.cache.LookUp(key); v != nil {
		metrics.RecordCacheHit()
		return v.(*cacheItem), nil
	}
	metrics.RecordCacheMiss()

	if _, err := d.inner.Seek(blockOff, blockdev.SeekSet); err != nil {
		return nil, err
	}
	buf := make([]byte, d.blockSize)
	if _, err := d.inner.Read(buf); err != nil {
		return nil, err
	}
	item := &cacheItem{offset: blockOff, dirty: false, data: buf}
	if err := d.insertEvicting(key, item); err != nil {
		return nil, err
	}
	return item, nil
}

// checkPointerAligned panics if the cache's current cursor does not sit on
// a block boundary: spec.md classifies a misaligned request to the cache as
// a programmer-invariant violation (§7, bucket 8), the same class
// LogBlockSizeFor's panic on an unsupported block size belongs to, not a
// recoverable error the caller can usefully handle.
func (d *CachedDevice) checkPointerAligned() {
	if d.pointer%int64(d.blockSize) != 0 {
		panic(fmt.Sprintf("blockcache: misaligned request at offset %d (block size %d)", d.pointer, d.blockSize))
	}
}

func (d *CachedDevice) Read(buf []byte) (int, error) {
	if err := blockdev.CheckAligned(len(buf), int(d.blockSize)); err != nil {
		return 0, err
	}
	d.checkPointerAligned()
	total := 0
	for total < len(buf) {
		blockOff := d.pointer - (d.pointer % int64(d.blockSize))
		item, err := d.loadBlock(blockOff)
		if err != nil {
			return total, err
		}
		copy(buf[total:total+int(d.blockSize)], item.data)
		total += int(d.blockSize)
		d.pointer += int64(d.blockSize)
	}
	return total, nil
}

// Write is write-allocate: a block need not be resident to be written, it
// is simply installed dirty, matching the teacher's write-miss behavior
// (no read-before-write for a full-block overwrite).
func (d *CachedDevice) Write(buf []byte) (int, error) {
	if err := blockdev.CheckAligned(len(buf), int(d.blockSize)); err != nil {
		return 0, err
	}
	d.checkPointerAligned()
	total := 0
	for total < len(buf) {
		blockOff := d.pointer - (d.pointer % int64(d.blockSize))
		key := d.tag(blockOff)

		item := &cacheItem{offset: blockOff, dirty: true, data: make([]byte, d.blockSize)}
		copy(item.data, buf[total:total+int(d.blockSize)])

		if err := d.insertEvicting(key, item); err != nil {
			return total, err
		}

		total += int(d.blockSize)
		d.pointer += int64(d.blockSize)
	}
	return total, nil
}

func (d *CachedDevice) Ioctl(cmd uint32, arg []byte) error {
	switch cmd {
	case blockdev.ReqDeviceIOSz:
		binary.LittleEndian.PutUint32(arg, d.blockSize)
		return nil
	default:
		return d.inner.Ioctl(cmd, arg)
	}
}

func (d *CachedDevice) Reset() error {
	if err := d.Flush(); err != nil {
		return err
	}
	return d.inner.Reset()
}

// Flush writes every dirty resident block back to the wrapped device, in
// cache order, then drops the cache entirely and flushes the wrapped
// device — mirroring CacheDiskDriver::ddriver_flush.
func (d *CachedDevice) Flush() error {
	for _, key := range d.cache.Keys() {
		v := d.cache.Erase(key)
		if v == nil {
			continue
		}
		if err := d.writeBack(v.(*cacheItem)); err != nil {
			return err
		}
	}
	return d.inner.Flush()
}

func (d *CachedDevice) FlushRange(lo, hi int64) error {
	for off := lo - (lo % int64(d.blockSize)); off < hi; off += int64(d.blockSize) {
		key := d.tag(off)
		v := d.cache.Erase(key)
		if v == nil {
			continue
		}
		if err := d.writeBack(v.(*cacheItem)); err != nil {
			return err
		}
	}
	return d.inner.FlushRange(lo, hi)
}
