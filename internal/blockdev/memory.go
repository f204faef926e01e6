package blockdev

import (
	"encoding/binary"

	"github.com/chiro2001/ext2fuse/internal/metrics"
)

// MemDevice is an in-memory block device backed by an owned byte buffer
// (ground truth: disk_driver::memory::MemoryDiskDriver). Useful for tests
// and for mounting a throwaway filesystem with no backing file.
type MemDevice struct {
	LayoutSize uint32
	IOUnitSize uint32

	mem     []byte
	pointer int64
	open    bool
	stats   Stats
}

// NewMemDevice returns an unopened in-memory device of the given geometry.
func NewMemDevice(layoutSize, ioUnitSize uint32) *MemDevice {
	return &MemDevice{
		LayoutSize: layoutSize,
		IOUnitSize: ioUnitSize,
		mem:        make([]byte, layoutSize),
	}
}

func (d *MemDevice) Open(_ string) error {
	if d.mem == nil {
		d.mem = make([]byte, d.LayoutSize)
	}
	d.open = true
	return nil
}

func (d *MemDevice) Close() error { return nil }

func (d *MemDevice) Seek(offset int64, whence Whence) (int64, error) {
	if !d.open {
		return 0, ErrNotOpen
	}
	d.stats.SeekCount++
	metrics.RecordDeviceOp("seek")
	switch whence {
	case SeekSet:
		d.pointer = offset
	case SeekCur:
		d.pointer += offset
	case SeekEnd:
		d.pointer = int64(d.LayoutSize) - offset
	default:
		return 0, ErrMisaligned
	}
	return d.pointer, nil
}

func (d *MemDevice) Write(buf []byte) (int, error) {
	if !d.open {
		return 0, ErrNotOpen
	}
	if err := CheckAligned(len(buf), int(d.IOUnitSize)); err != nil {
		return 0, err
	}
	if d.pointer < 0 || d.pointer+int64(len(buf)) > int64(len(d.mem)) {
		return 0, ErrOutOfRange
	}
	copy(d.mem[d.pointer:], buf)
	d.pointer += int64(len(buf))
	d.stats.WriteCount++
	metrics.RecordDeviceOp("write")
	return len(buf), nil
}

func (d *MemDevice) Read(buf []byte) (int, error) {
	if !d.open {
		return 0, ErrNotOpen
	}
	if err := CheckAligned(len(buf), int(d.IOUnitSize)); err != nil {
		return 0, err
	}
	if d.pointer < 0 || d.pointer+int64(len(buf)) > int64(len(d.mem)) {
		return 0, ErrOutOfRange
	}
	copy(buf, d.mem[d.pointer:d.pointer+int64(len(buf))])
	d.pointer += int64(len(buf))
	d.stats.ReadCount++
	metrics.RecordDeviceOp("read")
	return len(buf), nil
}

func (d *MemDevice) Ioctl(cmd uint32, arg []byte) error {
	switch cmd {
	case ReqDeviceSize:
		binary.LittleEndian.PutUint32(arg, d.LayoutSize)
	case ReqDeviceState:
		binary.LittleEndian.PutUint32(arg[0:4], d.stats.WriteCount)
		binary.LittleEndian.PutUint32(arg[4:8], d.stats.ReadCount)
		binary.LittleEndian.PutUint32(arg[8:12], d.stats.SeekCount)
	case ReqDeviceReset:
		return d.Reset()
	case ReqDeviceIOSz:
		binary.LittleEndian.PutUint32(arg, d.IOUnitSize)
	}
	return nil
}

func (d *MemDevice) Reset() error {
	for i := range d.mem {
		d.mem[i] = 0
	}
	d.pointer = 0
	d.stats = Stats{}
	return nil
}

func (d *MemDevice) Flush() error               { return nil }
func (d *MemDevice) FlushRange(_, _ int64) error { return nil }
