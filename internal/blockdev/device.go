// Package blockdev implements the raw block-device abstraction (C1): a
// byte-addressable, fixed-size backing store reached through a stateful
// cursor, the way the teacher's GCS bucket client is reached through a
// stateful reader/writer pair but narrowed to the ioctl-driven shape of a
// Unix block device.
package blockdev

import (
	"errors"
	"fmt"
)

// Whence selects the origin a Seek offset is relative to.
type Whence int

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)

// Ioctl command codes, stable across the life of the on-disk format. Values
// follow the Linux _IOR('A', n, size) / _IO('A', n) encoding: direction in
// bits 30-31, argument size in bits 16-29, the letter 'A' in bits 8-15 and
// the query number n in bits 0-7.
const (
	ReqDeviceSize  uint32 = 2<<30 | 4<<16 | 'A'<<8 | 0  // _IOR('A', 0, u32)
	ReqDeviceState uint32 = 2<<30 | 12<<16 | 'A'<<8 | 1 // _IOR('A', 1, 3*u32)
	ReqDeviceReset uint32 = 'A'<<8 | 2                  // _IO('A', 2)
	ReqDeviceIOSz  uint32 = 2<<30 | 4<<16 | 'A'<<8 | 3  // _IOR('A', 3, u32)
)

// Stats holds the running ioctl-visible IO counters.
type Stats struct {
	WriteCount uint32
	ReadCount  uint32
	SeekCount  uint32
}

var (
	// ErrNotOpen is returned by any operation attempted before Open succeeds.
	ErrNotOpen = errors.New("blockdev: device not open")
	// ErrMisaligned is returned when a request size is not a multiple of the
	// device's IO unit.
	ErrMisaligned = errors.New("blockdev: request not aligned to IO unit")
	// ErrOutOfRange is returned when a request would read or write past the
	// end of the device's declared layout size.
	ErrOutOfRange = errors.New("blockdev: request past end of device")
)

// Device is the stateful, cursor-based interface every block-device
// implementation and every decorator stacked above one (see blockcache)
// presents identically.
type Device interface {
	// Open opens or creates the backing store named by path.
	Open(path string) error
	// Close flushes and releases the backing store.
	Close() error
	// Seek repositions the device's internal cursor and returns its new
	// absolute offset.
	Seek(offset int64, whence Whence) (int64, error)
	// Read fills buf entirely from the current cursor position and advances
	// the cursor by len(buf). len(buf) must be a multiple of the IO unit.
	Read(buf []byte) (int, error)
	// Write stores buf entirely at the current cursor position and advances
	// the cursor by len(buf). len(buf) must be a multiple of the IO unit.
	Write(buf []byte) (int, error)
	// Ioctl services one of the Req* query/control codes.
	Ioctl(cmd uint32, arg []byte) error
	// Reset zeroes the entire backing store.
	Reset() error
	// Flush forces any buffered state to the backing store.
	Flush() error
	// FlushRange forces buffered state covering [lo, hi) to the backing
	// store. A device with no internal buffering may implement it as Flush.
	FlushRange(lo, hi int64) error
}

// CheckAligned reports ErrMisaligned if size is not a multiple of unit.
func CheckAligned(size int, unit int) error {
	if size%unit != 0 {
		return fmt.Errorf("%w: size=%d unit=%d", ErrMisaligned, size, unit)
	}
	return nil
}
