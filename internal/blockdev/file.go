package blockdev

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/chiro2001/ext2fuse/internal/logger"
	"github.com/chiro2001/ext2fuse/internal/metrics"
)

// FileDevice is a block device backed by a regular file, pre-allocated to
// LayoutSize and zero-filled on first creation (ground truth:
// disk_driver::file::FileDiskDriver).
type FileDevice struct {
	LayoutSize uint32
	IOUnitSize uint32

	// Latency, when true, injects the configured per-operation sleeps —
	// useful for exercising timeout-sensitive callers without real disk
	// contention.
	Latency   bool
	SeekLatMs uint32
	ReadLatMs uint32
	WriteLatMs uint32

	f     *os.File
	stats Stats
}

// NewFileDevice returns an unopened FileDevice with the given geometry.
func NewFileDevice(layoutSize, ioUnitSize uint32) *FileDevice {
	return &FileDevice{LayoutSize: layoutSize, IOUnitSize: ioUnitSize}
}

func (d *FileDevice) Open(path string) error {
	if d.f != nil {
		if err := d.Close(); err != nil {
			return err
		}
	}
	logger.Infof("blockdev: opening file device %s", path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Infof("blockdev: creating backing file %s", path)
		blank := make([]byte, d.LayoutSize)
		if err := os.WriteFile(path, blank, 0o644); err != nil {
			return fmt.Errorf("blockdev: create %s: %w", path, err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	d.f = f

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < int64(d.LayoutSize) {
		logger.Debugf("blockdev: padding %s to layout size", path)
		padding := make([]byte, int64(d.LayoutSize)-info.Size())
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return err
		}
		if _, err := f.Write(padding); err != nil {
			return err
		}
	}
	return nil
}

func (d *FileDevice) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Sync()
	if cerr := d.f.Close(); err == nil {
		err = cerr
	}
	d.f = nil
	return err
}

func (d *FileDevice) Seek(offset int64, whence Whence) (int64, error) {
	if d.f == nil {
		return 0, ErrNotOpen
	}
	d.stats.SeekCount++
	metrics.RecordDeviceOp("seek")
	if whence == SeekSet && offset > int64(d.LayoutSize) {
		return 0, fmt.Errorf("%w: offset=%d size=%d", ErrOutOfRange, offset, d.LayoutSize)
	}
	if d.Latency {
		time.Sleep(time.Duration(d.SeekLatMs) * time.Millisecond)
	}
	var w int
	switch whence {
	case SeekSet:
		w = io.SeekStart
	case SeekCur:
		w = io.SeekCurrent
	case SeekEnd:
		w = io.SeekEnd
	default:
		return 0, fmt.Errorf("blockdev: invalid whence %d", whence)
	}
	return d.f.Seek(offset, w)
}

func (d *FileDevice) Write(buf []byte) (int, error) {
	if d.f == nil {
		return 0, ErrNotOpen
	}
	if err := CheckAligned(len(buf), int(d.IOUnitSize)); err != nil {
		return 0, err
	}
	n, err := d.f.Write(buf)
	if err != nil {
		return n, err
	}
	d.stats.WriteCount++
	metrics.RecordDeviceOp("write")
	if d.Latency {
		time.Sleep(time.Duration(d.WriteLatMs) * time.Millisecond)
	} else if err := d.f.Sync(); err != nil {
		return n, err
	}
	return n, nil
}

func (d *FileDevice) Read(buf []byte) (int, error) {
	if d.f == nil {
		return 0, ErrNotOpen
	}
	if err := CheckAligned(len(buf), int(d.IOUnitSize)); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(d.f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return n, err
	}
	d.stats.ReadCount++
	metrics.RecordDeviceOp("read")
	if d.Latency {
		time.Sleep(time.Duration(d.ReadLatMs) * time.Millisecond)
	}
	return n, nil
}

func (d *FileDevice) Ioctl(cmd uint32, arg []byte) error {
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

func (d *FileDevice) Reset() error {
	if _, err := d.Seek(0, SeekSet); err != nil {
		return err
	}
	zeros := make([]byte, d.LayoutSize)
	_, err := d.Write(zeros)
	return err
}

func (d *FileDevice) Flush() error {
	if d.f == nil {
		return ErrNotOpen
	}
	return d.f.Sync()
}

func (d *FileDevice) FlushRange(_, _ int64) error { return d.Flush() }
