// Package fuseadapter is the host adapter (C8): a thin
// fuseutil.FileSystem implementation that translates jacobsa/fuse's
// fuseops callbacks into calls on the fs.Volume facade (C7), the way
// distri's cmd/distri/fuse.go translates squashfs.Reader calls and
// gcsfuse's fs/fs.go translates inode.DirInode/FileInode calls. It carries
// no ext2 semantics of its own: every method's body is inode-ID
// translation, argument marshaling, a single Volume call, and errno
// translation.
package fuseadapter

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/chiro2001/ext2fuse/internal/ext2/ext2err"
	"github.com/chiro2001/ext2fuse/internal/ext2/fs"
	"github.com/chiro2001/ext2fuse/internal/ext2/layout"
	"github.com/chiro2001/ext2fuse/internal/logger"
	"github.com/chiro2001/ext2fuse/internal/metrics"
)

// FileSystem adapts an fs.Volume to fuseutil.FileSystem. Embedding
// NotImplementedFileSystem supplies defaults (e.g. for xattr and fallocate
// callbacks) for the
// handful of callbacks the VFS-shaped surface doesn't need to customize,
// in the idiom of jacobsa/fuse's own samples/memfs and distri's fuseFS.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	vol *fs.Volume

	mu          sync.Mutex
	nextHandle  fuseops.HandleID
	dirHandles  map[fuseops.HandleID][]layout.DirEntry
	fileHandles map[fuseops.HandleID]uint32 // handle -> ext2 inode number
}

// New wraps vol in a FileSystem ready to be passed to
// fuseutil.NewFileSystemServer.
func New(vol *fs.Volume) *FileSystem {
	return &FileSystem{
		vol:         vol,
		dirHandles:  make(map[fuseops.HandleID][]layout.DirEntry),
		fileHandles: make(map[fuseops.HandleID]uint32),
	}
}

// toExt2 maps a fuse-visible inode ID onto the underlying ext2 inode
// number: the host's sentinel root (fuseops.RootInodeID == 1) maps to the
// ext2 root inode (2, layout.RootIno); every other ID is the ext2 inode
// number directly, since this engine never allocates inode 1 itself
// (SPEC_FULL.md §6's inode-number-remapping rule).
func toExt2(id fuseops.InodeID) uint32 {
	if id == fuseops.RootInodeID {
		return layout.RootIno
	}
	return uint32(id)
}

// toFuse is toExt2's inverse.
func toFuse(ino uint32) fuseops.InodeID {
	if ino == layout.RootIno {
		return fuseops.RootInodeID
	}
	return fuseops.InodeID(ino)
}

// errno translates an ext2err sentinel (or a raw blockdev/layout error) to
// the errno value jacobsa/fuse expects back from a FileSystem method,
// mirroring gcsfuse's single errno-translation chokepoint at the VFS
// boundary (SPEC_FULL.md §7).
func errno(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ext2err.NotFound):
		return fuse.ENOENT
	case errors.Is(err, ext2err.Exists):
		return fuse.EEXIST
	case errors.Is(err, ext2err.NotDirectory):
		return fuse.ENOTDIR
	case errors.Is(err, ext2err.IsDirectory):
		return syscall.EISDIR
	case errors.Is(err, ext2err.NotEmpty):
		return fuse.ENOTEMPTY
	case errors.Is(err, ext2err.NoSpace):
		return syscall.ENOSPC
	case errors.Is(err, ext2err.InvalidArgument):
		return syscall.EINVAL
	default:
		return fuse.EIO
	}
}

func modeToFuse(in layout.Inode) os.FileMode {
	perm := os.FileMode(in.Perm())
	switch in.FileModeKind() {
	case fs.ModeDir >> 12:
		return perm | os.ModeDir
	case fs.ModeSymlink >> 12:
		return perm | os.ModeSymlink
	case fs.ModeChrdev >> 12:
		return perm | os.ModeCharDevice | os.ModeDevice
	case fs.ModeBlkdev >> 12:
		return perm | os.ModeDevice
	case fs.ModeFIFO >> 12:
		return perm | os.ModeNamedPipe
	case fs.ModeSocket >> 12:
		return perm | os.ModeSocket
	default:
		return perm
	}
}

func attrsOf(in layout.Inode) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  uint64(in.Size),
		Nlink: uint32(in.LinksCount),
		Mode:  modeToFuse(in),
		Atime: time.Unix(int64(in.Atime), 0),
		Mtime: time.Unix(int64(in.Mtime), 0),
		Ctime: time.Unix(int64(in.Ctime), 0),
		Uid:   uint32(in.Uid),
		Gid:   uint32(in.Gid),
	}
}

func direntType(ft uint8) fuseutil.DirentType {
	switch ft {
	case layout.FtDir:
		return fuseutil.DT_Directory
	case layout.FtRegFile:
		return fuseutil.DT_File
	case layout.FtSymlink:
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_Unknown
	}
}

func (fsys *FileSystem) allocHandle() fuseops.HandleID {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	fsys.nextHandle++
	return fsys.nextHandle
}

func (fsys *FileSystem) StatFS(ctx context.Context, op *fuseops.StatFSOp) (err error) {
	defer func() { metrics.RecordFSOp("statfs", err) }()
	st := fsys.vol.Stat()
	op.BlockSize = fsys.vol.BlockSize()
	op.Blocks = uint64(st.BlocksTotal)
	op.BlocksFree = uint64(st.BlocksFree)
	op.BlocksAvailable = uint64(st.BlocksFree)
	op.Inodes = uint64(st.InodesTotal)
	op.InodesFree = uint64(st.InodesFree)
	op.IoSize = fsys.vol.BlockSize()
	return nil
}

func (fsys *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) (err error) {
	defer func() { metrics.RecordFSOp("lookup", err) }()
	ino, in, err := fsys.vol.Lookup(toExt2(op.Parent), op.Name)
	if err != nil {
		return errno(err)
	}
	op.Entry.Child = toFuse(ino)
	op.Entry.Attributes = attrsOf(in)
	return nil
}

func (fsys *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) (err error) {
	defer func() { metrics.RecordFSOp("getattr", err) }()
	in, err := fsys.vol.GetAttr(toExt2(op.Inode))
	if err != nil {
		return errno(err)
	}
	op.Attributes = attrsOf(in)
	return nil
}

func (fsys *FileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) (err error) {
	defer func() { metrics.RecordFSOp("setattr", err) }()
	var a fs.Attr
	if op.Size != nil {
		v := uint32(*op.Size)
		a.Size = &v
	}
	if op.Mode != nil {
		// fs.Volume.SetAttr overwrites Mode wholesale, so the file-type
		// nibble has to be preserved here: chmod only ever changes the
		// permission bits.
		cur, err := fsys.vol.GetAttr(toExt2(op.Inode))
		if err != nil {
			return errno(err)
		}
		v := cur.FileModeKind()<<12 | uint16(op.Mode.Perm())
		a.Mode = &v
	}
	if op.Atime != nil {
		v := uint32(op.Atime.Unix())
		a.Atime = &v
	}
	if op.Mtime != nil {
		v := uint32(op.Mtime.Unix())
		a.Mtime = &v
	}
	in, err := fsys.vol.SetAttr(toExt2(op.Inode), a)
	if err != nil {
		return errno(err)
	}
	op.Attributes = attrsOf(in)
	return nil
}

func (fsys *FileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) (err error) {
	defer func() { metrics.RecordFSOp("mkdir", err) }()
	ino, in, err := fsys.vol.MkDir(toExt2(op.Parent), op.Name, uint16(op.Mode.Perm()))
	if err != nil {
		return errno(err)
	}
	op.Entry.Child = toFuse(ino)
	op.Entry.Attributes = attrsOf(in)
	return nil
}

func (fsys *FileSystem) MkNode(ctx context.Context, op *fuseops.MkNodeOp) (err error) {
	defer func() { metrics.RecordFSOp("mknod", err) }()
	ino, in, err := fsys.vol.MkNod(toExt2(op.Parent), op.Name, modeFromFuse(op.Mode))
	if err != nil {
		return errno(err)
	}
	op.Entry.Child = toFuse(ino)
	op.Entry.Attributes = attrsOf(in)
	return nil
}

func (fsys *FileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) (err error) {
	defer func() { metrics.RecordFSOp("create", err) }()
	ino, in, err := fsys.vol.MkNod(toExt2(op.Parent), op.Name, fs.ModeRegular|uint16(op.Mode.Perm()))
	if err != nil {
		return errno(err)
	}
	op.Entry.Child = toFuse(ino)
	op.Entry.Attributes = attrsOf(in)
	op.Handle = fsys.allocHandle()
	fsys.mu.Lock()
	fsys.fileHandles[op.Handle] = ino
	fsys.mu.Unlock()
	return nil
}

func (fsys *FileSystem) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) (err error) {
	defer func() { metrics.RecordFSOp("symlink", err) }()
	ino, in, err := fsys.vol.Symlink(toExt2(op.Parent), op.Name, op.Target)
	if err != nil {
		return errno(err)
	}
	op.Entry.Child = toFuse(ino)
	op.Entry.Attributes = attrsOf(in)
	return nil
}

// modeFromFuse maps an os.FileMode's type bits onto the on-disk S_IFMT
// nibble mknod expects, for the device/FIFO/socket kinds CreateFile and
// MkDir never need to handle themselves.
func modeFromFuse(m os.FileMode) uint16 {
	perm := uint16(m.Perm())
	switch {
	case m&os.ModeDir != 0:
		return fs.ModeDir | perm
	case m&os.ModeSymlink != 0:
		return fs.ModeSymlink | perm
	case m&os.ModeNamedPipe != 0:
		return fs.ModeFIFO | perm
	case m&os.ModeSocket != 0:
		return fs.ModeSocket | perm
	case m&os.ModeCharDevice != 0:
		return fs.ModeChrdev | perm
	case m&os.ModeDevice != 0:
		return fs.ModeBlkdev | perm
	default:
		return fs.ModeRegular | perm
	}
}

func (fsys *FileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) (err error) {
	defer func() { metrics.RecordFSOp("rmdir", err) }()
	return errno(fsys.vol.Rmdir(toExt2(op.Parent), op.Name))
}

func (fsys *FileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) (err error) {
	defer func() { metrics.RecordFSOp("unlink", err) }()
	return errno(fsys.vol.Unlink(toExt2(op.Parent), op.Name))
}

func (fsys *FileSystem) Rename(ctx context.Context, op *fuseops.RenameOp) (err error) {
	defer func() { metrics.RecordFSOp("rename", err) }()
	return errno(fsys.vol.Rename(toExt2(op.OldParent), op.OldName, toExt2(op.NewParent), op.NewName))
}

func (fsys *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) (err error) {
	defer func() { metrics.RecordFSOp("opendir", err) }()
	entries, err := fsys.vol.ReadDir(toExt2(op.Inode))
	if err != nil {
		return errno(err)
	}
	op.Handle = fsys.allocHandle()
	fsys.mu.Lock()
	fsys.dirHandles[op.Handle] = entries
	fsys.mu.Unlock()
	return nil
}

func (fsys *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) (err error) {
	defer func() { metrics.RecordFSOp("readdir", err) }()
	fsys.mu.Lock()
	entries := fsys.dirHandles[op.Handle]
	fsys.mu.Unlock()

	if int(op.Offset) > len(entries) {
		return fuse.EIO
	}
	for i := int(op.Offset); i < len(entries); i++ {
		e := entries[i]
		d := fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  toFuse(e.Inode),
			Name:   e.Name,
			Type:   direntType(e.FileType),
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], d)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fsys *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) (err error) {
	fsys.mu.Lock()
	delete(fsys.dirHandles, op.Handle)
	fsys.mu.Unlock()
	return nil
}

func (fsys *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) (err error) {
	defer func() { metrics.RecordFSOp("open", err) }()
	op.Handle = fsys.allocHandle()
	fsys.mu.Lock()
	fsys.fileHandles[op.Handle] = toExt2(op.Inode)
	fsys.mu.Unlock()
	return nil
}

func (fsys *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) (err error) {
	defer func() { metrics.RecordFSOp("read", err) }()
	n, err := fsys.vol.ReadAt(toExt2(op.Inode), op.Dst, op.Offset)
	op.BytesRead = n
	if err != nil {
		return errno(err)
	}
	return nil
}

func (fsys *FileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) (err error) {
	defer func() { metrics.RecordFSOp("write", err) }()
	_, err = fsys.vol.WriteAt(toExt2(op.Inode), op.Data, op.Offset)
	return errno(err)
}

func (fsys *FileSystem) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) (err error) {
	defer func() { metrics.RecordFSOp("readlink", err) }()
	target, err := fsys.vol.ReadSymlink(toExt2(op.Inode))
	if err != nil {
		return errno(err)
	}
	op.Target = target
	return nil
}

func (fsys *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) (err error) {
	fsys.mu.Lock()
	delete(fsys.fileHandles, op.Handle)
	fsys.mu.Unlock()
	return nil
}

func (fsys *FileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) (err error) {
	defer func() { metrics.RecordFSOp("fsync", err) }()
	return errno(fsys.vol.Flush())
}

func (fsys *FileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) (err error) {
	defer func() { metrics.RecordFSOp("flush", err) }()
	return errno(fsys.vol.Flush())
}

func (fsys *FileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	return nil
}

func (fsys *FileSystem) Destroy() {
	if err := fsys.vol.Unmount(); err != nil {
		logger.Errorf("fuseadapter: unmount on destroy: %v", err)
	}
}
