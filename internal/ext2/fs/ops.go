package fs

import (
	"fmt"

	"github.com/chiro2001/ext2fuse/internal/clock"
	"github.com/chiro2001/ext2fuse/internal/ext2/ext2err"
	"github.com/chiro2001/ext2fuse/internal/ext2/layout"
	"github.com/chiro2001/ext2fuse/internal/ext2/resolve"
)

// fileTypeForMode maps an inode mode's S_IFMT bits onto the directory-entry
// file-type byte.
func fileTypeForMode(mode uint16) uint8 {
	switch mode &^ 0xFFF {
	case ModeDir:
		return layout.FtDir
	case ModeRegular:
		return layout.FtRegFile
	case ModeSymlink:
		return layout.FtSymlink
	case ModeChrdev:
		return layout.FtChrdev
	case ModeBlkdev:
		return layout.FtBlkdev
	case ModeFIFO:
		return layout.FtFifo
	case ModeSocket:
		return layout.FtSock
	default:
		return layout.FtUnknown
	}
}

func blocksForSize(size, blockSize uint32) uint64 {
	if size == 0 {
		return 0
	}
	return (uint64(size) + uint64(blockSize) - 1) / uint64(blockSize)
}

// Lookup scans parentIno's directory entries for name.
func (v *Volume) Lookup(parentIno uint32, name string) (uint32, layout.Inode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	parent, err := v.inodes.Get(parentIno)
	if err != nil {
		return 0, layout.Inode{}, err
	}
	entry, ok, err := v.dirs.Find(&parent, name)
	if err != nil {
		return 0, layout.Inode{}, err
	}
	if !ok {
		return 0, layout.Inode{}, fmt.Errorf("%w: %q", ext2err.NotFound, name)
	}
	child, err := v.inodes.Get(entry.Inode)
	return entry.Inode, child, err
}

// GetAttr returns ino's current inode record.
func (v *Volume) GetAttr(ino uint32) (layout.Inode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.inodes.Get(ino)
}

// Attr carries the optional fields SetAttr may update; a nil field is left
// unchanged.
type Attr struct {
	Size  *uint32
	Mode  *uint16
	UID   *uint16
	GID   *uint16
	Atime *uint32
	Mtime *uint32
}

// SetAttr applies a partial attribute update to ino.
func (v *Volume) SetAttr(ino uint32, a Attr) (layout.Inode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	in, err := v.inodes.Get(ino)
	if err != nil {
		return layout.Inode{}, err
	}
	if a.Size != nil {
		in.Size = *a.Size
	}
	if a.Mode != nil {
		in.Mode = *a.Mode
	}
	if a.UID != nil {
		in.Uid = *a.UID
	}
	if a.GID != nil {
		in.Gid = *a.GID
	}
	if a.Atime != nil {
		in.Atime = *a.Atime
	}
	if a.Mtime != nil {
		in.Mtime = *a.Mtime
	}
	in.Ctime = clock.Unix32(v.clk.Now())
	if err := v.inodes.Set(ino, in); err != nil {
		return layout.Inode{}, err
	}
	return in, nil
}

// createNode is the shared body of MkNod/MkDir/Symlink: MakeNode per
// SPEC_FULL.md §4.6, minus the root special case (handled by formatNative).
func (v *Volume) createNode(parentIno uint32, name string, mode uint16, target string) (uint32, layout.Inode, error) {
	if len(name) == 0 || len(name) > layout.NameLen {
		return 0, layout.Inode{}, fmt.Errorf("%w: invalid name length", ext2err.InvalidArgument)
	}
	parent, err := v.inodes.Get(parentIno)
	if err != nil {
		return 0, layout.Inode{}, err
	}
	if parent.FileModeKind() != ModeDir>>12 {
		return 0, layout.Inode{}, fmt.Errorf("%w: parent inode %d", ext2err.NotDirectory, parentIno)
	}
	if _, ok, err := v.dirs.Find(&parent, name); err != nil {
		return 0, layout.Inode{}, err
	} else if ok {
		return 0, layout.Inode{}, fmt.Errorf("%w: %q", ext2err.Exists, name)
	}

	kind := fileTypeForMode(mode)
	ino, err := v.inodeAlloc.Allocate()
	if err != nil {
		return 0, layout.Inode{}, err
	}

	in := layout.DefaultInode(v.clk)
	in.Mode = mode
	in.LinksCount = 1

	switch kind {
	case layout.FtDir:
		block, err := v.blockAlloc.AllocateBlock()
		if err != nil {
			return 0, layout.Inode{}, err
		}
		if err := writeBlockRaw(v.dev, block, v.blockSize, newDirDataBlock(v.blockSize, ino, parentIno)); err != nil {
			return 0, layout.Inode{}, err
		}
		in.Block[0] = block
		in.Size = v.blockSize
		in.Blocks = v.blockSize / 512
		in.LinksCount = 2
	case layout.FtRegFile:
		block, err := v.blockAlloc.AllocateBlock()
		if err != nil {
			return 0, layout.Inode{}, err
		}
		if err := writeBlockRaw(v.dev, block, v.blockSize, make([]byte, v.blockSize)); err != nil {
			return 0, layout.Inode{}, err
		}
		in.Block[0] = block
		in.Blocks = v.blockSize / 512
	case layout.FtSymlink:
		if len(target) > inlineSymlinkCap {
			return 0, layout.Inode{}, fmt.Errorf("%w: symlink target longer than %d bytes", ext2err.InvalidArgument, inlineSymlinkCap)
		}
		in.Block = encodeInlineTarget(target)
		in.Size = uint32(len(target))
	default:
		// Device/FIFO/socket nodes: no content, just the mode bits.
	}

	if err := v.inodes.Set(ino, in); err != nil {
		return 0, layout.Inode{}, err
	}

	if err := v.dirs.Add(&parent, v.blockAlloc, name, ino, kind); err != nil {
		return 0, layout.Inode{}, err
	}
	if kind == layout.FtDir {
		parent.LinksCount++
	}
	parent.Mtime = clock.Unix32(v.clk.Now())
	if err := v.inodes.Set(parentIno, parent); err != nil {
		return 0, layout.Inode{}, err
	}
	return ino, in, nil
}

// MkNod creates a regular file (or device/FIFO/socket node) named name
// under parentIno.
func (v *Volume) MkNod(parentIno uint32, name string, mode uint16) (uint32, layout.Inode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.createNode(parentIno, name, mode, "")
}

// MkDir creates a subdirectory named name under parentIno.
func (v *Volume) MkDir(parentIno uint32, name string, mode uint16) (uint32, layout.Inode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.createNode(parentIno, name, ModeDir|(mode&0xFFF), "")
}

// Symlink creates a symbolic link named name under parentIno whose target
// is stored inline.
func (v *Volume) Symlink(parentIno uint32, name, target string) (uint32, layout.Inode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.createNode(parentIno, name, ModeSymlink|0777, target)
}

// ReadSymlink returns ino's inline target.
func (v *Volume) ReadSymlink(ino uint32) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	in, err := v.inodes.Get(ino)
	if err != nil {
		return "", err
	}
	if in.FileModeKind() != ModeSymlink>>12 {
		return "", fmt.Errorf("%w: inode %d is not a symlink", ext2err.InvalidArgument, ino)
	}
	return decodeInlineTarget(in.Block, in.Size), nil
}

// freeDataBlocks releases every data block reachable from in back to the
// data bitmap. Index blocks themselves (single/double/triple indirect)
// are not reclaimed — see DESIGN.md's note mirroring SPEC_FULL.md §9's
// directory-block-reclamation gap.
func (v *Volume) freeDataBlocks(in *layout.Inode) error {
	numBlocks := blocksForSize(in.Size, v.blockSize)
	if numBlocks == 0 {
		return nil
	}
	resolver := resolve.New(v.dev, v.blockSize)
	var freeErr error
	err := resolver.VisitBlocks(in, 0, nil, func(b uint32, index uint64) (bool, bool) {
		if b != 0 {
			if e := v.blockAlloc.FreeBlock(b); e != nil {
				freeErr = e
				return false, false
			}
		}
		return index+1 < numBlocks, false
	})
	if err != nil {
		return err
	}
	return freeErr
}

// Unlink removes a non-directory entry named name from parentIno.
func (v *Volume) Unlink(parentIno uint32, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	parent, err := v.inodes.Get(parentIno)
	if err != nil {
		return err
	}
	entry, ok, err := v.dirs.Find(&parent, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", ext2err.NotFound, name)
	}
	if entry.FileType == layout.FtDir {
		return fmt.Errorf("%w: %q", ext2err.IsDirectory, name)
	}

	child, err := v.inodes.Get(entry.Inode)
	if err != nil {
		return err
	}
	if entry.FileType != layout.FtSymlink {
		if err := v.freeDataBlocks(&child); err != nil {
			return err
		}
	}
	if err := v.inodeAlloc.Free(entry.Inode); err != nil {
		return err
	}
	if err := v.dirs.Remove(&parent, name); err != nil {
		return err
	}
	parent.Mtime = clock.Unix32(v.clk.Now())
	return v.inodes.Set(parentIno, parent)
}

// Rmdir removes an empty subdirectory named name from parentIno.
func (v *Volume) Rmdir(parentIno uint32, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	parent, err := v.inodes.Get(parentIno)
	if err != nil {
		return err
	}
	entry, ok, err := v.dirs.Find(&parent, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", ext2err.NotFound, name)
	}
	if entry.FileType != layout.FtDir {
		return fmt.Errorf("%w: %q", ext2err.NotDirectory, name)
	}

	child, err := v.inodes.Get(entry.Inode)
	if err != nil {
		return err
	}
	empty, err := v.dirs.IsEmpty(&child)
	if err != nil {
		return err
	}
	if !empty {
		return fmt.Errorf("%w: %q", ext2err.NotEmpty, name)
	}

	if err := v.freeDataBlocks(&child); err != nil {
		return err
	}
	if err := v.inodeAlloc.Free(entry.Inode); err != nil {
		return err
	}
	if err := v.dirs.Remove(&parent, name); err != nil {
		return err
	}
	if parent.LinksCount > 0 {
		parent.LinksCount--
	}
	parent.Mtime = clock.Unix32(v.clk.Now())
	return v.inodes.Set(parentIno, parent)
}

// Rename moves the entry named oldName under oldParentIno to newName under
// newParentIno. The inode number is preserved; no inode is freed.
func (v *Volume) Rename(oldParentIno uint32, oldName string, newParentIno uint32, newName string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	oldParent, err := v.inodes.Get(oldParentIno)
	if err != nil {
		return err
	}
	entry, ok, err := v.dirs.Find(&oldParent, oldName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", ext2err.NotFound, oldName)
	}

	// When renaming within the same directory, newParent must alias
	// oldParent: both Remove and Add mutate the live struct (e.g. Add may
	// grow it to fit the new entry), and those mutations would otherwise
	// be lost by persisting two independent copies.
	newParent := &oldParent
	if newParentIno != oldParentIno {
		np, err := v.inodes.Get(newParentIno)
		if err != nil {
			return err
		}
		newParent = &np
	}
	if _, ok, err := v.dirs.Find(newParent, newName); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %q", ext2err.Exists, newName)
	}

	if err := v.dirs.Remove(&oldParent, oldName); err != nil {
		return err
	}
	if err := v.dirs.Add(newParent, v.blockAlloc, newName, entry.Inode, entry.FileType); err != nil {
		return err
	}

	now := clock.Unix32(v.clk.Now())
	oldParent.Mtime = now
	if err := v.inodes.Set(oldParentIno, oldParent); err != nil {
		return err
	}
	if newParentIno != oldParentIno {
		newParent.Mtime = now
		return v.inodes.Set(newParentIno, *newParent)
	}
	return nil
}

// ReadDir returns every live entry in ino's directory content.
func (v *Volume) ReadDir(ino uint32) ([]layout.DirEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	in, err := v.inodes.Get(ino)
	if err != nil {
		return nil, err
	}
	return v.dirs.ReadAll(&in)
}

// ReadAt reads up to len(p) bytes of ino's content starting at offset,
// which need not be block-aligned.
func (v *Volume) ReadAt(ino uint32, p []byte, offset int64) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if offset < 0 {
		return 0, fmt.Errorf("%w: negative offset", ext2err.InvalidArgument)
	}
	in, err := v.inodes.Get(ino)
	if err != nil {
		return 0, err
	}
	return v.files.ReadAt(&in, p, offset)
}

// WriteAt writes len(p) bytes of ino's content starting at offset, growing
// the file and persisting its inode record.
func (v *Volume) WriteAt(ino uint32, p []byte, offset int64) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if offset < 0 {
		return 0, fmt.Errorf("%w: negative offset", ext2err.InvalidArgument)
	}
	if v.readOnly {
		return 0, fmt.Errorf("%w: volume is read-only", ext2err.InvalidArgument)
	}
	in, err := v.inodes.Get(ino)
	if err != nil {
		return 0, err
	}
	n, err := v.files.WriteAt(&in, v.blockAlloc, p, offset)
	if err != nil {
		return n, err
	}
	in.Mtime = clock.Unix32(v.clk.Now())
	if err := v.inodes.Set(ino, in); err != nil {
		return n, err
	}
	return n, nil
}
