package layout

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// DirEntryHeaderSize is the fixed portion of a directory entry preceding
// its variable-length name (inode + rec_len + name_len + file_type).
const DirEntryHeaderSize = 8

// DirEntry is one directory entry record: inode number, record length,
// name length, file type, and up to NameLen bytes of name. On disk the name
// occupies only NameLen bytes (not stored with trailing padding); rec_len
// covers the header, the name, and any alignment padding up to the next
// DirPad boundary, with the last entry in a block inflated to run to the
// block's end.
type DirEntry struct {
	Inode    uint32
	RecLen   uint16
	NameLen  uint8
	FileType uint8
	Name     string
}

// upAlign rounds n up to the next multiple of align.
func upAlign(n, align int) int {
	return (n + align - 1) / align * align
}

// EncodedLen returns the minimum rec_len this entry needs: header plus name,
// rounded up to a DirPad boundary.
func (e DirEntry) EncodedLen() uint16 {
	return uint16(upAlign(DirEntryHeaderSize+len(e.Name), DirPad))
}

// NewDirEntry builds an entry with RecLen set to its minimum encoded length;
// callers inflating the last entry of a block must set RecLen explicitly
// afterward.
func NewDirEntry(name string, ino uint32, fileType uint8) DirEntry {
	if len(name) > NameLen {
		panic(fmt.Sprintf("layout: directory entry name %q exceeds %d bytes", name, NameLen))
	}
	e := DirEntry{Inode: ino, NameLen: uint8(len(name)), FileType: fileType, Name: name}
	e.RecLen = e.EncodedLen()
	return e
}

// EncodeDirEntry writes e into buf (which must be at least int(e.RecLen)
// bytes) in the on-disk format: u32 inode, u16 rec_len, u8 name_len,
// u8 file_type, followed by the name bytes; any remaining bytes up to
// rec_len are left as padding (bytes beyond the name are never interpreted).
func EncodeDirEntry(buf []byte, e DirEntry) {
	binary.LittleEndian.PutUint32(buf[0:4], e.Inode)
	binary.LittleEndian.PutUint16(buf[4:6], e.RecLen)
	buf[6] = e.NameLen
	buf[7] = e.FileType
	copy(buf[8:8+len(e.Name)], e.Name)
}

// DecodeDirEntry reads one directory entry out of buf starting at offset 0.
// buf must contain at least DirEntryHeaderSize bytes; the name is read using
// the decoded NameLen, so buf must also contain name_len further bytes.
func DecodeDirEntry(buf []byte) DirEntry {
	var e DirEntry
	e.Inode = binary.LittleEndian.Uint32(buf[0:4])
	e.RecLen = binary.LittleEndian.Uint16(buf[4:6])
	e.NameLen = buf[6]
	e.FileType = buf[7]
	nameEnd := 8 + int(e.NameLen)
	e.Name = string(bytes.TrimRight(buf[8:nameEnd], "\x00"))
	return e
}

// IsFree reports whether this on-disk slot is unoccupied: a zero inode
// number marks a deleted or never-used entry, distinct from rec_len, which
// may legitimately span free space following a live entry.
func (e DirEntry) IsFree() bool { return e.Inode == 0 }
