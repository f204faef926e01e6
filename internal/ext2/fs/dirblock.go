package fs

import "github.com/chiro2001/ext2fuse/internal/ext2/layout"

// newDirDataBlock formats a freshly allocated directory data block holding
// only "." and "..", the last entry inflated to the block's end per
// SPEC_FULL.md §4.6's directory-entry formatting rule.
func newDirDataBlock(blockSize uint32, selfIno, parentIno uint32) []byte {
	buf := make([]byte, blockSize)
	dot := layout.NewDirEntry(".", selfIno, layout.FtDir)
	dotdot := layout.NewDirEntry("..", parentIno, layout.FtDir)
	dotdot.RecLen = uint16(blockSize) - dot.RecLen
	layout.EncodeDirEntry(buf, dot)
	layout.EncodeDirEntry(buf[dot.RecLen:], dotdot)
	return buf
}

// encodeInlineTarget packs a symlink target (at most inlineSymlinkCap
// bytes) across an inode's i_block array, the way ext2 stores "fast
// symlinks" inline when the target is short enough to skip a data block
// entirely.
func encodeInlineTarget(target string) [layout.NBlocks]uint32 {
	var raw [inlineSymlinkCap]byte
	copy(raw[:], target)
	var out [layout.NBlocks]uint32
	for i := range out {
		out[i] = uint32(raw[i*4]) | uint32(raw[i*4+1])<<8 | uint32(raw[i*4+2])<<16 | uint32(raw[i*4+3])<<24
	}
	return out
}

// decodeInlineTarget is encodeInlineTarget's inverse, trimmed to size
// bytes (the inode's i_size, which for a symlink is the target's length).
func decodeInlineTarget(block [layout.NBlocks]uint32, size uint32) string {
	var raw [inlineSymlinkCap]byte
	for i, v := range block {
		raw[i*4] = byte(v)
		raw[i*4+1] = byte(v >> 8)
		raw[i*4+2] = byte(v >> 16)
		raw[i*4+3] = byte(v >> 24)
	}
	if int(size) > len(raw) {
		size = uint32(len(raw))
	}
	return string(raw[:size])
}
