// Package layout defines the on-disk ext2 metadata structures — superblock,
// group descriptor, inode record, and directory entry — and their
// little-endian codecs. Field layout and defaults are grounded on
// rfs_lib::desc.rs; the struct-with-binary.Read/Write codec idiom is
// grounded on distri's cmd/minitrd/blkid.go.
package layout

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/chiro2001/ext2fuse/internal/clock"
	"github.com/google/uuid"
)

// Special inode numbers.
const (
	BadIno          = 1
	RootIno         = 2
	GoodOldFirstIno = 11
)

const (
	SuperMagic       = 0xEF53
	NameLen          = 255
	LabelLen         = 16
	DirPad           = 4
	GoodOldInodeSize = 128
)

// Constants relative to the data blocks.
const (
	NDirBlocks = 12
	IndBlock   = NDirBlocks
	DIndBlock  = IndBlock + 1
	TIndBlock  = DIndBlock + 1
	NBlocks    = TIndBlock + 1
)

// Directory entry file types (low 3 bits of Ext2DirEntry.FileType).
const (
	FtUnknown = 0
	FtRegFile = 1
	FtDir     = 2
	FtChrdev  = 3
	FtBlkdev  = 4
	FtFifo    = 5
	FtSock    = 6
	FtSymlink = 7
)

// Filesystem states (SuperBlock.State).
const (
	ValidFS = 0x0001
	ErrorFS = 0x0002
)

// Error-handling behaviour (SuperBlock.Errors).
const (
	ErrorsContinue = 1
	ErrorsRO       = 2
	ErrorsPanic    = 3
)

const (
	GoodOldRev  = 0
	DynamicRev  = 1
	CurrentRev  = GoodOldRev
	OsLinux     = 0
)

// Feature flag bits written into a freshly formatted superblock; the
// remaining e2fsprogs-defined bits are preserved in the struct for on-disk
// fidelity. Mount does not test any feature bit (see SPEC_FULL.md §3).
const (
	FeatureIncompatFiletype = 0x0002
	FeatureRoCompatSparse   = 0x0001
	FeatureRoCompatLarge    = 0x0002
)

// GroupDescriptor is the sole block group's descriptor record (this engine
// only ever formats or mounts single-group volumes, per SPEC_FULL.md §3).
type GroupDescriptor struct {
	BlockBitmap        uint32
	InodeBitmap        uint32
	InodeTable         uint32
	FreeBlocksCount    uint16
	FreeInodesCount    uint16
	UsedDirsCount      uint16
	Flags              uint16
	ExcludeBitmapLo    uint32
	BlockBitmapCsumLo  uint16
	InodeBitmapCsumLo  uint16
	ItableUnused       uint16
	Checksum           uint16
}

// GroupDescriptorSize is the fixed on-disk size of GroupDescriptor.
const GroupDescriptorSize = 32

func DefaultGroupDescriptor() GroupDescriptor {
	return GroupDescriptor{
		BlockBitmap:     3,
		InodeBitmap:     4,
		InodeTable:      5,
		FreeBlocksCount: 0xf6e,
		FreeInodesCount: 0x3f5,
		UsedDirsCount:   2,
		Flags:           4,
	}
}

// ReadGroupDescriptor decodes a GroupDescriptor from r at the current
// offset.
func ReadGroupDescriptor(r io.Reader) (GroupDescriptor, error) {
	var gd GroupDescriptor
	err := binary.Read(r, binary.LittleEndian, &gd)
	return gd, err
}

// WriteGroupDescriptor encodes gd to w at the current offset.
func WriteGroupDescriptor(w io.Writer, gd GroupDescriptor) error {
	return binary.Write(w, binary.LittleEndian, &gd)
}

// Inode is the fixed-size on-disk inode record (128 bytes, GoodOldInodeSize,
// matching Ext2INode in rfs_lib::desc.rs).
type Inode struct {
	Mode         uint16
	Uid          uint16
	Size         uint32
	Atime        uint32
	Ctime        uint32
	Mtime        uint32
	Dtime        uint32
	Gid          uint16
	LinksCount   uint16
	Blocks       uint32
	Flags        uint32
	Version      uint32
	Block        [NBlocks]uint32
	Generation   uint32
	FileACL      uint32
	SizeHigh     uint32
	Faddr        uint32
	BlocksHi     uint16
	FileACLHigh  uint16
	UidHigh      uint16
	GidHigh      uint16
	ChecksumLo   uint16
	Reserved     uint16
}

// InodeSize is the fixed on-disk size of Inode; must equal GoodOldInodeSize.
const InodeSize = 128

// DefaultInode returns a zeroed inode stamped with the current time via clk.
func DefaultInode(clk clock.Clock) Inode {
	now := clock.Unix32(clk.Now())
	return Inode{Atime: now, Ctime: now, Mtime: now}
}

// FileModeKind extracts the high 4 bits of Mode (the Unix S_IFxxx kind).
func (i Inode) FileModeKind() uint16 { return i.Mode >> 12 }

// Perm extracts the low 12 bits of Mode (permission + set-uid/gid/sticky
// bits).
func (i Inode) Perm() uint16 { return i.Mode & 0xFFF }

func ReadInode(r io.Reader) (Inode, error) {
	var in Inode
	err := binary.Read(r, binary.LittleEndian, &in)
	return in, err
}

func WriteInode(w io.Writer, in Inode) error {
	return binary.Write(w, binary.LittleEndian, &in)
}

// SuperBlock mirrors the full e2fsprogs-compatible on-disk layout (about
// 100 fields across 1024 bytes), matching Ext2SuperBlock in rfs_lib::desc.rs
// field-for-field so that volumes this engine writes can in principle be
// inspected by stock e2fsprogs tooling. Only a subset of these fields is
// actively read or maintained by the mount/format paths; see SPEC_FULL.md §3
// for which.
type SuperBlock struct {
	InodesCount       uint32
	BlocksCount       uint32
	RBlocksCount      uint32
	FreeBlocksCount   uint32
	FreeInodesCount   uint32
	FirstDataBlock    uint32
	LogBlockSize      uint32
	LogClusterSize    uint32
	BlocksPerGroup    uint32
	ClustersPerGroup  uint32
	InodesPerGroup    uint32
	Mtime             uint32
	Wtime             uint32
	MntCount          uint16
	MaxMntCount       int16
	Magic             uint16
	State             uint16
	Errors            uint16
	MinorRevLevel     uint16
	Lastcheck         uint32
	Checkinterval     uint32
	CreatorOS         uint32
	RevLevel          uint32
	DefResuid         uint16
	DefResgid         uint16
	FirstIno          uint32
	InodeSize         uint16
	BlockGroupNr      uint16
	FeatureCompat     uint32
	FeatureIncompat   uint32
	FeatureRoCompat   uint32
	UUID              [16]byte
	VolumeName        [LabelLen]byte
	LastMounted       [64]byte
	AlgorithmUsageMap uint32
	PreallocBlocks    uint8
	PreallocDirBlocks uint8
	ReservedGdtBlocks uint16
	JournalUUID       [16]byte
	JournalInum       uint32
	JournalDev        uint32
	LastOrphan        uint32
	HashSeed          [4]uint32
	DefHashVersion    uint8
	JnlBackupType     uint8
	DescSize          uint16
	DefaultMountOpts  uint32
	FirstMetaBg       uint32
	MkfsTime          uint32
	JnlBlocks         [17]uint32
	BlocksCountHi     uint32
	RBlocksCountHi    uint32
	FreeBlocksHi      uint32
	MinExtraIsize     uint16
	WantExtraIsize    uint16
	Flags             uint32
	RaidStride        uint16
	MmpUpdateInterval uint16
	MmpBlock          uint64
	RaidStripeWidth   uint32
	LogGroupsPerFlex  uint8
	ChecksumType      uint8
	EncryptionLevel   uint8
	ReservedPad       uint8
	KbytesWritten     uint64
	SnapshotInum      uint32
	SnapshotID        uint32
	SnapshotRBlocks   uint64
	SnapshotList      uint32
	ErrorCount        uint32
	FirstErrorTime    uint32
	FirstErrorIno     uint32
	FirstErrorBlock   uint64
	FirstErrorFunc    [32]byte
	FirstErrorLine    uint32
	LastErrorTime     uint32
	LastErrorIno      uint32
	LastErrorLine     uint32
	LastErrorBlock    uint64
	LastErrorFunc     [32]byte
	MountOpts         [64]byte
	UsrQuotaInum      uint32
	GrpQuotaInum      uint32
	OverheadClusters  uint32
	BackupBgs         [2]uint32
	EncryptAlgos      [4]byte
	EncryptPwSalt     [16]byte
	LpfIno            uint32
	PrjQuotaInum      uint32
	ChecksumSeed      uint32
	WtimeHi           uint8
	MtimeHi           uint8
	MkfsTimeHi        uint8
	LastcheckHi       uint8
	FirstErrorTimeHi  uint8
	LastErrorTimeHi   uint8
	FirstErrorErrcode uint8
	LastErrorErrcode  uint8
	Encoding          uint16
	EncodingFlags     uint16
	Reserved          [95]uint32
	Checksum          uint32
}

// SuperBlockSize is the fixed on-disk size of SuperBlock (1024 bytes, one
// block on a 1KiB-block volume).
const SuperBlockSize = 1024

// MagicMatched reports whether Magic carries the ext2 superblock signature.
func (sb SuperBlock) MagicMatched() bool { return sb.Magic == SuperMagic }

// BlockSizeKiB returns the block size in KiB, i.e. 1 << LogBlockSize.
func (sb SuperBlock) BlockSizeKiB() uint32 { return 1 << sb.LogBlockSize }

// BlockSize returns the block size in bytes.
func (sb SuperBlock) BlockSize() uint32 { return sb.BlockSizeKiB() * 1024 }

// LogBlockSizeFor maps a byte block size onto the superblock's
// log-relative-to-1KiB encoding, panicking on an unsupported size (mirrors
// the teacher's From<FsLayoutArgs> conversion, which panics identically).
func LogBlockSizeFor(blockSize uint32) uint32 {
	switch blockSize {
	case 1024:
		return 0
	case 2048:
		return 1
	case 4096:
		return 2
	default:
		panic(fmt.Sprintf("layout: unsupported block size %d", blockSize))
	}
}

// NewSuperBlock builds a superblock for a freshly formatted volume with the
// given geometry, following Ext2SuperBlock::new / Default in rfs_lib.
func NewSuperBlock(clk clock.Clock, inodesCount, blocksCount, firstDataBlock, logBlockSize uint32) SuperBlock {
	now := clock.Unix32(clk.Now())
	sb := SuperBlock{
		InodesCount:       inodesCount,
		BlocksCount:       blocksCount,
		RBlocksCount:      204,
		FreeBlocksCount:   3806,
		FreeInodesCount:   1013,
		FirstDataBlock:    firstDataBlock,
		LogBlockSize:      logBlockSize,
		LogClusterSize:    logBlockSize,
		BlocksPerGroup:    8192,
		ClustersPerGroup:  8192,
		InodesPerGroup:    inodesCount,
		Wtime:             now,
		MaxMntCount:       -1,
		Magic:             SuperMagic,
		State:             ValidFS,
		Errors:            ErrorsContinue,
		Lastcheck:         now,
		CreatorOS:         OsLinux,
		RevLevel:          DynamicRev,
		FirstIno:          GoodOldFirstIno,
		InodeSize:         InodeSize,
		FeatureCompat:     56,
		FeatureIncompat:   FeatureIncompatFiletype,
		FeatureRoCompat:   3,
		UUID:              uuidBytes(),
		ReservedGdtBlocks: 15,
		HashSeed:          [4]uint32{3087838277, 2185897224, 2377460875, 2234914617},
		DefHashVersion:    1,
		DefaultMountOpts:  12,
		MkfsTime:          now,
		MinExtraIsize:     32,
		WantExtraIsize:    32,
		Flags:             1,
		OverheadClusters:  276,
	}
	return sb
}

func uuidBytes() [16]byte {
	var out [16]byte
	u := uuid.New()
	copy(out[:], u[:])
	return out
}

func ReadSuperBlock(r io.Reader) (SuperBlock, error) {
	var sb SuperBlock
	err := binary.Read(r, binary.LittleEndian, &sb)
	return sb, err
}

func WriteSuperBlock(w io.Writer, sb SuperBlock) error {
	return binary.Write(w, binary.LittleEndian, &sb)
}

// nowStamp is a small helper kept for callers that only have a time.Time,
// not a clock.Clock, at hand (e.g. tests constructing fixtures directly).
func nowStamp(t time.Time) uint32 { return clock.Unix32(t) }
