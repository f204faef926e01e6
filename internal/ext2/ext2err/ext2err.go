// Package ext2err defines the sentinel error kinds the engine returns, so
// that the fuse adapter (internal/fuseadapter) can translate them to errno
// values in one place rather than scattering type switches through the
// inode and directory engines.
package ext2err

import "errors"

var (
	// NotFound means a name or inode number has no corresponding entry.
	NotFound = errors.New("ext2: not found")
	// Exists means a create/rename target name is already occupied.
	Exists = errors.New("ext2: already exists")
	// NotDirectory means an operation requiring a directory inode was
	// given something else.
	NotDirectory = errors.New("ext2: not a directory")
	// IsDirectory means an operation requiring a non-directory inode was
	// given a directory.
	IsDirectory = errors.New("ext2: is a directory")
	// NotEmpty means Rmdir was called on a directory with entries other
	// than "." and "..".
	NotEmpty = errors.New("ext2: directory not empty")
	// NoSpace means the block or inode bitmap has no free object.
	NoSpace = errors.New("ext2: no space left on device")
	// InvalidArgument means a request's parameters are structurally
	// invalid (bad offset, empty name, name too long, ...).
	InvalidArgument = errors.New("ext2: invalid argument")
	// Corrupt means on-disk structures failed an internal consistency
	// check (bad magic, truncated record, out-of-range pointer).
	Corrupt = errors.New("ext2: corrupt filesystem")
)
