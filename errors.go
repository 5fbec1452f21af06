package xv6fs

import (
	"errors"
	"fmt"
)

// Package-specific error variables, returned to callers and checkable with
// errors.Is(). Corruption-class failures are not in this list: they panic,
// see corrupt() below.
var (
	// ErrNotFound is returned when a path or directory entry lookup misses.
	ErrNotFound = errors.New("xv6fs: no such file or directory")

	// ErrExist is returned by dirlink when the name is already present.
	ErrExist = errors.New("xv6fs: name already exists")

	// ErrNoSpace is returned when the bitmap has no clear bit or the
	// inode table has no free inode. The log never returns it: beginOp
	// waits for log space, and a transaction group that touches more
	// than LOGSIZE blocks panics.
	ErrNoSpace = errors.New("xv6fs: no space left on device")

	// ErrInvalidOffset is returned for reads/writes with an out-of-range
	// or overflowing offset/length.
	ErrInvalidOffset = errors.New("xv6fs: invalid offset or length")

	// ErrFileTooBig is returned when a write would grow a file past
	// MAXFILE.
	ErrFileTooBig = errors.New("xv6fs: file too big")

	// ErrInvalidType is returned for an operation attempted on the wrong
	// file type (e.g. readdir on a plain file, or I/O on a device inode).
	ErrInvalidType = errors.New("xv6fs: inappropriate file type")

	// ErrIsDirectory is returned by Link and Unlink when the target is a
	// directory. Writes through a directory handle are not rejected with
	// it.
	ErrIsDirectory = errors.New("xv6fs: is a directory")

	// ErrNotDirectory is returned when a path component that should be a
	// directory isn't.
	ErrNotDirectory = errors.New("xv6fs: not a directory")

	// ErrNameTooLong is returned for path components longer than DIRSIZ.
	ErrNameTooLong = errors.New("xv6fs: name too long")

	// ErrClosed is returned by operations on an unmounted FileSystem.
	ErrClosed = errors.New("xv6fs: file system not mounted")
)

// corrupt panics with a descriptive message. It is used for invariant
// violations that indicate on-disk corruption or a programming error in a
// caller that bypassed the locking discipline (bad magic, double free,
// bitmap out of range, inode type==0 after ilock, log header
// inconsistency, an exhausted buffer or inode cache). Lock-order
// violations are not detected. These are never returned to a
// caller as an error: a filesystem that has actually lost this much
// bookkeeping cannot make forward progress safely.
func corrupt(format string, args ...any) {
	panic(fmt.Sprintf("xv6fs: corruption: "+format, args...))
}
