package xv6fs

import (
	"sync"
)

// FileSystem bundles what would be process-wide singletons in a kernel
// (superblock, buffer cache, log manager, inode cache) into one context
// value instead of package-level globals, so that more than one image
// can be mounted in the same process and so tests don't share state.
type FileSystem struct {
	dev BlockDevice
	sb  *Superblock
	bc  *bufCache
	log *xlog

	icMu    sync.Mutex // spin lock guarding icTable's slot assignment
	icTable [NINODE]*Inode

	mu      sync.Mutex
	mounted bool
}

// Mount reads the superblock, replays the log if a committed transaction
// was never installed, and returns a ready-to-use FileSystem. dev must
// already contain an image written by Format.
func Mount(dev BlockDevice) (*FileSystem, error) {
	sb, err := readSuperblock(dev)
	if err != nil {
		return nil, err
	}
	if err := recoverLog(dev, sb.LogStart); err != nil {
		return nil, err
	}

	fs := &FileSystem{
		dev:     dev,
		sb:      sb,
		mounted: true,
	}
	fs.bc = newBufCache(dev)
	fs.log = newLog(dev, fs.bc, sb.LogStart)
	for i := range fs.icTable {
		fs.icTable[i] = &Inode{fs: fs}
	}
	return fs, nil
}

// Unmount marks the context closed. It does not flush anything: every
// committed transaction is already durable, and an unmounted FileSystem
// simply stops accepting new operations.
func (fs *FileSystem) Unmount() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.mounted {
		return ErrClosed
	}
	fs.mounted = false
	return nil
}

func (fs *FileSystem) checkMounted() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.mounted {
		return ErrClosed
	}
	return nil
}

// Superblock returns the filesystem's read-only layout description.
func (fs *FileSystem) Superblock() Superblock {
	return *fs.sb
}

// inTransaction runs fn inside exactly one beginOp/endOp pair. Every
// exported mutating VFS operation goes through this; reads do not.
func (fs *FileSystem) inTransaction(fn func() error) error {
	if err := fs.checkMounted(); err != nil {
		return err
	}
	return fs.log.withTxn(fn)
}
