package xv6fs

import "fmt"

// FormatOptions configures Format. A filesystem formatter has exactly a
// handful of knobs, so plain functional options cover it.
type FormatOptions struct {
	nInodes uint32
	logSize uint32
}

// Option customizes FormatOptions.
type Option func(*FormatOptions) error

// defaultFormatOptions mirrors the classic xv6 mkfs defaults: enough
// inodes for a few hundred files, and a log sized for LOGSIZE.
func defaultFormatOptions() FormatOptions {
	return FormatOptions{nInodes: 200, logSize: LOGSIZE}
}

// WithInodes overrides the number of inodes the image reserves.
func WithInodes(n uint32) Option {
	return func(o *FormatOptions) error {
		if n == 0 {
			return fmt.Errorf("xv6fs: inode count must be positive")
		}
		o.nInodes = n
		return nil
	}
}

// WithLogSize overrides the log body size in blocks.
func WithLogSize(n uint32) Option {
	return func(o *FormatOptions) error {
		if n == 0 || n > LOGSIZE {
			return fmt.Errorf("xv6fs: log size must be in (0, %d]", LOGSIZE)
		}
		o.logSize = n
		return nil
	}
}

// Format writes a fresh xv6fs image to dev: boot block, superblock, log
// blocks, inode blocks, bitmap blocks, data blocks, with a root
// directory inode pre-populated with "." and "..". dev.NBlocks() fixes
// the image's total size.
func Format(dev BlockDevice, opts ...Option) error {
	o := defaultFormatOptions()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return err
		}
	}

	total := dev.NBlocks()
	if total < 4 {
		return fmt.Errorf("xv6fs: device too small to format (%d blocks)", total)
	}

	logStart := uint32(2) // block 0 boot, block 1 superblock
	nLogBlocks := o.logSize + 1
	inodeStart := logStart + nLogBlocks
	nInodeBlocks := (o.nInodes + uint32(inodesPerBlock) - 1) / uint32(inodesPerBlock)
	bmapStart := inodeStart + nInodeBlocks

	// The bitmap only tracks the data region, but sizing it for the
	// whole image keeps the layout computation non-circular (the data
	// region's size depends on the bitmap's size and vice versa). The
	// few over-provisioned bits at the tail stay permanently clear and
	// unreachable: balloc never scans past NBlocks.
	nBmapBlocks := (total + bitsPerBlock - 1) / bitsPerBlock
	dataStart := bmapStart + nBmapBlocks
	if dataStart >= total {
		return fmt.Errorf("xv6fs: device too small for requested inode/log size")
	}
	nDataBlocks := total - dataStart

	sb := &Superblock{
		Magic:      fsMagic,
		Size:       total,
		NBlocks:    nDataBlocks,
		NInodes:    o.nInodes,
		NLog:       nLogBlocks,
		LogStart:   logStart,
		InodeStart: inodeStart,
		BmapStart:  bmapStart,
	}

	var zero [BSIZE]byte
	for bno := uint32(0); bno < total; bno++ {
		if err := dev.WriteBlock(bno, zero[:]); err != nil {
			return err
		}
	}
	if err := writeSuperblock(dev, sb); err != nil {
		return err
	}

	fs := &FileSystem{dev: dev, sb: sb, mounted: true}
	fs.bc = newBufCache(dev)
	fs.log = newLog(dev, fs.bc, sb.LogStart)
	for i := range fs.icTable {
		fs.icTable[i] = &Inode{fs: fs}
	}

	return fs.inTransaction(func() error {
		root, err := fs.ialloc(TypeDir)
		if err != nil {
			return err
		}
		if err := fs.ilock(root); err != nil {
			return err
		}
		if root.Inum() != ROOTINO {
			fs.iunlockput(root)
			return fmt.Errorf("xv6fs: first allocated inode is %d, want root inode %d", root.Inum(), ROOTINO)
		}
		root.NLink = 2
		if err := fs.iupdate(root); err != nil {
			fs.iunlockput(root)
			return err
		}
		if err := dirlink(root, ".", root.Inum()); err != nil {
			fs.iunlockput(root)
			return err
		}
		if err := dirlink(root, "..", root.Inum()); err != nil {
			fs.iunlockput(root)
			return err
		}
		return fs.iunlockput(root)
	})
}
