package xv6fs

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// BlockDevice is the external collaborator this package builds on: a
// synchronous, fixed-size-block read/write primitive. Its errors are
// treated as fatal by callers that cannot recover (I/O errors below the
// log are not part of the crash-consistency story this package
// provides). Block 0 is reserved (boot block): Format zeroes it along
// with the rest of the image, and nothing else reads or writes it.
type BlockDevice interface {
	// ReadBlock reads exactly len(buf) bytes (must be BSIZE) from block
	// bno into buf.
	ReadBlock(bno uint32, buf []byte) error
	// WriteBlock writes exactly len(buf) bytes (must be BSIZE) from buf
	// to block bno.
	WriteBlock(bno uint32, buf []byte) error
	// NBlocks returns the total addressable block count of the device.
	NBlocks() uint32
}

// MemDevice is an in-memory BlockDevice, for tests and for building an
// image before it is ever written to real storage.
type MemDevice struct {
	mu     sync.Mutex
	blocks [][BSIZE]byte
}

// NewMemDevice allocates an all-zero in-memory device of n blocks.
func NewMemDevice(n uint32) *MemDevice {
	return &MemDevice{blocks: make([][BSIZE]byte, n)}
}

func (d *MemDevice) ReadBlock(bno uint32, buf []byte) error {
	if len(buf) != BSIZE {
		return fmt.Errorf("xv6fs: short block buffer (%d)", len(buf))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if bno >= uint32(len(d.blocks)) {
		return fmt.Errorf("xv6fs: block %d out of range", bno)
	}
	copy(buf, d.blocks[bno][:])
	return nil
}

func (d *MemDevice) WriteBlock(bno uint32, buf []byte) error {
	if len(buf) != BSIZE {
		return fmt.Errorf("xv6fs: short block buffer (%d)", len(buf))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if bno >= uint32(len(d.blocks)) {
		return fmt.Errorf("xv6fs: block %d out of range", bno)
	}
	copy(d.blocks[bno][:], buf)
	return nil
}

func (d *MemDevice) NBlocks() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint32(len(d.blocks))
}

// FileDevice is a BlockDevice backed by a regular file or raw block
// device node. It holds an advisory BSD flock for the lifetime of the
// mount so that two processes don't mount the same image read-write at
// once, the same protection a real kernel gets for free from exclusive
// device access.
type FileDevice struct {
	f       *os.File
	nblocks uint32
}

// OpenFileDevice opens path and locks it exclusively. nblocks is the
// number of BSIZE blocks the caller expects the file to contain; the
// file is grown with a sparse truncate if it is shorter.
func OpenFileDevice(path string, nblocks uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("xv6fs: lock %s: %w", path, err)
	}
	want := int64(nblocks) * BSIZE
	if info, err := f.Stat(); err == nil && info.Size() < want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &FileDevice{f: f, nblocks: nblocks}, nil
}

func (d *FileDevice) ReadBlock(bno uint32, buf []byte) error {
	if len(buf) != BSIZE {
		return fmt.Errorf("xv6fs: short block buffer (%d)", len(buf))
	}
	_, err := d.f.ReadAt(buf, int64(bno)*BSIZE)
	if err == io.EOF {
		// Reading a block past EOF in a sparse file reads as zeros.
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	return err
}

func (d *FileDevice) WriteBlock(bno uint32, buf []byte) error {
	if len(buf) != BSIZE {
		return fmt.Errorf("xv6fs: short block buffer (%d)", len(buf))
	}
	_, err := d.f.WriteAt(buf, int64(bno)*BSIZE)
	return err
}

func (d *FileDevice) NBlocks() uint32 {
	return d.nblocks
}

// Close releases the flock and closes the backing file.
func (d *FileDevice) Close() error {
	unix.Flock(int(d.f.Fd()), unix.LOCK_UN)
	return d.f.Close()
}
