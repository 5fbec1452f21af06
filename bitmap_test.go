package xv6fs

import "testing"

// newBitmapTestFS builds a FileSystem with a tiny data region (nData
// blocks) sitting right after one bitmap block, for balloc/bfree tests.
func newBitmapTestFS(nData uint32) *FileSystem {
	bmapStart := uint32(10)
	dataStart := bmapStart + 1
	dev := NewMemDevice(dataStart + nData)
	fs := &FileSystem{
		dev: dev,
		sb: &Superblock{
			Size:      dataStart + nData,
			LogStart:  2,
			BmapStart: bmapStart,
			NBlocks:   nData,
		},
		mounted: true,
	}
	fs.bc = newBufCache(dev)
	fs.log = newLog(dev, fs.bc, fs.sb.LogStart)
	return fs
}

func TestBallocBfreeRoundTrip(t *testing.T) {
	fs := newBitmapTestFS(20)

	var bnos []uint32
	fs.inTransaction(func() error {
		for i := 0; i < 5; i++ {
			bno, err := fs.balloc()
			if err != nil {
				t.Fatalf("balloc: %s", err)
			}
			bnos = append(bnos, bno)
		}
		return nil
	})

	seen := make(map[uint32]bool)
	for _, b := range bnos {
		if seen[b] {
			t.Fatalf("balloc returned duplicate block %d", b)
		}
		seen[b] = true
	}

	fs.inTransaction(func() error {
		return fs.bfree(bnos[0])
	})

	// The freed block should be reused by the next balloc (first-clear-bit
	// scan starts from bit 0 each time).
	var reused uint32
	fs.inTransaction(func() error {
		var err error
		reused, err = fs.balloc()
		return err
	})
	if reused != bnos[0] {
		t.Errorf("expected balloc to reuse freed block %d, got %d", bnos[0], reused)
	}
}

func TestBallocOutOfSpace(t *testing.T) {
	fs := newBitmapTestFS(3)

	err := fs.inTransaction(func() error {
		for i := 0; i < 3; i++ {
			if _, err := fs.balloc(); err != nil {
				return err
			}
		}
		_, err := fs.balloc()
		return err
	})
	if err != ErrNoSpace {
		t.Errorf("expected ErrNoSpace once the bitmap is full, got %v", err)
	}
}

// Freeing an already-free block is a structural corruption, not a
// recoverable error.
func TestBfreeDoubleFreePanics(t *testing.T) {
	fs := newBitmapTestFS(10)

	var bno uint32
	fs.inTransaction(func() error {
		var err error
		bno, err = fs.balloc()
		return err
	})
	fs.inTransaction(func() error {
		return fs.bfree(bno)
	})

	panicked := recoverPanic(func() {
		fs.inTransaction(func() error {
			return fs.bfree(bno)
		})
	})
	if !panicked {
		t.Errorf("expected double free of block %d to panic", bno)
	}
}
