package xv6fs

import (
	"bytes"
	"testing"
)

func newInodeTestFS(t *testing.T) *FileSystem {
	t.Helper()
	dev := NewMemDevice(4000)
	if err := Format(dev); err != nil {
		t.Fatalf("Format: %s", err)
	}
	fs, err := Mount(dev)
	if err != nil {
		t.Fatalf("Mount: %s", err)
	}
	return fs
}

func newTestFile(t *testing.T, fs *FileSystem, path string) *Inode {
	t.Helper()
	var ip *Inode
	err := fs.inTransaction(func() error {
		var err error
		ip, err = fs.ialloc(TypeFile)
		if err != nil {
			return err
		}
		if err := fs.ilock(ip); err != nil {
			return err
		}
		ip.NLink = 1
		err = fs.iupdate(ip)
		fs.iunlock(ip)
		return err
	})
	if err != nil {
		t.Fatalf("ialloc: %s", err)
	}
	return ip
}

// bmap addresses the first NDIRECT blocks inline, and every block from
// NDIRECT on through one indirect block.
func TestBmapDirectAndIndirect(t *testing.T) {
	fs := newInodeTestFS(t)
	ip := newTestFile(t, fs, "/x")
	fs.ilock(ip)
	defer fs.iunlockput(ip)

	err := fs.inTransaction(func() error {
		bno, err := ip.bmap(0, true)
		if err != nil {
			return err
		}
		if bno == 0 {
			t.Errorf("bmap(0) returned block 0")
		}
		if ip.Addrs[0] == 0 {
			t.Errorf("direct addrs[0] not populated")
		}

		indBno, err := ip.bmap(NDIRECT, true)
		if err != nil {
			return err
		}
		if indBno == 0 {
			t.Errorf("bmap(NDIRECT) returned block 0")
		}
		if ip.Addrs[NDIRECT] == 0 {
			t.Errorf("indirect block not allocated")
		}
		if ip.Addrs[NDIRECT] == indBno {
			t.Errorf("data block for indirect entry must differ from the indirect block itself")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %s", err)
	}
}

func TestBmapPastMaxFilePanics(t *testing.T) {
	fs := newInodeTestFS(t)
	ip := newTestFile(t, fs, "/x")
	fs.ilock(ip)
	defer fs.iunlockput(ip)

	panicked := recoverPanic(func() {
		fs.inTransaction(func() error {
			_, err := ip.bmap(uint32(MAXFILE), true)
			return err
		})
	})
	if !panicked {
		t.Errorf("expected bmap to panic for a block offset beyond MAXFILE")
	}
}

// Reads past the allocated tail of a lazily-allocated region return
// zeros, never garbage, as long as they're within the inode's recorded
// size.
func TestReadiZeroFillsHoles(t *testing.T) {
	fs := newInodeTestFS(t)
	ip := newTestFile(t, fs, "/x")
	fs.ilock(ip)
	defer fs.iunlockput(ip)

	err := fs.inTransaction(func() error {
		ip.Size = BSIZE * 3 // pretend size grew without allocating blocks
		return fs.iupdate(ip)
	})
	if err != nil {
		t.Fatalf("iupdate: %s", err)
	}

	buf := make([]byte, BSIZE)
	n, err := ip.readi(buf, BSIZE, BSIZE)
	if err != nil {
		t.Fatalf("readi: %s", err)
	}
	if n != BSIZE {
		t.Fatalf("expected %d bytes, got %d", BSIZE, n)
	}
	if !bytes.Equal(buf, make([]byte, BSIZE)) {
		t.Errorf("unallocated hole did not read back as zeros")
	}
}

func TestReadiRejectsOutOfRangeOffset(t *testing.T) {
	fs := newInodeTestFS(t)
	ip := newTestFile(t, fs, "/x")
	fs.ilock(ip)
	defer fs.iunlockput(ip)

	buf := make([]byte, 10)
	if _, err := ip.readi(buf, ip.Size+1, 10); err != ErrInvalidOffset {
		t.Errorf("expected ErrInvalidOffset for off > size, got %v", err)
	}
}

func TestWriteiRejectsFileTooBig(t *testing.T) {
	fs := newInodeTestFS(t)
	ip := newTestFile(t, fs, "/x")
	fs.ilock(ip)
	defer fs.iunlockput(ip)

	err := fs.inTransaction(func() error {
		// Appending (off == current size) past MAXFILE*BSIZE must be
		// rejected before any block is touched.
		buf := make([]byte, 1)
		_, err := ip.writei(buf, 0, uint32(MAXFILE)*BSIZE+1)
		return err
	})
	if err != ErrFileTooBig {
		t.Errorf("expected ErrFileTooBig, got %v", err)
	}
}

// itrunc frees every block beyond the new size, including the indirect
// block once it becomes wholly unused.
func TestItruncFreesIndirectBlock(t *testing.T) {
	fs := newInodeTestFS(t)
	ip := newTestFile(t, fs, "/x")
	fs.ilock(ip)
	defer fs.iunlockput(ip)

	data := bytes.Repeat([]byte{0x42}, int(NDIRECT+2)*BSIZE)
	err := fs.inTransaction(func() error {
		_, err := ip.writei(data, 0, uint32(len(data)))
		return err
	})
	if err != nil {
		t.Fatalf("writei: %s", err)
	}
	if ip.Addrs[NDIRECT] == 0 {
		t.Fatalf("expected the indirect block to be allocated")
	}

	err = fs.inTransaction(func() error {
		return ip.itrunc(BSIZE) // shrink to one direct block
	})
	if err != nil {
		t.Fatalf("itrunc: %s", err)
	}
	if ip.Addrs[NDIRECT] != 0 {
		t.Errorf("expected the indirect block to be freed once unused")
	}
	for i := uint32(1); i < NDIRECT; i++ {
		if ip.Addrs[i] != 0 {
			t.Errorf("expected direct addrs[%d] to be freed", i)
		}
	}
	if ip.Addrs[0] == 0 {
		t.Errorf("expected addrs[0] to survive truncation to size BSIZE")
	}
}

// The maximum file size falls out of the addressing scheme constants.
func TestMaxFileSizeBound(t *testing.T) {
	if MAXFILE != NDIRECT+NINDIRECT {
		t.Fatalf("MAXFILE should equal NDIRECT+NINDIRECT")
	}
	maxBytes := uint64(MAXFILE) * BSIZE
	if maxBytes <= 0 {
		t.Fatalf("MAXFILE*BSIZE should be positive")
	}
}
