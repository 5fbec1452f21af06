package xv6fs

import "errors"

// crashDevice wraps a MemDevice and starts refusing writes after a fixed
// count, simulating a crash mid-commit: writes that already landed stay
// landed, the (crashAfter+1)th and later never happen. This lets the
// commit-protocol tests (log_test.go) exercise crash recovery without
// an actual kernel or power failure.
type crashDevice struct {
	*MemDevice
	writes     int
	crashAfter int // 0 means never crash
}

var errSimulatedCrash = errors.New("simulated crash: device stopped accepting writes")

func (d *crashDevice) WriteBlock(bno uint32, buf []byte) error {
	d.writes++
	if d.crashAfter > 0 && d.writes > d.crashAfter {
		return errSimulatedCrash
	}
	return d.MemDevice.WriteBlock(bno, buf)
}

// newTestFS builds a minimal mounted FileSystem directly (bypassing
// Format) for tests that drive the log/buffer cache/bitmap at the
// package-internal level. logStart and nblocks must leave room for the
// log header, body, and whatever data blocks the test touches.
func newTestFS(dev BlockDevice, logStart uint32) *FileSystem {
	fs := &FileSystem{
		dev:     dev,
		sb:      &Superblock{Size: dev.NBlocks(), LogStart: logStart, NBlocks: dev.NBlocks(), BmapStart: logStart + LOGSIZE + 1},
		mounted: true,
	}
	fs.bc = newBufCache(dev)
	fs.log = newLog(dev, fs.bc, logStart)
	for i := range fs.icTable {
		fs.icTable[i] = &Inode{fs: fs}
	}
	return fs
}

// recoverPanic runs fn and reports whether it panicked, for tests that
// simulate a crash as a corrupt()-triggered panic from a failed write.
func recoverPanic(fn func()) (panicked bool) {
	defer func() {
		if recover() != nil {
			panicked = true
		}
	}()
	fn()
	return false
}
