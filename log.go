package xv6fs

import (
	"bytes"
	"encoding/binary"
	"log"
	"sync"
)

// logHeader is the on-disk commit record at block `start`: the number of
// valid entries and the home block number each log slot belongs to.
// Writing this block is the single atomic commit point.
type logHeader struct {
	N      uint32
	Blocks [LOGSIZE]uint32
}

func (h *logHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, BSIZE)
	binary.LittleEndian.PutUint32(buf, h.N)
	for i, b := range h.Blocks {
		binary.LittleEndian.PutUint32(buf[4+i*4:], b)
	}
	return buf, nil
}

func (h *logHeader) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, &h.N); err != nil {
		return err
	}
	return binary.Read(r, binary.LittleEndian, &h.Blocks)
}

// xlog is the write-ahead log manager: it groups the writes of possibly
// many concurrently-outstanding operations into one commit, using log
// absorption to collapse repeat writes of the same block into a single
// log slot.
type xlog struct {
	dev BlockDevice
	bc  *bufCache

	start uint32 // block number of the log header

	mu          sync.Mutex // spin lock guarding all fields below
	cond        *sync.Cond
	outstanding int
	committing  bool
	order       []uint32 // distinct block numbers in this commit group, in write order
	entries     map[uint32]*Buf
}

func newLog(dev BlockDevice, bc *bufCache, start uint32) *xlog {
	l := &xlog{
		dev:     dev,
		bc:      bc,
		start:   start,
		entries: make(map[uint32]*Buf),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// recoverLog replays a committed-but-not-installed transaction found at
// mount time. It is safe to call unconditionally: installation is
// idempotent, so replaying a header left at n==0 is a no-op.
func recoverLog(dev BlockDevice, start uint32) error {
	var hbuf [BSIZE]byte
	if err := dev.ReadBlock(start, hbuf[:]); err != nil {
		return err
	}
	var hdr logHeader
	if err := hdr.UnmarshalBinary(hbuf[:]); err != nil {
		return err
	}
	if hdr.N == 0 {
		return nil
	}
	if hdr.N > LOGSIZE {
		corrupt("log header n=%d exceeds LOGSIZE=%d", hdr.N, LOGSIZE)
	}
	log.Printf("xv6fs: recovering log, installing %d blocks", hdr.N)
	if err := installFromLog(dev, start, hdr.Blocks[:hdr.N]); err != nil {
		return err
	}
	return clearLogHeader(dev, start)
}

// installFromLog performs step 3 of the commit protocol: copy each log
// body block to its recorded home block.
func installFromLog(dev BlockDevice, start uint32, blocks []uint32) error {
	var tmp [BSIZE]byte
	for i, bno := range blocks {
		if err := dev.ReadBlock(start+1+uint32(i), tmp[:]); err != nil {
			return err
		}
		if err := dev.WriteBlock(bno, tmp[:]); err != nil {
			return err
		}
	}
	return nil
}

// clearLogHeader performs step 4 of the commit protocol.
func clearLogHeader(dev BlockDevice, start uint32) error {
	hdr := logHeader{}
	raw, _ := hdr.MarshalBinary()
	return dev.WriteBlock(start, raw)
}

// beginOp blocks until there is guaranteed log space for one more
// operation and no commit is in progress, then admits it. The admission
// predicate reserves MAXOPBLOCKS slots for every outstanding operation
// plus the one about to start, so a worst-case transaction group never
// overflows LOGSIZE.
func (l *xlog) beginOp() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if l.committing {
			l.cond.Wait()
			continue
		}
		if len(l.order)+(l.outstanding+1)*MAXOPBLOCKS > LOGSIZE {
			l.cond.Wait()
			continue
		}
		l.outstanding++
		return
	}
}

// write registers a dirtied buffer with the current transaction group.
// The buffer stays pinned in the cache (independent of its sleep lock)
// until the group commits and installs. Repeat writes of the same block
// within the group collapse onto the same log slot (log absorption).
func (l *xlog) write(b *Buf) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.outstanding == 0 {
		corrupt("log write() with no outstanding transaction")
	}
	if _, ok := l.entries[b.bno]; ok {
		l.entries[b.bno] = b
		return
	}
	if len(l.order) >= LOGSIZE {
		corrupt("log full: transaction group touches more than %d blocks", LOGSIZE)
	}
	l.order = append(l.order, b.bno)
	l.entries[b.bno] = b
	l.bc.pin(b)
}

// endOp decrements the outstanding-operation count; the last outstanding
// operation to leave performs the commit while holding off new
// begin_op()s, then wakes everyone waiting on log space.
func (l *xlog) endOp() {
	l.mu.Lock()
	l.outstanding--
	doCommit := false
	switch {
	case l.outstanding < 0:
		corrupt("log end_op() with no matching begin_op()")
	case l.outstanding == 0:
		doCommit = true
		l.committing = true
	default:
		l.cond.Broadcast()
	}
	l.mu.Unlock()

	if doCommit {
		l.commit()
		l.mu.Lock()
		l.committing = false
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

// commit runs the four-step protocol: write the log body, write the
// header (the commit point), install each block to its home location,
// clear the header. It is only ever called with outstanding==0 and
// committing==true, so no concurrent writer can be touching
// l.order/l.entries.
func (l *xlog) commit() {
	if len(l.order) == 0 {
		return
	}
	if len(l.order) > LOGSIZE {
		corrupt("log commit with n=%d > LOGSIZE=%d", len(l.order), LOGSIZE)
	}

	// Step 1: write log body.
	for i, bno := range l.order {
		b := l.entries[bno]
		b.lock.Lock()
		err := l.dev.WriteBlock(l.start+1+uint32(i), b.data[:])
		b.lock.Unlock()
		if err != nil {
			corrupt("writing log body block %d: %s", i, err)
		}
	}

	// Step 2: write log header. This write is the commit point.
	hdr := logHeader{N: uint32(len(l.order))}
	copy(hdr.Blocks[:], l.order)
	raw, _ := hdr.MarshalBinary()
	if err := l.dev.WriteBlock(l.start, raw); err != nil {
		corrupt("writing log header: %s", err)
	}
	log.Printf("xv6fs: committed %d blocks", len(l.order))

	// Step 3: install.
	if err := installFromLog(l.dev, l.start, l.order); err != nil {
		corrupt("installing committed blocks: %s", err)
	}

	// Step 4: clear log header, unpin buffers, clear in-memory state.
	if err := clearLogHeader(l.dev, l.start); err != nil {
		corrupt("clearing log header: %s", err)
	}
	for _, bno := range l.order {
		l.bc.unpin(l.entries[bno])
	}
	l.order = l.order[:0]
	l.entries = make(map[uint32]*Buf)
}

// withTxn runs fn inside exactly one beginOp/endOp pair, guaranteeing
// endOp is called even if fn panics or returns an error. This is the
// only way to drive the log: endOp is never reachable without its
// matching beginOp.
func (l *xlog) withTxn(fn func() error) error {
	l.beginOp()
	defer l.endOp()
	return fn()
}
