package xv6fs

import (
	"sync"
)

// Buf is one cached block. The sleep lock (lock) protects its contents
// across disk I/O; the cache's spin lock only ever protects the index
// (which key maps to which *Buf slot), never the block contents
// themselves, so it can be released before any I/O or sleep-lock
// acquisition.
type Buf struct {
	bno    uint32
	valid  bool // has data been read from disk at least once
	pinned int  // log-held pin count; prevents eviction independent of ref
	ref    int  // number of outstanding Read() holders

	lock sync.Mutex // the buffer's sleep lock; held while data is in use
	data [BSIZE]byte
}

// Data returns the block's contents. Callers must hold the buffer's
// sleep lock (i.e. have it from Read and not yet Release'd it).
func (b *Buf) Data() []byte { return b.data[:] }

// bufCache is the fixed-capacity block cache: spin lock over a flat
// index/LRU list of NBUF buffers.
type bufCache struct {
	dev BlockDevice

	mu  sync.Mutex // spin lock: protects only lru below, never buffer data
	lru []*Buf     // MRU-first; index scan doubles as LRU eviction order
}

func newBufCache(dev BlockDevice) *bufCache {
	bc := &bufCache{dev: dev}
	bc.lru = make([]*Buf, 0, NBUF)
	for i := 0; i < NBUF; i++ {
		b := &Buf{bno: ^uint32(0)}
		bc.lru = append(bc.lru, b)
	}
	return bc
}

// touch moves b to the front of the LRU list. Caller holds mu.
func (bc *bufCache) touch(b *Buf) {
	for i, c := range bc.lru {
		if c == b {
			copy(bc.lru[1:i+1], bc.lru[:i])
			bc.lru[0] = b
			return
		}
	}
}

// Read returns a pinned, sleep-locked buffer for block bno, reading
// through to the device on first reference. Lookup scans for bno under
// the spin lock; on miss, a reverse scan finds an unpinned,
// unreferenced buffer to evict and re-read. The key match deliberately
// ignores valid: a buffer whose key is assigned but whose first disk
// read is still in flight must be found by concurrent readers, who
// then queue on its sleep lock in fill until the read completes.
// Fresh buffers carry the ^uint32(0) sentinel key, so an unassigned
// slot never matches a real block number. Exhausting the cache with
// every buffer pinned is fatal: it signals a runaway transaction or a
// leaked Release.
func (bc *bufCache) Read(bno uint32) (*Buf, error) {
	bc.mu.Lock()
	for _, b := range bc.lru {
		if b.bno == bno {
			b.ref++
			bc.touch(b)
			bc.mu.Unlock()
			return bc.fill(b)
		}
	}

	// Miss: find a victim by reverse (least-recently-used) scan among
	// buffers with no readers and no outstanding log pin.
	var victim *Buf
	for i := len(bc.lru) - 1; i >= 0; i-- {
		b := bc.lru[i]
		if b.ref == 0 && b.pinned == 0 {
			victim = b
			break
		}
	}
	if victim == nil {
		bc.mu.Unlock()
		corrupt("buffer cache exhausted: all %d buffers pinned", NBUF)
	}
	victim.bno = bno
	victim.valid = false
	victim.ref = 1
	bc.touch(victim)
	bc.mu.Unlock()

	return bc.fill(victim)
}

// fill acquires b's sleep lock and performs the initial disk read if no
// holder has done it yet. Whichever of the queued readers acquires the
// lock first reads the block; the rest find valid set and return
// immediately.
func (bc *bufCache) fill(b *Buf) (*Buf, error) {
	b.lock.Lock()
	if !b.valid {
		if err := bc.dev.ReadBlock(b.bno, b.data[:]); err != nil {
			b.lock.Unlock()
			bc.mu.Lock()
			b.ref--
			bc.mu.Unlock()
			return nil, err
		}
		b.valid = true
	}
	return b, nil
}

// Release releases the sleep lock and decrements the reference count.
// There is no write-through counterpart: mutated buffers reach disk
// only via the log's commit, never directly from a client.
func (bc *bufCache) Release(b *Buf) {
	b.lock.Unlock()
	bc.mu.Lock()
	b.ref--
	bc.mu.Unlock()
}

// pin/unpin are log-only operations: they keep a buffer from being
// evicted across the lifetime of a transaction without requiring the
// sleep lock to be held the whole time (the log only needs the data
// during the brief window it copies it to/from the log area).
func (bc *bufCache) pin(b *Buf) {
	bc.mu.Lock()
	b.pinned++
	bc.mu.Unlock()
}

func (bc *bufCache) unpin(b *Buf) {
	bc.mu.Lock()
	b.pinned--
	bc.mu.Unlock()
}
