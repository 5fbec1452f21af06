package xv6fs

import "testing"

func TestBufCacheReadCachesSameBuffer(t *testing.T) {
	dev := NewMemDevice(8)
	bc := newBufCache(dev)

	b1, err := bc.Read(3)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	bc.Release(b1)

	b2, err := bc.Read(3)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if b1 != b2 {
		t.Errorf("expected the same cached *Buf for repeated reads of (dev,3)")
	}
	bc.Release(b2)
}

// No two live cache entries ever share a block-number key.
func TestBufCacheNoDuplicateKeys(t *testing.T) {
	dev := NewMemDevice(NBUF + 5)
	bc := newBufCache(dev)

	seen := make(map[uint32]bool)
	var held []*Buf
	for i := uint32(0); i < NBUF; i++ {
		b, err := bc.Read(i)
		if err != nil {
			t.Fatalf("Read(%d): %s", i, err)
		}
		if seen[b.bno] {
			t.Fatalf("duplicate cache entry for bno %d", b.bno)
		}
		seen[b.bno] = true
		held = append(held, b)
	}
	for _, b := range held {
		bc.Release(b)
	}
}

// Exhausting the cache with every buffer pinned is fatal.
func TestBufCacheExhaustionPanics(t *testing.T) {
	dev := NewMemDevice(NBUF + 5)
	bc := newBufCache(dev)

	var held []*Buf
	for i := uint32(0); i < NBUF; i++ {
		b, err := bc.Read(i)
		if err != nil {
			t.Fatalf("Read(%d): %s", i, err)
		}
		bc.pin(b) // hold across release, as the log does for a transaction
		bc.Release(b)
		held = append(held, b)
	}

	panicked := recoverPanic(func() {
		bc.Read(uint32(NBUF) + 1)
	})
	if !panicked {
		t.Errorf("expected Read to panic when every buffer is pinned")
	}

	for _, b := range held {
		bc.unpin(b)
	}
}

func TestBufCacheLRUEviction(t *testing.T) {
	dev := NewMemDevice(NBUF + 1)
	bc := newBufCache(dev)

	// Fill the cache, then release every buffer so all are eligible for
	// eviction, least-recently-used first.
	var bufs []*Buf
	for i := uint32(0); i < NBUF; i++ {
		b, err := bc.Read(i)
		if err != nil {
			t.Fatalf("Read(%d): %s", i, err)
		}
		bufs = append(bufs, b)
	}
	for _, b := range bufs {
		bc.Release(b)
	}

	// Block 0 was read first and never touched again, so it's the LRU
	// victim when a new block is requested.
	victim, err := bc.Read(uint32(NBUF))
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	defer bc.Release(victim)
	if victim.bno != uint32(NBUF) {
		t.Fatalf("victim buffer has wrong bno %d", victim.bno)
	}

	b0, err := bc.Read(0)
	if err != nil {
		t.Fatalf("Read(0): %s", err)
	}
	defer bc.Release(b0)
	if b0 == victim {
		t.Errorf("block 0 should have been evicted, not the newly read block")
	}
}
