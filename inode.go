package xv6fs

import (
	"bytes"
	"encoding/binary"
	"sync"
)

// rawInodeSize is sizeof(RawInode) on disk: three uint16 fields (type,
// major, minor), nlink (uint16), size (uint32), and NDIRECT+1 addrs
// (uint32 each).
const rawInodeSize = 2 + 2 + 2 + 2 + 4 + 4*(NDIRECT+1)

// inodesPerBlock is how many packed raw inodes fit in one block.
const inodesPerBlock = BSIZE / rawInodeSize

// RawInode is the on-disk inode record, packed little-endian:
// type/major/minor/nlink as u16, size as u32, then the direct+indirect
// address array.
type RawInode struct {
	Type  uint16
	Major uint16
	Minor uint16
	NLink uint16
	Size  uint32
	Addrs [NDIRECT + 1]uint32
}

func (r *RawInode) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(rawInodeSize)
	binary.Write(buf, binary.LittleEndian, r)
	return buf.Bytes(), nil
}

func (r *RawInode) UnmarshalBinary(data []byte) error {
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, r)
}

// Inode is the in-memory cache entry for one on-disk inode, keyed by
// inode number (each FileSystem owns exactly one device, so no device
// id is needed in the key). ref>0 pins the slot in the cache; lock is
// the per-inode sleep lock protecting every mutable field below it and
// all disk I/O performed on its behalf.
type Inode struct {
	fs    *FileSystem
	inum  uint32
	ref   int
	valid bool

	lock sync.Mutex

	RawInode
}

// Inum returns the inode number.
func (ip *Inode) Inum() uint32 { return ip.inum }

// ialloc scans the inode table for a free slot, marks it with the
// requested type under the log, and returns an unlocked, ref==1 handle.
// Must run inside a transaction.
func (fs *FileSystem) ialloc(typ uint16) (*Inode, error) {
	for inum := uint32(1); inum < fs.sb.NInodes; inum++ {
		blockNo := fs.sb.InodeStart + inum/uint32(inodesPerBlock)
		b, err := fs.bc.Read(blockNo)
		if err != nil {
			return nil, err
		}
		off := (inum % uint32(inodesPerBlock)) * rawInodeSize
		var raw RawInode
		if err := raw.UnmarshalBinary(b.Data()[off : off+rawInodeSize]); err != nil {
			fs.bc.Release(b)
			return nil, err
		}
		if raw.Type != TypeFree {
			fs.bc.Release(b)
			continue
		}
		raw = RawInode{Type: typ}
		enc, _ := raw.MarshalBinary()
		copy(b.Data()[off:off+rawInodeSize], enc)
		fs.log.write(b)
		fs.bc.Release(b)
		return fs.iget(inum), nil
	}
	return nil, ErrNoSpace
}

// iget returns a reference to the cached inode inum, without acquiring
// its sleep lock. Splitting iget (ref-only) from ilock (content lock)
// lets a caller already holding a directory's lock obtain references to
// other inodes without risking a nested-lock deadlock.
func (fs *FileSystem) iget(inum uint32) *Inode {
	fs.icMu.Lock()
	defer fs.icMu.Unlock()

	var empty *Inode
	for _, ip := range fs.icTable {
		if ip.ref > 0 && ip.inum == inum {
			ip.ref++
			return ip
		}
		if empty == nil && ip.ref == 0 {
			empty = ip
		}
	}
	if empty == nil {
		corrupt("inode cache exhausted: all %d slots in use", NINODE)
	}
	empty.inum = inum
	empty.ref = 1
	empty.valid = false
	return empty
}

// ilock acquires ip's sleep lock, loading the raw inode from disk on
// first acquisition after a cache miss.
func (fs *FileSystem) ilock(ip *Inode) error {
	ip.lock.Lock()
	if ip.valid {
		return nil
	}
	blockNo := fs.sb.InodeStart + ip.inum/uint32(inodesPerBlock)
	b, err := fs.bc.Read(blockNo)
	if err != nil {
		ip.lock.Unlock()
		return err
	}
	off := (ip.inum % uint32(inodesPerBlock)) * rawInodeSize
	var raw RawInode
	if err := raw.UnmarshalBinary(b.Data()[off : off+rawInodeSize]); err != nil {
		fs.bc.Release(b)
		ip.lock.Unlock()
		return err
	}
	fs.bc.Release(b)
	if raw.Type == TypeFree {
		ip.lock.Unlock()
		corrupt("ilock: inode %d has type 0 after load", ip.inum)
	}
	ip.RawInode = raw
	ip.valid = true
	return nil
}

// iunlock releases ip's sleep lock.
func (fs *FileSystem) iunlock(ip *Inode) {
	ip.lock.Unlock()
}

// iupdate flushes ip's in-memory fields to its home inode block via the
// log. Caller must hold ip's sleep lock and be inside a transaction.
func (fs *FileSystem) iupdate(ip *Inode) error {
	blockNo := fs.sb.InodeStart + ip.inum/uint32(inodesPerBlock)
	b, err := fs.bc.Read(blockNo)
	if err != nil {
		return err
	}
	off := (ip.inum % uint32(inodesPerBlock)) * rawInodeSize
	enc, _ := ip.RawInode.MarshalBinary()
	copy(b.Data()[off:off+rawInodeSize], enc)
	fs.log.write(b)
	fs.bc.Release(b)
	return nil
}

// iput decrements ip's reference count. If this was the last reference
// and the inode has nlink==0, the file is removed: its data is freed,
// type is reset to free, and the change is flushed. This path performs
// disk I/O through the log and therefore must run inside a transaction;
// every exported operation that can drop an inode's last reference below
// nlink==0 already opens one.
func (fs *FileSystem) iput(ip *Inode) error {
	fs.icMu.Lock()
	if ip.ref == 1 && ip.valid && ip.NLink == 0 {
		fs.icMu.Unlock()

		fs.ilock(ip)
		if err := ip.itrunc(0); err != nil {
			fs.iunlock(ip)
			return err
		}
		ip.Type = TypeFree
		if err := fs.iupdate(ip); err != nil {
			fs.iunlock(ip)
			return err
		}
		fs.iunlock(ip)

		fs.icMu.Lock()
		ip.valid = false
		ip.ref--
		fs.icMu.Unlock()
		return nil
	}
	ip.ref--
	fs.icMu.Unlock()
	return nil
}

// iunlockput is the common iunlock+iput sequence.
func (fs *FileSystem) iunlockput(ip *Inode) error {
	fs.iunlock(ip)
	return fs.iput(ip)
}

// bmap returns the data block number holding file offset block fbno,
// allocating it (and, for indirect entries, the indirect block) if alloc
// is true and the slot is currently empty. With alloc==false, an empty
// slot returns bno==0, meaning "unallocated hole, read as zeros" (only
// possible for offsets below the inode's recorded size).
func (ip *Inode) bmap(fbno uint32, alloc bool) (uint32, error) {
	fs := ip.fs
	if fbno < NDIRECT {
		bno := ip.Addrs[fbno]
		if bno == 0 {
			if !alloc {
				return 0, nil
			}
			nb, err := fs.balloc()
			if err != nil {
				return 0, err
			}
			ip.Addrs[fbno] = nb
			bno = nb
		}
		return bno, nil
	}

	fbno -= NDIRECT
	if fbno >= NINDIRECT {
		corrupt("bmap: offset block %d exceeds MAXFILE", fbno+NDIRECT)
	}

	indBno := ip.Addrs[NDIRECT]
	if indBno == 0 {
		if !alloc {
			return 0, nil
		}
		nb, err := fs.balloc()
		if err != nil {
			return 0, err
		}
		ip.Addrs[NDIRECT] = nb
		indBno = nb
	}

	b, err := fs.bc.Read(indBno)
	if err != nil {
		return 0, err
	}
	bno := binary.LittleEndian.Uint32(b.Data()[fbno*4:])
	if bno == 0 {
		if !alloc {
			fs.bc.Release(b)
			return 0, nil
		}
		nb, err := fs.balloc()
		if err != nil {
			fs.bc.Release(b)
			return 0, err
		}
		binary.LittleEndian.PutUint32(b.Data()[fbno*4:], nb)
		fs.log.write(b)
		bno = nb
	}
	fs.bc.Release(b)
	return bno, nil
}

// readi reads up to n bytes starting at off into dst, clamped to the
// inode's current size, and returns the number of bytes actually read.
func (ip *Inode) readi(dst []byte, off, n uint32) (int, error) {
	if off > ip.Size || off+n < off {
		return 0, ErrInvalidOffset
	}
	if ip.Type == TypeDevice {
		return 0, ErrInvalidType
	}
	if off+n > ip.Size {
		n = ip.Size - off
	}

	fs := ip.fs
	var total uint32
	for total < n {
		bno, err := ip.bmap(off/BSIZE, false)
		if err != nil {
			return int(total), err
		}
		boff := off % BSIZE
		m := n - total
		if m > BSIZE-boff {
			m = BSIZE - boff
		}
		if bno == 0 {
			for i := uint32(0); i < m; i++ {
				dst[total+i] = 0
			}
		} else {
			b, err := fs.bc.Read(bno)
			if err != nil {
				return int(total), err
			}
			copy(dst[total:total+m], b.Data()[boff:boff+m])
			fs.bc.Release(b)
		}
		total += m
		off += m
	}
	return int(total), nil
}

// writei writes n bytes from src starting at off, allocating blocks as
// needed, and grows ip.Size (flushing it) if the write extends past the
// current size. Must run inside a transaction.
func (ip *Inode) writei(src []byte, off, n uint32) (int, error) {
	if off > ip.Size || off+n < off {
		return 0, ErrInvalidOffset
	}
	if off+n > uint32(MAXFILE)*BSIZE {
		return 0, ErrFileTooBig
	}
	if ip.Type == TypeDevice {
		return 0, ErrInvalidType
	}

	fs := ip.fs
	var total uint32
	for total < n {
		bno, err := ip.bmap(off/BSIZE, true)
		if err != nil {
			return int(total), err
		}
		boff := off % BSIZE
		m := n - total
		if m > BSIZE-boff {
			m = BSIZE - boff
		}
		b, err := fs.bc.Read(bno)
		if err != nil {
			return int(total), err
		}
		copy(b.Data()[boff:boff+m], src[total:total+m])
		fs.log.write(b)
		fs.bc.Release(b)
		total += m
		off += m
	}

	if off > ip.Size {
		ip.Size = off
	}
	if err := fs.iupdate(ip); err != nil {
		return int(total), err
	}
	return int(total), nil
}

// itrunc frees every data block (and the indirect block, if it becomes
// wholly unused) beyond newSize, then records the new size. Must run
// inside a transaction with ip's sleep lock held.
func (ip *Inode) itrunc(newSize uint32) error {
	fs := ip.fs
	keep := (newSize + BSIZE - 1) / BSIZE

	for i := uint32(0); i < NDIRECT; i++ {
		if i >= keep && ip.Addrs[i] != 0 {
			if err := fs.bfree(ip.Addrs[i]); err != nil {
				return err
			}
			ip.Addrs[i] = 0
		}
	}

	if ip.Addrs[NDIRECT] != 0 {
		b, err := fs.bc.Read(ip.Addrs[NDIRECT])
		if err != nil {
			return err
		}
		indKeep := uint32(0)
		if keep > NDIRECT {
			indKeep = keep - NDIRECT
		}
		changed := false
		for i := uint32(0); i < NINDIRECT; i++ {
			entry := binary.LittleEndian.Uint32(b.Data()[i*4:])
			if i >= indKeep && entry != 0 {
				if err := fs.bfree(entry); err != nil {
					fs.bc.Release(b)
					return err
				}
				binary.LittleEndian.PutUint32(b.Data()[i*4:], 0)
				changed = true
			}
		}
		if changed {
			fs.log.write(b)
		}
		fs.bc.Release(b)

		if keep <= NDIRECT {
			if err := fs.bfree(ip.Addrs[NDIRECT]); err != nil {
				return err
			}
			ip.Addrs[NDIRECT] = 0
		}
	}

	ip.Size = newSize
	return fs.iupdate(ip)
}
