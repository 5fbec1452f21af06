package xv6fs

import "bytes"

// direntSize is sizeof(DirEntry) on disk: a u16 inode number followed by
// a fixed DIRSIZ-byte, NUL-padded name.
const direntSize = 2 + DIRSIZ

// DirEntry is one packed directory entry.
// Inum==0 marks a free slot (not necessarily at the end of the
// directory's data: dirunlink zeroes in place, and dirlink reuses the
// first free slot it finds before appending).
type DirEntry struct {
	Inum uint16
	Name [DIRSIZ]byte
}

func (d *DirEntry) name() string {
	n := bytes.IndexByte(d.Name[:], 0)
	if n < 0 {
		n = DIRSIZ
	}
	return string(d.Name[:n])
}

func (d *DirEntry) setName(name string) {
	for i := range d.Name {
		d.Name[i] = 0
	}
	copy(d.Name[:], name)
}

func (d *DirEntry) marshal() []byte {
	buf := make([]byte, direntSize)
	buf[0] = byte(d.Inum)
	buf[1] = byte(d.Inum >> 8)
	copy(buf[2:], d.Name[:])
	return buf
}

func (d *DirEntry) unmarshal(buf []byte) {
	d.Inum = uint16(buf[0]) | uint16(buf[1])<<8
	copy(d.Name[:], buf[2:2+DIRSIZ])
}

// dirlookup scans dp's entries for name, returning the matching inode
// (via iget, unlocked) and the byte offset of its directory entry. dp
// must already be locked by the caller. Returns ErrNotFound if no entry
// matches.
func dirlookup(dp *Inode, name string) (*Inode, uint32, error) {
	if dp.Type != TypeDir {
		return nil, 0, ErrNotDirectory
	}
	var de DirEntry
	var buf [direntSize]byte
	for off := uint32(0); off < dp.Size; off += direntSize {
		n, err := dp.readi(buf[:], off, direntSize)
		if err != nil {
			return nil, 0, err
		}
		if n != direntSize {
			corrupt("dirlookup: short directory entry at offset %d", off)
		}
		de.unmarshal(buf[:])
		if de.Inum == 0 {
			continue
		}
		if de.name() == name {
			return dp.fs.iget(uint32(de.Inum)), off, nil
		}
	}
	return nil, 0, ErrNotFound
}

// dirlink adds an entry for (name -> inum) to directory dp, reusing the
// first free slot if one exists, otherwise appending. It must run inside
// a transaction and dp must already be locked. Fails with ErrExist if
// name is already present, ErrNameTooLong if name doesn't fit DIRSIZ.
func dirlink(dp *Inode, name string, inum uint32) error {
	if len(name) > DIRSIZ {
		return ErrNameTooLong
	}
	if existing, _, err := dirlookup(dp, name); err == nil {
		dp.fs.iput(existing)
		return ErrExist
	} else if err != ErrNotFound {
		return err
	}

	var de DirEntry
	var buf [direntSize]byte
	off := uint32(0)
	for ; off < dp.Size; off += direntSize {
		n, err := dp.readi(buf[:], off, direntSize)
		if err != nil {
			return err
		}
		if n != direntSize {
			corrupt("dirlink: short directory entry at offset %d", off)
		}
		de.unmarshal(buf[:])
		if de.Inum == 0 {
			break
		}
	}

	de = DirEntry{Inum: uint16(inum)}
	de.setName(name)
	if _, err := dp.writei(de.marshal(), off, direntSize); err != nil {
		return err
	}
	return nil
}

// dirunlink clears the entry named name in directory dp by zeroing its
// inode number in place, without shrinking the directory. Must run
// inside a transaction with dp locked.
func dirunlink(dp *Inode, name string) error {
	var de DirEntry
	var buf [direntSize]byte
	for off := uint32(0); off < dp.Size; off += direntSize {
		n, err := dp.readi(buf[:], off, direntSize)
		if err != nil {
			return err
		}
		if n != direntSize {
			corrupt("dirunlink: short directory entry at offset %d", off)
		}
		de.unmarshal(buf[:])
		if de.Inum == 0 || de.name() != name {
			continue
		}
		var zero [direntSize]byte
		if _, err := dp.writei(zero[:], off, direntSize); err != nil {
			return err
		}
		return nil
	}
	return ErrNotFound
}

// dirIsEmpty reports whether dp (already locked) contains any entries
// besides "." and "..".
func dirIsEmpty(dp *Inode) (bool, error) {
	var de DirEntry
	var buf [direntSize]byte
	for off := uint32(2 * direntSize); off < dp.Size; off += direntSize {
		n, err := dp.readi(buf[:], off, direntSize)
		if err != nil {
			return false, err
		}
		if n != direntSize {
			corrupt("dirIsEmpty: short directory entry at offset %d", off)
		}
		de.unmarshal(buf[:])
		if de.Inum != 0 {
			return false, nil
		}
	}
	return true, nil
}
