package xv6fs

// maxWriteChunk is the largest number of bytes a single writei call
// inside Write/Append is allowed to touch: the inode block, one
// indirect block, up to two bitmap blocks, and slop for two
// non-block-aligned ends, leaving headroom in MAXOPBLOCKS for whatever
// else the surrounding transaction touches.
const maxWriteChunk = ((MAXOPBLOCKS - 1 - 1 - 2) / 2) * BSIZE

// VFile is a thin handle over an inode: type, open mode, and a
// sequential read/write cursor.
type VFile struct {
	fs        *FileSystem
	typ       uint16
	readable  bool
	writeable bool
	inode     *Inode
	offset    uint32
}

// FileInfo is the result of Stat: a snapshot of an inode's metadata.
type FileInfo struct {
	Inum  uint32
	Type  uint16
	NLink uint16
	Size  uint32
}

// DirEntryInfo is one entry returned by Readdir.
type DirEntryInfo struct {
	Name string
	Inum uint32
	Type uint16
}

// Inum returns the handle's underlying inode number.
func (vf *VFile) Inum() uint32 { return vf.inode.Inum() }

// IsDir reports whether the handle refers to a directory.
func (vf *VFile) IsDir() bool { return vf.typ == TypeDir }

// Open resolves an existing path and returns a handle to it. Both files
// and directories may be opened this way; use CreateFile/CreateDir to
// make a new one.
func (fs *FileSystem) Open(path string, readable, writeable bool) (*VFile, error) {
	if err := fs.checkMounted(); err != nil {
		return nil, err
	}
	ip, err := fs.namei(path)
	if err != nil {
		return nil, err
	}
	if err := fs.ilock(ip); err != nil {
		fs.iput(ip)
		return nil, err
	}
	typ := ip.Type
	fs.iunlock(ip)
	return &VFile{fs: fs, typ: typ, readable: readable, writeable: writeable, inode: ip}, nil
}

// CreateFile creates a new regular file at path and returns an open
// handle to it. Fails with ErrExist if path's final component is already
// present.
func (fs *FileSystem) CreateFile(path string, readable, writeable bool) (*VFile, error) {
	return fs.createUnder(path, TypeFile, readable, writeable)
}

// CreateDir creates a new directory at path, populated with "." and
// "..", and returns an open handle to it.
func (fs *FileSystem) CreateDir(path string) (*VFile, error) {
	return fs.createUnder(path, TypeDir, true, true)
}

// createIn allocates a new inode of the requested type and links it into
// directory dp under name, populating "." and ".." for directories (the
// parent gains a link for the new child's ".."). dp must be locked and
// the caller must be inside a transaction. The returned inode is
// unlocked with one reference held.
func (fs *FileSystem) createIn(dp *Inode, name string, typ uint16) (*Inode, error) {
	if dp.Type != TypeDir {
		return nil, ErrNotDirectory
	}
	if existing, _, err := dirlookup(dp, name); err == nil {
		fs.iput(existing)
		return nil, ErrExist
	} else if err != ErrNotFound {
		return nil, err
	}

	ip, err := fs.ialloc(typ)
	if err != nil {
		return nil, err
	}
	if err := fs.ilock(ip); err != nil {
		fs.iput(ip)
		return nil, err
	}
	ip.NLink = 1
	if typ == TypeDir {
		// "." plus the entry in dp both reference the new inode; dp
		// itself gains a reference through the child's "..".
		ip.NLink = 2
		if err := dirlink(ip, ".", ip.Inum()); err != nil {
			fs.iunlockput(ip)
			return nil, err
		}
		if err := dirlink(ip, "..", dp.Inum()); err != nil {
			fs.iunlockput(ip)
			return nil, err
		}
		dp.NLink++
		if err := fs.iupdate(dp); err != nil {
			dp.NLink--
			fs.iunlockput(ip)
			return nil, err
		}
	}
	if err := fs.iupdate(ip); err != nil {
		fs.iunlockput(ip)
		return nil, err
	}
	if err := dirlink(dp, name, ip.Inum()); err != nil {
		fs.iunlockput(ip)
		return nil, err
	}
	fs.iunlock(ip)
	return ip, nil
}

// createUnder implements both CreateFile and CreateDir: resolve the
// parent, then createIn under the final path component, all in one
// transaction.
func (fs *FileSystem) createUnder(path string, typ uint16, readable, writeable bool) (*VFile, error) {
	if err := fs.checkMounted(); err != nil {
		return nil, err
	}
	var child *Inode
	err := fs.inTransaction(func() error {
		dp, name, err := fs.nameiparent(path)
		if err != nil {
			return err
		}
		if err := fs.ilock(dp); err != nil {
			fs.iput(dp)
			return err
		}
		child, err = fs.createIn(dp, name, typ)
		fs.iunlockput(dp)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &VFile{fs: fs, typ: typ, readable: readable, writeable: writeable, inode: child}, nil
}

// CreateUnder creates a new entry of the given type (TypeFile, TypeDir,
// or TypeDevice) named name directly under an open directory handle,
// without re-resolving a path. The new entry is returned as an open
// read/write handle.
func (fs *FileSystem) CreateUnder(dir *VFile, name string, typ uint16) (*VFile, error) {
	if err := fs.checkMounted(); err != nil {
		return nil, err
	}
	if dir.typ != TypeDir {
		return nil, ErrNotDirectory
	}
	var child *Inode
	err := fs.inTransaction(func() error {
		if err := fs.ilock(dir.inode); err != nil {
			return err
		}
		defer fs.iunlock(dir.inode)
		var err error
		child, err = fs.createIn(dir.inode, name, typ)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &VFile{fs: fs, typ: typ, readable: true, writeable: true, inode: child}, nil
}

// Lookup resolves path and returns a read/write handle to whatever it
// names, file or directory.
func (fs *FileSystem) Lookup(path string) (*VFile, error) {
	return fs.Open(path, true, true)
}

// OpenInum opens a handle to an already-known inode number directly,
// bypassing path resolution, for frontends that keep their own
// inode-number-keyed node cache instead of re-resolving a path for
// every call. The fuseadapter package does not use it: its nodes carry
// paths.
func (fs *FileSystem) OpenInum(inum uint32, readable, writeable bool) (*VFile, error) {
	if err := fs.checkMounted(); err != nil {
		return nil, err
	}
	ip := fs.iget(inum)
	if err := fs.ilock(ip); err != nil {
		fs.iput(ip)
		return nil, err
	}
	typ := ip.Type
	fs.iunlock(ip)
	return &VFile{fs: fs, typ: typ, readable: readable, writeable: writeable, inode: ip}, nil
}

// Read reads up to len(dst) bytes at the handle's current offset and
// advances it by the number of bytes read.
func (vf *VFile) Read(dst []byte) (int, error) {
	if !vf.readable {
		return 0, ErrInvalidType
	}
	if err := vf.fs.ilock(vf.inode); err != nil {
		return 0, err
	}
	n, err := vf.inode.readi(dst, vf.offset, uint32(len(dst)))
	vf.fs.iunlock(vf.inode)
	if n > 0 {
		vf.offset += uint32(n)
	}
	return n, err
}

// Write writes src at the handle's current offset, advancing it, in
// chunks bounded by maxWriteChunk with each chunk its own transaction
// so no single commit can overflow the log. Use Append to write
// starting at the current size.
func (vf *VFile) Write(src []byte) (int, error) {
	if !vf.writeable {
		return 0, ErrInvalidType
	}
	total := 0
	for total < len(src) {
		chunk := len(src) - total
		if chunk > maxWriteChunk {
			chunk = maxWriteChunk
		}
		var n int
		err := vf.fs.inTransaction(func() error {
			if err := vf.fs.ilock(vf.inode); err != nil {
				return err
			}
			defer vf.fs.iunlock(vf.inode)
			var werr error
			n, werr = vf.inode.writei(src[total:total+chunk], vf.offset, uint32(chunk))
			return werr
		})
		total += n
		vf.offset += uint32(n)
		if err != nil {
			return total, err
		}
		if n < chunk {
			return total, ErrNoSpace
		}
	}
	return total, nil
}

// Append writes src starting at the file's current size, growing it,
// using the same chunking as Write.
func (vf *VFile) Append(src []byte) (int, error) {
	if !vf.writeable {
		return 0, ErrInvalidType
	}
	if err := vf.fs.ilock(vf.inode); err != nil {
		return 0, err
	}
	off := vf.inode.Size
	vf.fs.iunlock(vf.inode)

	total := 0
	for total < len(src) {
		chunk := len(src) - total
		if chunk > maxWriteChunk {
			chunk = maxWriteChunk
		}
		var n int
		err := vf.fs.inTransaction(func() error {
			if err := vf.fs.ilock(vf.inode); err != nil {
				return err
			}
			defer vf.fs.iunlock(vf.inode)
			var werr error
			n, werr = vf.inode.writei(src[total:total+chunk], off, uint32(chunk))
			return werr
		})
		total += n
		off += uint32(n)
		if err != nil {
			return total, err
		}
		if n < chunk {
			return total, ErrNoSpace
		}
	}
	return total, nil
}

// ReadAt reads up to len(dst) bytes at the given absolute offset without
// moving the handle's sequential cursor, for callers (e.g. the FUSE
// frontend) that address by explicit offset rather than a stream
// position.
func (vf *VFile) ReadAt(dst []byte, off uint32) (int, error) {
	if !vf.readable {
		return 0, ErrInvalidType
	}
	if err := vf.fs.ilock(vf.inode); err != nil {
		return 0, err
	}
	defer vf.fs.iunlock(vf.inode)
	return vf.inode.readi(dst, off, uint32(len(dst)))
}

// WriteAt writes src at the given absolute offset without moving the
// handle's sequential cursor, chunked the same way as Write.
func (vf *VFile) WriteAt(src []byte, off uint32) (int, error) {
	if !vf.writeable {
		return 0, ErrInvalidType
	}
	total := 0
	for total < len(src) {
		chunk := len(src) - total
		if chunk > maxWriteChunk {
			chunk = maxWriteChunk
		}
		var n int
		err := vf.fs.inTransaction(func() error {
			if err := vf.fs.ilock(vf.inode); err != nil {
				return err
			}
			defer vf.fs.iunlock(vf.inode)
			var werr error
			n, werr = vf.inode.writei(src[total:total+chunk], off, uint32(chunk))
			return werr
		})
		total += n
		off += uint32(n)
		if err != nil {
			return total, err
		}
		if n < chunk {
			return total, ErrNoSpace
		}
	}
	return total, nil
}

// Stat returns a snapshot of the handle's inode metadata.
func (vf *VFile) Stat() (FileInfo, error) {
	if err := vf.fs.ilock(vf.inode); err != nil {
		return FileInfo{}, err
	}
	defer vf.fs.iunlock(vf.inode)
	return FileInfo{
		Inum:  vf.inode.Inum(),
		Type:  vf.inode.Type,
		NLink: vf.inode.NLink,
		Size:  vf.inode.Size,
	}, nil
}

// Readdir returns every non-empty entry of a directory handle.
func (vf *VFile) Readdir() ([]DirEntryInfo, error) {
	if vf.typ != TypeDir {
		return nil, ErrInvalidType
	}
	if err := vf.fs.ilock(vf.inode); err != nil {
		return nil, err
	}
	defer vf.fs.iunlock(vf.inode)

	var out []DirEntryInfo
	var de DirEntry
	var buf [direntSize]byte
	for off := uint32(0); off < vf.inode.Size; off += direntSize {
		n, err := vf.inode.readi(buf[:], off, direntSize)
		if err != nil {
			return nil, err
		}
		if n != direntSize {
			corrupt("readdir: short directory entry at offset %d", off)
		}
		de.unmarshal(buf[:])
		if de.Inum == 0 {
			continue
		}
		// An entry naming the directory itself (its ".", and ".." in the
		// root) must not be locked again: vf.inode is already held.
		typ := vf.inode.Type
		if uint32(de.Inum) != vf.inode.Inum() {
			child := vf.fs.iget(uint32(de.Inum))
			if err := vf.fs.ilock(child); err != nil {
				vf.fs.iput(child)
				return nil, err
			}
			typ = child.Type
			vf.fs.iunlockput(child)
		}
		out = append(out, DirEntryInfo{Name: de.name(), Inum: uint32(de.Inum), Type: typ})
	}
	return out, nil
}

// Truncate resizes the handle's inode to newSize, freeing any blocks
// beyond it.
func (vf *VFile) Truncate(newSize uint32) error {
	if !vf.writeable {
		return ErrInvalidType
	}
	return vf.fs.inTransaction(func() error {
		if err := vf.fs.ilock(vf.inode); err != nil {
			return err
		}
		defer vf.fs.iunlock(vf.inode)
		return vf.inode.itrunc(newSize)
	})
}

// Close releases the handle's reference to its inode. Dropping the last
// reference to an unlinked inode frees its data, which writes through
// the log, so Close opens its own transaction.
func (vf *VFile) Close() error {
	return vf.fs.inTransaction(func() error {
		return vf.fs.iput(vf.inode)
	})
}

// Link adds a new directory entry dst pointing at the same inode as
// src. Directories may not be linked: a second parent entry would make
// the tree a DAG and leave ".." ambiguous.
func (fs *FileSystem) Link(src, dst string) error {
	if err := fs.checkMounted(); err != nil {
		return err
	}
	return fs.inTransaction(func() error {
		ip, err := fs.namei(src)
		if err != nil {
			return err
		}
		if err := fs.ilock(ip); err != nil {
			fs.iput(ip)
			return err
		}
		if ip.Type == TypeDir {
			fs.iunlockput(ip)
			return ErrIsDirectory
		}
		ip.NLink++
		if err := fs.iupdate(ip); err != nil {
			ip.NLink--
			fs.iunlockput(ip)
			return err
		}
		fs.iunlock(ip)

		dp, name, err := fs.nameiparent(dst)
		if err != nil {
			fs.iput(ip)
			return err
		}
		if err := fs.ilock(dp); err != nil {
			fs.iput(dp)
			fs.iput(ip)
			return err
		}
		if dp.Type != TypeDir {
			fs.iunlockput(dp)
			fs.iput(ip)
			return ErrNotDirectory
		}
		if err := dirlink(dp, name, ip.Inum()); err != nil {
			fs.iunlockput(dp)

			fs.ilock(ip)
			ip.NLink--
			fs.iupdate(ip)
			fs.iunlockput(ip)
			return err
		}
		fs.iunlockput(dp)
		fs.iput(ip)
		return nil
	})
}

// Unlink removes the directory entry at path. If it was the last link
// to a non-directory inode, the inode's data is freed once the last
// open handle drops. Directories are rejected outright; there is no
// recursive or empty-directory removal.
func (fs *FileSystem) Unlink(path string) error {
	if err := fs.checkMounted(); err != nil {
		return err
	}
	return fs.inTransaction(func() error {
		dp, name, err := fs.nameiparent(path)
		if err != nil {
			return err
		}
		if err := fs.ilock(dp); err != nil {
			fs.iput(dp)
			return err
		}
		if dp.Type != TypeDir {
			fs.iunlockput(dp)
			return ErrNotDirectory
		}

		ip, _, err := dirlookup(dp, name)
		if err != nil {
			fs.iunlockput(dp)
			return err
		}
		if err := fs.ilock(ip); err != nil {
			fs.iunlockput(dp)
			fs.iput(ip)
			return err
		}
		if ip.Type == TypeDir {
			fs.iunlockput(ip)
			fs.iunlockput(dp)
			return ErrIsDirectory
		}

		ip.NLink--
		if err := fs.iupdate(ip); err != nil {
			ip.NLink++
			fs.iunlockput(ip)
			fs.iunlockput(dp)
			return err
		}
		removed := ip.NLink == 0
		fs.iunlock(ip)

		if err := dirunlink(dp, name); err != nil {
			fs.iunlockput(dp)
			fs.iput(ip)
			return err
		}
		fs.iunlockput(dp)
		_ = removed // iput below frees the inode's data when nlink==0
		return fs.iput(ip)
	})
}

// Rename adds oldPath's entry under newPath and removes the old one,
// atomically in one transaction.
func (fs *FileSystem) Rename(oldPath, newPath string) error {
	if err := fs.checkMounted(); err != nil {
		return err
	}
	return fs.inTransaction(func() error {
		oldDp, oldName, err := fs.nameiparent(oldPath)
		if err != nil {
			return err
		}
		if err := fs.ilock(oldDp); err != nil {
			fs.iput(oldDp)
			return err
		}
		ip, _, err := dirlookup(oldDp, oldName)
		if err != nil {
			fs.iunlockput(oldDp)
			return err
		}
		fs.iunlock(oldDp)

		newDp, newName, err := fs.nameiparent(newPath)
		if err != nil {
			fs.iput(oldDp)
			fs.iput(ip)
			return err
		}
		if err := fs.ilock(newDp); err != nil {
			fs.iput(newDp)
			fs.iput(oldDp)
			fs.iput(ip)
			return err
		}
		if dirlinkErr := dirlink(newDp, newName, ip.Inum()); dirlinkErr != nil {
			fs.iunlockput(newDp)
			fs.iput(oldDp)
			fs.iput(ip)
			return dirlinkErr
		}
		fs.iunlockput(newDp)

		if err := fs.ilock(oldDp); err != nil {
			fs.iput(oldDp)
			fs.iput(ip)
			return err
		}
		if err := dirunlink(oldDp, oldName); err != nil {
			fs.iunlockput(oldDp)
			fs.iput(ip)
			return err
		}
		fs.iunlockput(oldDp)
		fs.iput(ip)
		return nil
	})
}
