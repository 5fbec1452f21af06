package xv6fs

import "strings"

// skipelem splits the next path element off the front of path, returning
// it along with the remainder (with leading slashes stripped). It
// returns ok==false once path is exhausted.
func skipelem(path string) (elem, rest string, ok bool) {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if len(path) == 0 {
		return "", "", false
	}
	i := strings.IndexByte(path, '/')
	if i < 0 {
		return path, "", true
	}
	elem = path[:i]
	rest = path[i+1:]
	for len(rest) > 0 && rest[0] == '/' {
		rest = rest[1:]
	}
	return elem, rest, true
}

// namex is the shared walk behind namei and nameiparent. This package
// only supports absolute paths: path must begin with '/'. When
// nameiparent is true, the walk stops one element short and returns the
// parent directory (unlocked, referenced) plus the final element's name
// instead of resolving it.
func (fs *FileSystem) namex(path string, nameiparent bool) (*Inode, string, error) {
	if len(path) == 0 || path[0] != '/' {
		return nil, "", ErrNotFound
	}

	ip := fs.iget(ROOTINO)
	path = path[1:]

	for {
		elem, rest, ok := skipelem(path)
		if !ok {
			if nameiparent {
				// Path was just "/": no parent to return.
				fs.iput(ip)
				return nil, "", ErrNotFound
			}
			return ip, "", nil
		}
		if len(elem) > DIRSIZ {
			fs.iput(ip)
			return nil, "", ErrNameTooLong
		}

		if err := fs.ilock(ip); err != nil {
			fs.iput(ip)
			return nil, "", err
		}
		if ip.Type != TypeDir {
			fs.iunlockput(ip)
			return nil, "", ErrNotDirectory
		}

		if nameiparent && rest == "" {
			fs.iunlock(ip)
			return ip, elem, nil
		}

		next, _, err := dirlookup(ip, elem)
		if err != nil {
			fs.iunlockput(ip)
			return nil, "", err
		}
		fs.iunlockput(ip)
		ip = next
		path = rest
	}
}

// namei resolves an absolute path to its inode, returned via iget
// (unlocked, caller must ilock before inspecting/mutating and
// iunlockput when done).
func (fs *FileSystem) namei(path string) (*Inode, error) {
	ip, _, err := fs.namex(path, false)
	return ip, err
}

// nameiparent resolves all but the last element of an absolute path,
// returning the parent directory (via iget, unlocked) and the final
// element's name. Used by create/link/unlink/rename, which need to hold
// the parent's lock only briefly and separately from the child's:
// parents are locked before children, never both held across a call
// that itself acquires a different inode's lock.
func (fs *FileSystem) nameiparent(path string) (*Inode, string, error) {
	return fs.namex(path, true)
}
