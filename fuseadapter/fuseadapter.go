// Package fuseadapter wires xv6fs's VFile/path API onto go-fuse/v2's
// InodeEmbedder interfaces, following the shape of go-fuse's own
// loopback filesystem (fs/loopback.go): one Node per path, a FileHandle
// per open VFile. This is the one piece of user-facing syscall surface
// the module exposes; the kernel-internal core (block cache, log, inode
// subsystem) does not depend on it.
package fuseadapter

import (
	"context"
	"log"
	"path"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/go-xv6/xv6fs"
)

// Node is one filesystem entry, identified by its absolute xv6fs path.
// Unlike the loopback example there is no underlying OS path to
// re-derive the node's location from, so the path is carried directly
// on the node.
type Node struct {
	fs.Inode

	fsys *xv6fs.FileSystem
	path string
}

// NewRoot returns the InodeEmbedder for the filesystem root ("/").
func NewRoot(fsys *xv6fs.FileSystem) fs.InodeEmbedder {
	return &Node{fsys: fsys, path: "/"}
}

// Mount mounts fsys at dir using go-fuse's in-process server.
func Mount(dir string, fsys *xv6fs.FileSystem, opts *fs.Options) (*fuse.Server, error) {
	return fs.Mount(dir, NewRoot(fsys), opts)
}

func join(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return path.Join(dir, name)
}

// errno maps xv6fs's sentinel errors (errors.go) onto FUSE's syscall
// error codes. Corruption-class failures are not here: they panic in the
// xv6fs package and are never returned as an error to translate.
func errno(err error) syscall.Errno {
	switch err {
	case nil:
		return 0
	case xv6fs.ErrNotFound:
		return syscall.ENOENT
	case xv6fs.ErrExist:
		return syscall.EEXIST
	case xv6fs.ErrNoSpace:
		return syscall.ENOSPC
	case xv6fs.ErrInvalidOffset, xv6fs.ErrInvalidType:
		return syscall.EINVAL
	case xv6fs.ErrFileTooBig:
		return syscall.EFBIG
	case xv6fs.ErrIsDirectory:
		return syscall.EISDIR
	case xv6fs.ErrNotDirectory:
		return syscall.ENOTDIR
	case xv6fs.ErrNameTooLong:
		return syscall.ENAMETOOLONG
	default:
		log.Printf("xv6fuse: unmapped error: %s", err)
		return syscall.EIO
	}
}

func modeFor(typ uint16) uint32 {
	switch typ {
	case xv6fs.TypeDir:
		return syscall.S_IFDIR | 0755
	case xv6fs.TypeDevice:
		return syscall.S_IFCHR | 0600
	default:
		return syscall.S_IFREG | 0644
	}
}

func fillAttr(info xv6fs.FileInfo, out *fuse.Attr) {
	out.Ino = uint64(info.Inum)
	out.Size = uint64(info.Size)
	out.Mode = modeFor(info.Type)
	out.Nlink = uint32(info.NLink)
	if out.Nlink == 0 {
		out.Nlink = 1
	}
	out.Blocks = (out.Size + uint64(xv6fs.BSIZE) - 1) / uint64(xv6fs.BSIZE)
	out.Blksize = xv6fs.BSIZE
}

// statPath opens path read-only just long enough to snapshot its Stat.
func (n *Node) statPath(p string) (xv6fs.FileInfo, error) {
	vf, err := n.fsys.Open(p, true, false)
	if err != nil {
		return xv6fs.FileInfo{}, err
	}
	defer vf.Close()
	return vf.Stat()
}

func (n *Node) childNode(ctx context.Context, childPath string, info xv6fs.FileInfo) *fs.Inode {
	child := &Node{fsys: n.fsys, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{
		Mode: modeFor(info.Type),
		Ino:  uint64(info.Inum),
	})
}

var _ = (fs.NodeLookuper)((*Node)(nil))
var _ = (fs.NodeGetattrer)((*Node)(nil))
var _ = (fs.NodeOpendirer)((*Node)(nil))
var _ = (fs.NodeReaddirer)((*Node)(nil))
var _ = (fs.NodeOpener)((*Node)(nil))
var _ = (fs.NodeMkdirer)((*Node)(nil))
var _ = (fs.NodeCreater)((*Node)(nil))
var _ = (fs.NodeUnlinker)((*Node)(nil))
var _ = (fs.NodeLinker)((*Node)(nil))
var _ = (fs.NodeRenamer)((*Node)(nil))
var _ = (fs.NodeSetattrer)((*Node)(nil))

// Lookup resolves name within this directory and attaches it as a child
// Inode, mirroring loopbackNode.Lookup's stat-then-NewInode shape.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := join(n.path, name)
	info, err := n.statPath(childPath)
	if err != nil {
		return nil, errno(err)
	}
	fillAttr(info, &out.Attr)
	return n.childNode(ctx, childPath, info), 0
}

// Getattr snapshots the node's current metadata via a fresh Stat.
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if fg, ok := f.(fs.FileGetattrer); ok {
		return fg.Getattr(ctx, out)
	}
	info, err := n.statPath(n.path)
	if err != nil {
		return errno(err)
	}
	fillAttr(info, &out.Attr)
	return 0
}

// Setattr only honors truncation; the raw inode has no uid/gid/mtime
// fields to set.
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if sz, ok := in.GetSize(); ok {
		vf, err := n.fsys.Open(n.path, false, true)
		if err != nil {
			return errno(err)
		}
		defer vf.Close()
		if err := vf.Truncate(uint32(sz)); err != nil {
			return errno(err)
		}
	}
	return n.Getattr(ctx, f, out)
}

func (n *Node) Opendir(ctx context.Context) syscall.Errno {
	info, err := n.statPath(n.path)
	if err != nil {
		return errno(err)
	}
	if info.Type != xv6fs.TypeDir {
		return syscall.ENOTDIR
	}
	return 0
}

// Readdir lists the directory's live entries.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	vf, err := n.fsys.Lookup(n.path)
	if err != nil {
		return nil, errno(err)
	}
	defer vf.Close()
	entries, err := vf.Readdir()
	if err != nil {
		return nil, errno(err)
	}
	list := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, fuse.DirEntry{
			Name: e.Name,
			Ino:  uint64(e.Inum),
			Mode: modeFor(e.Type),
		})
	}
	return fs.NewListDirStream(list), 0
}

// Open returns a FileHandle wrapping a VFile opened in the requested
// mode, derived from the FUSE open flags the same way the kernel's own
// O_RDONLY/O_WRONLY/O_RDWR are interpreted.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	acc := flags & syscall.O_ACCMODE
	readable := acc == syscall.O_RDONLY || acc == syscall.O_RDWR
	writeable := acc == syscall.O_WRONLY || acc == syscall.O_RDWR
	vf, err := n.fsys.Open(n.path, readable, writeable)
	if err != nil {
		return nil, 0, errno(err)
	}
	return &File{vf: vf}, 0, 0
}

// Mkdir creates a subdirectory.
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := join(n.path, name)
	vf, err := n.fsys.CreateDir(childPath)
	if err != nil {
		return nil, errno(err)
	}
	info, statErr := vf.Stat()
	vf.Close()
	if statErr != nil {
		return nil, errno(statErr)
	}
	fillAttr(info, &out.Attr)
	return n.childNode(ctx, childPath, info), 0
}

// Create creates a regular file and returns an open handle to it in one
// step, as FUSE's CREATE opcode requires.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	childPath := join(n.path, name)
	vf, err := n.fsys.CreateFile(childPath, true, true)
	if err != nil {
		return nil, nil, 0, errno(err)
	}
	info, statErr := vf.Stat()
	if statErr != nil {
		vf.Close()
		return nil, nil, 0, errno(statErr)
	}
	fillAttr(info, &out.Attr)
	return n.childNode(ctx, childPath, info), &File{vf: vf}, 0, 0
}

// Unlink removes name's directory entry. Directories are rejected by
// the underlying xv6fs.Unlink, surfaced here as EISDIR.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return errno(n.fsys.Unlink(join(n.path, name)))
}

// Link adds a new name for target's inode within this directory.
func (n *Node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	src, ok := target.(*Node)
	if !ok {
		return nil, syscall.EXDEV
	}
	childPath := join(n.path, name)
	if err := n.fsys.Link(src.path, childPath); err != nil {
		return nil, errno(err)
	}
	info, err := n.statPath(childPath)
	if err != nil {
		return nil, errno(err)
	}
	fillAttr(info, &out.Attr)
	return n.childNode(ctx, childPath, info), 0
}

// Rename moves name into newParent under newName, atomically per
// xv6fs.Rename's single-transaction guarantee.
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	dst, ok := newParent.(*Node)
	if !ok {
		return syscall.EXDEV
	}
	return errno(n.fsys.Rename(join(n.path, name), join(dst.path, newName)))
}

// File wraps one open xv6fs.VFile as a go-fuse FileHandle. Reads and
// writes address by the explicit offset FUSE supplies per call (the
// kernel tracks the file position, not this handle), so it goes through
// VFile's ReadAt/WriteAt rather than the sequential Read/Write/Append
// used by non-FUSE callers.
type File struct {
	vf *xv6fs.VFile
}

var _ = (fs.FileReader)((*File)(nil))
var _ = (fs.FileWriter)((*File)(nil))
var _ = (fs.FileGetattrer)((*File)(nil))
var _ = (fs.FileReleaser)((*File)(nil))

func (f *File) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := f.vf.ReadAt(dest, uint32(off))
	if err != nil {
		return nil, errno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (f *File) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := f.vf.WriteAt(data, uint32(off))
	if err != nil {
		return uint32(n), errno(err)
	}
	return uint32(n), 0
}

func (f *File) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	info, err := f.vf.Stat()
	if err != nil {
		return errno(err)
	}
	fillAttr(info, &out.Attr)
	return 0
}

func (f *File) Release(ctx context.Context) syscall.Errno {
	return errno(f.vf.Close())
}
