package xv6fs

// Fixed filesystem parameters. These mirror the classic xv6 fs.h
// constants: a small block size, a handful of direct blocks plus one
// indirect block per inode, and small fixed-size caches sized for a
// kernel-resident filesystem rather than a general-purpose one.
const (
	// BSIZE is the block size in bytes. All on-disk structures are laid
	// out assuming this block size; it is fixed at build time, not read
	// from the superblock.
	BSIZE = 1024

	// NDIRECT is the number of direct block pointers stored inline in a
	// raw inode.
	NDIRECT = 12

	// NINDIRECT is the number of block numbers that fit in one indirect
	// block (each entry is a uint32).
	NINDIRECT = BSIZE / 4

	// MAXFILE is the largest file size representable by the
	// direct+single-indirect addressing scheme, in blocks.
	MAXFILE = NDIRECT + NINDIRECT

	// DIRSIZ is the maximum length of one path component / directory
	// entry name, NUL-padded if shorter.
	DIRSIZ = 14

	// ROOTINO is the inode number of the filesystem root directory.
	ROOTINO = 1

	// NBUF is the number of buffers in the block cache. Exhausting this
	// with every buffer pinned is a fatal condition.
	NBUF = 30

	// NINODE is the number of simultaneously-cached in-memory inodes.
	NINODE = 50

	// LOGSIZE is the number of block-sized slots reserved for the log
	// body, i.e. the largest number of distinct blocks one commit can
	// cover.
	LOGSIZE = 30

	// MAXOPBLOCKS is the most distinct blocks a single logged operation
	// (begin_op..end_op) is allowed to dirty: the inode, one indirect
	// block, up to two bitmap blocks, and slop for non-block-aligned
	// writes touching two blocks.
	MAXOPBLOCKS = 10

	// NLOG is the number of on-disk log blocks: one header block plus
	// LOGSIZE body blocks.
	NLOG = LOGSIZE + 1
)

// Raw inode type tags, as stored in RawInode.Type on disk.
const (
	TypeFree   = 0
	TypeDir    = 1
	TypeFile   = 2
	TypeDevice = 3
)
