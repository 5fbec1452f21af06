// Package xv6fs implements a Unix-style on-disk file system meant to run
// inside a kernel or kernel-like environment: a fixed-capacity block
// cache, a write-ahead log that commits groups of block writes
// atomically, an inode subsystem addressing file data through direct and
// single-indirect blocks, and a directory/path-resolution layer on top.
//
// The package does not talk to real hardware or a real scheduler. Callers
// supply a BlockDevice and are expected to run each exported mutating
// operation to completion without the calling goroutine being killed
// mid-transaction; the package provides the locking and log disciplines
// that make concurrent callers and crashes safe, not the underlying I/O
// or scheduling primitives themselves.
package xv6fs
