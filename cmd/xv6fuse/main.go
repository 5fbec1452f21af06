// Command xv6fuse mounts an xv6fs image at a host directory via FUSE,
// the demonstration user-facing binding for the fuseadapter package.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"

	"github.com/go-xv6/xv6fs"
	"github.com/go-xv6/xv6fs/fuseadapter"
)

const usage = `xv6fuse - mount an xv6fs image via FUSE

Usage:
  xv6fuse [-debug] <image> <mountpoint>
`

func main() {
	debug := flag.Bool("debug", false, "log FUSE operations")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(1)
	}
	imagePath, mountPoint := flag.Arg(0), flag.Arg(1)

	info, err := os.Stat(imagePath)
	if err != nil {
		log.Fatalf("xv6fuse: stat %s: %s", imagePath, err)
	}
	nblocks := uint32(info.Size() / xv6fs.BSIZE)

	dev, err := xv6fs.OpenFileDevice(imagePath, nblocks)
	if err != nil {
		log.Fatalf("xv6fuse: open %s: %s", imagePath, err)
	}
	defer dev.Close()

	fsys, err := xv6fs.Mount(dev)
	if err != nil {
		log.Fatalf("xv6fuse: mount: %s", err)
	}
	defer fsys.Unmount()

	opts := &fs.Options{}
	opts.Debug = *debug

	server, err := fuseadapter.Mount(mountPoint, fsys, opts)
	if err != nil {
		log.Fatalf("xv6fuse: fuse mount: %s", err)
	}
	log.Printf("xv6fuse: serving %s at %s", imagePath, mountPoint)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		server.Unmount()
	}()

	server.Wait()
}
