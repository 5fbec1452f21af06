// Command mkfs formats a regular file as an xv6fs image, in the spirit
// of the classic xv6 mkfs.c.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/go-xv6/xv6fs"
)

const usage = `mkfs - format a file as an xv6fs image

Usage:
  mkfs [-size blocks] [-inodes n] <image>

Flags:
  -size blocks    total block count of the image (default 10000)
  -inodes n       number of inodes to reserve (default 200)
`

func main() {
	size := flag.Uint("size", 10000, "total block count")
	inodes := flag.Uint("inodes", 200, "number of inodes to reserve")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	imagePath := flag.Arg(0)

	dev, err := xv6fs.OpenFileDevice(imagePath, uint32(*size))
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %s\n", err)
		os.Exit(1)
	}
	defer dev.Close()

	if err := xv6fs.Format(dev, xv6fs.WithInodes(uint32(*inodes))); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("mkfs: formatted %s (%d blocks, %d inodes)\n", imagePath, *size, *inodes)
}
