package xv6fs

import (
	"bytes"
	"encoding/binary"
	"reflect"
)

// fsMagic identifies an xv6fs image; read from block 1 at mount time and
// checked against corruption.
const fsMagic = 0x10203040

// Superblock is the read-only-after-init description of the on-disk
// layout. It is read once at Mount and never mutated afterwards.
type Superblock struct {
	Magic      uint32 // must equal fsMagic
	Size       uint32 // total blocks in the filesystem image
	NBlocks    uint32 // number of data blocks
	NInodes    uint32 // number of inodes
	NLog       uint32 // number of log blocks (header + body)
	LogStart   uint32 // block number of first log block
	InodeStart uint32 // block number of first inode block
	BmapStart  uint32 // block number of first free-bitmap block
}

// Every superblock field is a little-endian uint32 laid out in
// declaration order with no padding, so the codec below just walks the
// struct's fields reflectively instead of naming each one.
func (sb *Superblock) binarySize() int {
	return reflect.TypeOf(*sb).NumField() * 4
}

// MarshalBinary encodes the superblock as packed little-endian u32s.
func (sb *Superblock) MarshalBinary() ([]byte, error) {
	buf := make([]byte, sb.binarySize())
	v := reflect.ValueOf(*sb)
	for i := 0; i < v.NumField(); i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v.Field(i).Uint()))
	}
	return buf, nil
}

// UnmarshalBinary decodes a superblock from its packed on-disk form and
// validates the magic number. A bad magic is a corruption-class failure:
// it means the block device does not contain (or no longer contains) an
// xv6fs image, which every other read would then misinterpret.
func (sb *Superblock) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	v := reflect.ValueOf(sb).Elem()
	for i := 0; i < v.NumField(); i++ {
		var u32 uint32
		if err := binary.Read(r, binary.LittleEndian, &u32); err != nil {
			return err
		}
		v.Field(i).SetUint(uint64(u32))
	}
	if sb.Magic != fsMagic {
		corrupt("bad superblock magic 0x%x", sb.Magic)
	}
	return nil
}

// readSuperblock reads and validates the superblock from block 1.
func readSuperblock(dev BlockDevice) (*Superblock, error) {
	var blk [BSIZE]byte
	if err := dev.ReadBlock(1, blk[:]); err != nil {
		return nil, err
	}
	sb := &Superblock{}
	if err := sb.UnmarshalBinary(blk[:sb.binarySize()]); err != nil {
		return nil, err
	}
	return sb, nil
}

// writeSuperblock writes the superblock to block 1. Used only by Format;
// the superblock is read-only for the lifetime of a mount.
func writeSuperblock(dev BlockDevice, sb *Superblock) error {
	raw, err := sb.MarshalBinary()
	if err != nil {
		return err
	}
	var blk [BSIZE]byte
	copy(blk[:], raw)
	return dev.WriteBlock(1, blk[:])
}
