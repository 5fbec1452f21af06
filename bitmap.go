package xv6fs

// bitsPerBlock is the number of free-block bitmap bits stored in one
// block.
const bitsPerBlock = BSIZE * 8

// dataStart returns the first absolute block number of the data region.
// Every bit in the free bitmap corresponds to a data block at
// dataStart()+i, not to absolute block i: the bitmap only ever tracks
// the NBlocks data blocks, never the fixed metadata region ahead of it.
// The data region is always the tail of the image, so its start falls
// out of the superblock totals directly.
func (fs *FileSystem) dataStart() uint32 {
	return fs.sb.Size - fs.sb.NBlocks
}

// balloc scans the free bitmap from bit 0, finds the first clear bit,
// sets it, zeroes the corresponding data block, and logs both writes.
// Must be called inside an open transaction.
func (fs *FileSystem) balloc() (uint32, error) {
	dataStart := fs.dataStart()
	for base := uint32(0); base < fs.sb.NBlocks; base += bitsPerBlock {
		bmapBlock := fs.sb.BmapStart + base/bitsPerBlock
		b, err := fs.bc.Read(bmapBlock)
		if err != nil {
			return 0, err
		}
		data := b.Data()
		for bi := uint32(0); bi < bitsPerBlock && base+bi < fs.sb.NBlocks; bi++ {
			byteIdx := bi / 8
			mask := byte(1) << (bi % 8)
			if data[byteIdx]&mask != 0 {
				continue
			}
			data[byteIdx] |= mask
			fs.log.write(b)
			fs.bc.Release(b)

			bno := dataStart + base + bi
			zero, err := fs.bc.Read(bno)
			if err != nil {
				return 0, err
			}
			for i := range zero.Data() {
				zero.Data()[i] = 0
			}
			fs.log.write(zero)
			fs.bc.Release(zero)
			return bno, nil
		}
		fs.bc.Release(b)
	}
	return 0, ErrNoSpace
}

// bfree clears bno's bit in the free bitmap. bno is an absolute block
// number; it is converted back to a bitmap-relative index before the bit
// is located. Freeing an already-free block indicates a double-free, a
// structural corruption this package cannot recover from safely, as is
// freeing a block outside the data region the bitmap covers.
func (fs *FileSystem) bfree(absBno uint32) error {
	if absBno < fs.dataStart() || absBno-fs.dataStart() >= fs.sb.NBlocks {
		corrupt("bfree of block %d outside the data region", absBno)
	}
	bno := absBno - fs.dataStart()
	bmapBlock := fs.sb.BmapStart + bno/bitsPerBlock
	bi := bno % bitsPerBlock
	b, err := fs.bc.Read(bmapBlock)
	if err != nil {
		return err
	}
	defer fs.bc.Release(b)

	data := b.Data()
	byteIdx := bi / 8
	mask := byte(1) << (bi % 8)
	if data[byteIdx]&mask == 0 {
		corrupt("double free of block %d", bno)
	}
	data[byteIdx] &^= mask
	fs.log.write(b)
	return nil
}
