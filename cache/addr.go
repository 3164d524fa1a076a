package cache

// Fields is the decomposition of a request address into tag, set index, and
// intra-block byte offset.
type Fields struct {
	Tag    uint64
	Index  uint64
	Offset uint64
}

// Decompose splits an address by bit-slicing from the most-significant end:
// the top TagBits form the tag, the next IndexBits select the set, and the
// low OffsetBits locate the byte within the block. Bits above AddressWidth
// are ignored.
func (c Config) Decompose(addr uint64) Fields {
	addr &= lowMask(c.AddressWidth)

	offsetBits := c.OffsetBits()
	indexBits := c.IndexBits()

	return Fields{
		Tag:    addr >> uint(offsetBits+indexBits),
		Index:  (addr >> uint(offsetBits)) & lowMask(indexBits),
		Offset: addr & lowMask(offsetBits),
	}
}

// Recompose is the exact inverse of Decompose: tag ++ index ++ offset
// reconstructs the original AddressWidth-bit address.
func (c Config) Recompose(f Fields) uint64 {
	offsetBits := c.OffsetBits()
	indexBits := c.IndexBits()

	return f.Tag<<uint(offsetBits+indexBits) |
		f.Index<<uint(offsetBits) |
		f.Offset
}

// BlockAddress returns the block-aligned address for a tag/index pair. This
// is the form every backing store access uses.
func (c Config) BlockAddress(tag, index uint64) uint64 {
	return c.Recompose(Fields{Tag: tag, Index: index})
}

// WordOffset aligns an intra-block byte offset down to the word it falls
// in. Address bits finer than the word width do not select data.
func (c Config) WordOffset(offset uint64) uint64 {
	return offset &^ (uint64(c.WordWidth) - 1)
}

func lowMask(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(bits) - 1
}
