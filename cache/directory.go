package cache

// A Directory keeps the per-set, per-way metadata (tag, valid, dirty) and
// the block data of the cache. Entries live in flat pre-sized arrays
// addressed by index*associativity+way, so no allocation happens after
// construction. The Controller is the sole mutator.
type Directory struct {
	cfg  Config
	ways []wayState
	data []byte
}

type wayState struct {
	tag   uint64
	valid bool
	dirty bool
}

// NewDirectory creates an all-invalid directory for the given geometry.
func NewDirectory(cfg Config) (*Directory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Directory{cfg: cfg}
	d.Reset()

	return d, nil
}

// Reset marks every way in every set invalid and not dirty. Tags and block
// contents are unspecified afterwards; they are never read while a way is
// invalid.
func (d *Directory) Reset() {
	numWays := d.cfg.NumSets() * d.cfg.Associativity
	d.ways = make([]wayState, numWays)
	d.data = make([]byte, numWays*d.cfg.BlockSize)
}

func (d *Directory) slot(index uint64, way int) int {
	return int(index)*d.cfg.Associativity + way
}

// Lookup probes all ways of a set for a valid entry with the given tag.
func (d *Directory) Lookup(index, tag uint64) (way int, ok bool) {
	base := d.slot(index, 0)
	for w := 0; w < d.cfg.Associativity; w++ {
		entry := &d.ways[base+w]
		if entry.valid && entry.tag == tag {
			return w, true
		}
	}

	return 0, false
}

// Tag returns the tag of a way.
func (d *Directory) Tag(index uint64, way int) uint64 {
	return d.ways[d.slot(index, way)].tag
}

// SetTag sets the tag of a way.
func (d *Directory) SetTag(index uint64, way int, tag uint64) {
	d.ways[d.slot(index, way)].tag = tag
}

// Valid returns the valid bit of a way.
func (d *Directory) Valid(index uint64, way int) bool {
	return d.ways[d.slot(index, way)].valid
}

// SetValid sets the valid bit of a way.
func (d *Directory) SetValid(index uint64, way int, valid bool) {
	d.ways[d.slot(index, way)].valid = valid
}

// Dirty returns the dirty bit of a way.
func (d *Directory) Dirty(index uint64, way int) bool {
	return d.ways[d.slot(index, way)].dirty
}

// SetDirty sets the dirty bit of a way.
func (d *Directory) SetDirty(index uint64, way int, dirty bool) {
	d.ways[d.slot(index, way)].dirty = dirty
}

// Block returns the data of a way. The returned slice aliases the
// directory's storage; callers must not retain it across mutations.
func (d *Directory) Block(index uint64, way int) []byte {
	start := d.slot(index, way) * d.cfg.BlockSize
	return d.data[start : start+d.cfg.BlockSize]
}

// PutBlock replaces the whole data block of a way.
func (d *Directory) PutBlock(index uint64, way int, data []byte) {
	copy(d.Block(index, way), data)
}

// ReadWord copies out one word at the given intra-block byte offset.
func (d *Directory) ReadWord(index uint64, way int, offset uint64) []byte {
	block := d.Block(index, way)
	word := make([]byte, d.cfg.WordWidth)
	copy(word, block[offset:offset+uint64(d.cfg.WordWidth)])

	return word
}

// WriteWord merges one word into the block at the given intra-block byte
// offset. mask selects the bytes to write; unmasked bytes keep their
// previous value. A nil mask writes the full word.
func (d *Directory) WriteWord(
	index uint64,
	way int,
	offset uint64,
	data []byte,
	mask []bool,
) {
	block := d.Block(index, way)
	for i := 0; i < d.cfg.WordWidth; i++ {
		if mask == nil || mask[i] {
			block[offset+uint64(i)] = data[i]
		}
	}
}
