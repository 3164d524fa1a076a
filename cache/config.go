// Package cache implements a blocking, write-back, write-allocate cache
// controller parameterized by associativity, sitting between a single
// requester and a backing store.
//
// The controller is step-driven: every Submit call advances the model by one
// discrete step, and a request stalls (Result.Done == false) until it is
// fully serviced. Associativity 1 gives a direct-mapped cache; higher
// powers of two use tree pseudo-LRU victim selection.
package cache

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"os"
)

// Config holds the cache geometry. All fields are fixed at construction;
// derived quantities are exposed as methods and stay invariant for the life
// of the components built from the config.
type Config struct {
	// AddressWidth is the width of request addresses in bits (max 64).
	AddressWidth int `json:"address_width"`

	// Capacity is the total data capacity in bytes. It must be a multiple
	// of BlockSize * Associativity.
	Capacity int `json:"capacity"`

	// BlockSize is the cache line size in bytes (power of two).
	BlockSize int `json:"block_size"`

	// Associativity is the number of ways per set (power of two,
	// 1 = direct-mapped, max 64).
	Associativity int `json:"associativity"`

	// WordWidth is the request word size in bytes. It must divide
	// BlockSize.
	WordWidth int `json:"word_width"`
}

// DefaultConfig returns the geometry of a typical small L1 data cache:
// 32KB, 4-way, 64B lines, 8B words, 32-bit addresses.
func DefaultConfig() Config {
	return Config{
		AddressWidth:  32,
		Capacity:      32 * 1024,
		BlockSize:     64,
		Associativity: 4,
		WordWidth:     8,
	}
}

// DefaultDirectMappedConfig returns a direct-mapped variant of
// DefaultConfig.
func DefaultDirectMappedConfig() Config {
	c := DefaultConfig()
	c.Associativity = 1
	return c
}

// Validate checks the geometry. Components reject an invalid config at
// construction; nothing is re-checked per request.
func (c Config) Validate() error {
	if c.AddressWidth <= 0 || c.AddressWidth > 64 {
		return fmt.Errorf("address width must be in 1..64, got %d",
			c.AddressWidth)
	}

	if !isPowerOfTwo(c.BlockSize) {
		return fmt.Errorf("block size must be a power of two, got %d",
			c.BlockSize)
	}

	if !isPowerOfTwo(c.WordWidth) {
		return fmt.Errorf("word width must be a power of two, got %d",
			c.WordWidth)
	}

	if c.WordWidth > c.BlockSize {
		return fmt.Errorf("word width %d exceeds block size %d",
			c.WordWidth, c.BlockSize)
	}

	if !isPowerOfTwo(c.Associativity) {
		return fmt.Errorf("associativity must be a power of two, got %d",
			c.Associativity)
	}

	if c.Associativity > 64 {
		return fmt.Errorf(
			"associativity above 64 is not supported, got %d",
			c.Associativity)
	}

	setBytes := c.BlockSize * c.Associativity
	if c.Capacity <= 0 || c.Capacity%setBytes != 0 {
		return fmt.Errorf(
			"capacity %d is not a multiple of blockSize*associativity (%d)",
			c.Capacity, setBytes)
	}

	if !isPowerOfTwo(c.Capacity / setBytes) {
		return fmt.Errorf("number of sets must be a power of two, got %d",
			c.Capacity/setBytes)
	}

	if c.TagBits() <= 0 {
		return fmt.Errorf(
			"no tag bits left: addressWidth=%d, indexBits=%d, offsetBits=%d",
			c.AddressWidth, c.IndexBits(), c.OffsetBits())
	}

	return nil
}

// NumSets returns the number of sets, Capacity / (BlockSize *
// Associativity).
func (c Config) NumSets() int {
	return c.Capacity / (c.BlockSize * c.Associativity)
}

// OffsetBits returns the number of intra-block address bits.
func (c Config) OffsetBits() int {
	return log2(c.BlockSize)
}

// IndexBits returns the number of set-index address bits.
func (c Config) IndexBits() int {
	return log2(c.NumSets())
}

// TagBits returns the number of tag address bits.
func (c Config) TagBits() int {
	return c.AddressWidth - c.IndexBits() - c.OffsetBits()
}

// WordsPerBlock returns BlockSize / WordWidth.
func (c Config) WordsPerBlock() int {
	return c.BlockSize / c.WordWidth
}

// LoadConfig loads a Config from a JSON file. Missing fields keep their
// DefaultConfig values. The loaded config is validated.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read cache config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse cache config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid cache config: %w", err)
	}

	return config, nil
}

// SaveConfig writes the Config to a JSON file.
func (c Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache config file: %w", err)
	}

	return nil
}

func isPowerOfTwo(v int) bool {
	return v > 0 && v&(v-1) == 0
}

func log2(v int) int {
	return bits.TrailingZeros64(uint64(v))
}
