package cache

import (
	"log"

	"github.com/sarchlab/akita/v4/mem/mem"
)

// BackingStore is the controller's port to the next level of the memory
// hierarchy. The controller keeps at most one operation outstanding and
// always passes block-aligned addresses.
//
// Both calls model one synchronous step. busy means the operation has not
// completed; the controller reissues the same call on the next step and
// keeps doing so for as long as the store stays busy. A store that never
// clears busy stalls the controller forever, which is the intended
// fail-stop behavior.
type BackingStore interface {
	// ReadBlock fetches one whole block. data is only meaningful when
	// busy is false.
	ReadBlock(addr uint64) (data []byte, busy bool)

	// WriteBlock stores one whole block.
	WriteBlock(addr uint64, data []byte) (busy bool)
}

type backingOp int

const (
	backingOpNone backingOp = iota
	backingOpRead
	backingOpWrite
)

// MemoryBacking adapts an akita Storage as the cache's backing store and
// models a fixed number of wait states per block operation. Latency 0
// completes an operation in the step that issues it; latency N reports
// busy for N steps first.
type MemoryBacking struct {
	storage   *mem.Storage
	blockSize int
	latency   int

	op       backingOp
	opAddr   uint64
	waitLeft int
}

// NewMemoryBacking creates a backing store over the given storage. The
// block size must match the cache geometry.
func NewMemoryBacking(
	storage *mem.Storage,
	blockSize int,
	latency int,
) *MemoryBacking {
	return &MemoryBacking{
		storage:   storage,
		blockSize: blockSize,
		latency:   latency,
	}
}

// StorageCapacity returns the storage capacity that spans an address space
// of the given width, saturating at the maximum uint64.
func StorageCapacity(addressWidth int) uint64 {
	if addressWidth >= 64 {
		return ^uint64(0)
	}
	return 1 << uint(addressWidth)
}

// ReadBlock fetches blockSize bytes at addr once the wait states elapse.
func (m *MemoryBacking) ReadBlock(addr uint64) ([]byte, bool) {
	if m.stillWaiting(backingOpRead, addr) {
		return nil, true
	}

	data, err := m.storage.Read(addr, uint64(m.blockSize))
	if err != nil {
		log.Panic(err)
	}

	return data, false
}

// WriteBlock stores the block at addr once the wait states elapse.
func (m *MemoryBacking) WriteBlock(addr uint64, data []byte) bool {
	if m.stillWaiting(backingOpWrite, addr) {
		return true
	}

	if err := m.storage.Write(addr, data); err != nil {
		log.Panic(err)
	}

	return false
}

// stillWaiting tracks the in-flight operation and counts down its wait
// states. An issue that does not match the in-flight operation starts a
// new one.
func (m *MemoryBacking) stillWaiting(op backingOp, addr uint64) bool {
	if m.op != op || m.opAddr != addr {
		m.op = op
		m.opAddr = addr
		m.waitLeft = m.latency
	}

	if m.waitLeft > 0 {
		m.waitLeft--
		return true
	}

	m.op = backingOpNone

	return false
}
