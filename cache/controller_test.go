package cache_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cachesim/cache"
)

// scriptedBacking is a test double for the backing store port. It records
// the order of completed block operations and can hold each operation busy
// for a fixed number of steps.
type scriptedBacking struct {
	blockSize int
	readWait  int
	writeWait int

	blocks map[uint64][]byte

	opKey    string
	waitLeft int

	log    []string
	writes map[uint64][]byte
}

func newScriptedBacking(blockSize int) *scriptedBacking {
	return &scriptedBacking{
		blockSize: blockSize,
		blocks:    make(map[uint64][]byte),
		writes:    make(map[uint64][]byte),
	}
}

func (b *scriptedBacking) preload(addr uint64, data []byte) {
	block := make([]byte, b.blockSize)
	copy(block, data)
	b.blocks[addr] = block
}

func (b *scriptedBacking) wait(op string, addr uint64, waitStates int) bool {
	key := fmt.Sprintf("%s 0x%02x", op, addr)
	if b.opKey != key {
		b.opKey = key
		b.waitLeft = waitStates
	}

	if b.waitLeft > 0 {
		b.waitLeft--
		return true
	}

	b.opKey = ""
	b.log = append(b.log, key)

	return false
}

func (b *scriptedBacking) ReadBlock(addr uint64) ([]byte, bool) {
	if b.wait("R", addr, b.readWait) {
		return nil, true
	}

	block, ok := b.blocks[addr]
	if !ok {
		block = make([]byte, b.blockSize)
	}

	data := make([]byte, b.blockSize)
	copy(data, block)

	return data, false
}

func (b *scriptedBacking) WriteBlock(addr uint64, data []byte) bool {
	if b.wait("W", addr, b.writeWait) {
		return true
	}

	block := make([]byte, b.blockSize)
	copy(block, data)
	b.blocks[addr] = block
	b.writes[addr] = block

	return false
}

// drive re-presents req until the controller reports done, returning the
// read data and the number of steps taken.
func drive(ctrl *cache.Controller, req cache.Request) ([]byte, int) {
	GinkgoHelper()

	steps := 0
	for {
		res, err := ctrl.Submit(req)
		Expect(err).NotTo(HaveOccurred())
		steps++

		if res.Done {
			return res.Data, steps
		}

		Expect(steps).To(BeNumerically("<", 100), "controller stuck")
	}
}

func readReq(addr uint64) cache.Request {
	return cache.Request{Address: addr}
}

func writeReq(addr uint64, data ...byte) cache.Request {
	return cache.Request{Address: addr, IsWrite: true, Data: data}
}

var _ = Describe("Controller", func() {
	Describe("Direct-mapped, 64B capacity, 32B blocks", func() {
		var (
			cfg     cache.Config
			backing *scriptedBacking
			ctrl    *cache.Controller
		)

		// 2 sets; addresses 0x00 and 0x40 share index 0 with different
		// tags.
		BeforeEach(func() {
			cfg = cache.Config{
				AddressWidth:  8,
				Capacity:      64,
				BlockSize:     32,
				Associativity: 1,
				WordWidth:     4,
			}

			backing = newScriptedBacking(cfg.BlockSize)

			var err error
			ctrl, err = cache.NewController(cfg, backing)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should reject an invalid geometry", func() {
			cfg.AddressWidth = 6 // no tag bits left
			_, err := cache.NewController(cfg, backing)
			Expect(err).To(HaveOccurred())
		})

		It("should miss on a cold cache and return backing data", func() {
			backing.preload(0x00, []byte{0xEF, 0xBE, 0xAD, 0xDE})

			data, steps := drive(ctrl, readReq(0x00))
			Expect(data).To(Equal([]byte{0xEF, 0xBE, 0xAD, 0xDE}))
			Expect(steps).To(Equal(3)) // compare, fill, compare

			stats := ctrl.Stats()
			Expect(stats.Misses).To(Equal(uint64(1)))
			Expect(stats.Hits).To(BeZero())
		})

		It("should hit in one step after a fill", func() {
			drive(ctrl, readReq(0x00))

			_, steps := drive(ctrl, readReq(0x04))
			Expect(steps).To(Equal(1))
			Expect(ctrl.Stats().Hits).To(Equal(uint64(1)))
		})

		It("should return written bytes on a read of the same address", func() {
			drive(ctrl, writeReq(0x10, 0x01, 0x02, 0x03, 0x04))

			data, _ := drive(ctrl, readReq(0x10))
			Expect(data).To(Equal([]byte{0x01, 0x02, 0x03, 0x04}))
		})

		It("should merge only enabled bytes on a write hit", func() {
			backing.preload(0x00, []byte{0x11, 0x11, 0x11, 0x11})
			drive(ctrl, readReq(0x00))

			req := writeReq(0x00, 0xA0, 0xA1, 0xA2, 0xA3)
			req.ByteEnable = []bool{false, true, true, false}
			drive(ctrl, req)

			data, _ := drive(ctrl, readReq(0x00))
			Expect(data).To(Equal([]byte{0x11, 0xA1, 0xA2, 0x11}))
		})

		It("should write back a dirty victim before filling", func() {
			drive(ctrl, writeReq(0x00, 0xDE, 0xAD, 0xBE, 0xEF))

			_, steps := drive(ctrl, writeReq(0x40, 0x01, 0x02, 0x03, 0x04))
			Expect(steps).To(Equal(4)) // compare, write-back, fill, compare

			Expect(lastTwo(backing.log)).
				To(Equal([]string{"W 0x00", "R 0x40"}))
			Expect(backing.writes[0x00][:4]).
				To(Equal([]byte{0xDE, 0xAD, 0xBE, 0xEF}))
		})

		It("should not write back a clean victim", func() {
			drive(ctrl, readReq(0x00))

			_, steps := drive(ctrl, readReq(0x40))
			Expect(steps).To(Equal(3))
			Expect(backing.writes).To(BeEmpty())
			Expect(ctrl.Stats().Evictions).To(Equal(uint64(1)))
		})

		It("should install a write miss clean, then dirty it", func() {
			backing.preload(0x00, []byte{0x11, 0x11, 0x11, 0x11, 0x22})

			drive(ctrl, writeReq(0x00, 0xA0, 0xA1, 0xA2, 0xA3))

			// The rest of the fetched block survives the merge.
			data, _ := drive(ctrl, readReq(0x04))
			Expect(data[0]).To(Equal(byte(0x22)))

			// The merged block is dirty: evicting it writes back.
			drive(ctrl, readReq(0x40))
			Expect(backing.writes).To(HaveKey(uint64(0x00)))
			Expect(backing.writes[0x00][:4]).
				To(Equal([]byte{0xA0, 0xA1, 0xA2, 0xA3}))
		})

		It("should reconstruct the victim's address from its tag", func() {
			drive(ctrl, writeReq(0x64, 0x01, 0x02, 0x03, 0x04)) // index 1, tag 1
			drive(ctrl, readReq(0x24))                          // index 1, tag 0

			Expect(backing.writes).To(HaveKey(uint64(0x60)))
		})

		It("should stall for extra steps while the store is busy", func() {
			backing.readWait = 2

			_, steps := drive(ctrl, readReq(0x00))
			Expect(steps).To(Equal(5)) // compare, 2 busy, fill, compare
		})

		It("should reissue a busy write-back before filling", func() {
			backing.writeWait = 1
			drive(ctrl, writeReq(0x00, 0x01, 0x02, 0x03, 0x04))

			_, steps := drive(ctrl, readReq(0x40))
			Expect(steps).To(Equal(5)) // compare, busy, write-back, fill, compare
			Expect(lastTwo(backing.log)).
				To(Equal([]string{"W 0x00", "R 0x40"}))
		})

		It("should count stall steps", func() {
			drive(ctrl, readReq(0x00)) // 3 steps, 2 stalled
			drive(ctrl, readReq(0x04)) // hit, no stall

			Expect(ctrl.Stats().StallSteps).To(Equal(uint64(2)))
		})

		It("should reject a write with the wrong data length", func() {
			_, err := ctrl.Submit(cache.Request{
				Address: 0x00,
				IsWrite: true,
				Data:    []byte{0x01},
			})
			Expect(err).To(MatchError(cache.ErrBadRequest))
		})

		It("should reject a request that changes while stalled", func() {
			res, err := ctrl.Submit(readReq(0x00))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Done).To(BeFalse())

			_, err = ctrl.Submit(readReq(0x40))
			Expect(err).To(MatchError(cache.ErrRequestChanged))

			// The in-flight request still completes.
			_, steps := drive(ctrl, readReq(0x00))
			Expect(steps).To(Equal(2))
		})

		It("should miss everything after a reset", func() {
			drive(ctrl, writeReq(0x00, 0x01, 0x02, 0x03, 0x04))

			ctrl.Reset()

			dir := ctrl.Directory()
			for index := uint64(0); index < uint64(cfg.NumSets()); index++ {
				Expect(dir.Valid(index, 0)).To(BeFalse())
			}

			_, steps := drive(ctrl, readReq(0x00))
			Expect(steps).To(Equal(3))
			Expect(backing.writes).To(BeEmpty(), "reset drops dirty data")
		})
	})

	Describe("4-way, single set", func() {
		var (
			cfg     cache.Config
			backing *scriptedBacking
			ctrl    *cache.Controller
		)

		BeforeEach(func() {
			cfg = cache.Config{
				AddressWidth:  16,
				Capacity:      128,
				BlockSize:     32,
				Associativity: 4,
				WordWidth:     4,
			}

			backing = newScriptedBacking(cfg.BlockSize)

			var err error
			ctrl, err = cache.NewController(cfg, backing)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should fill all four ways without evicting", func() {
			for tag := uint64(0); tag < 4; tag++ {
				drive(ctrl, readReq(tag*32))
			}

			Expect(ctrl.Stats().Evictions).To(BeZero())
		})

		It("should evict way 0 after an in-order fill", func() {
			// Make the first block dirty so the eviction is observable.
			drive(ctrl, writeReq(0x00, 0x01, 0x02, 0x03, 0x04))
			for tag := uint64(1); tag < 4; tag++ {
				drive(ctrl, readReq(tag*32))
			}

			drive(ctrl, readReq(4*32))

			Expect(backing.writes).To(HaveKey(uint64(0x00)))
		})

		It("should keep recently hit ways resident", func() {
			for tag := uint64(0); tag < 4; tag++ {
				drive(ctrl, readReq(tag * 32))
			}

			// Re-touch block 0 so block 1 becomes the tree's victim.
			drive(ctrl, readReq(0x00))
			drive(ctrl, readReq(4 * 32))

			// Block 0 still hits in one step.
			_, steps := drive(ctrl, readReq(0x00))
			Expect(steps).To(Equal(1))
		})
	})
})

// lastTwo returns the final two entries of the backing store's log.
func lastTwo(log []string) []string {
	if len(log) < 2 {
		return log
	}
	return log[len(log)-2:]
}
