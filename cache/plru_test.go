package cache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cachesim/cache"
)

var _ = Describe("TreePLRU", func() {
	var (
		cfg  cache.Config
		dir  *cache.Directory
		plru *cache.TreePLRU
	)

	// two 4-way sets
	BeforeEach(func() {
		cfg = cache.Config{
			AddressWidth:  16,
			Capacity:      256,
			BlockSize:     32,
			Associativity: 4,
			WordWidth:     4,
		}

		var err error
		dir, err = cache.NewDirectory(cfg)
		Expect(err).NotTo(HaveOccurred())

		plru = cache.NewTreePLRU(cfg)
	})

	fillSet := func(index uint64) {
		for w := 0; w < cfg.Associativity; w++ {
			dir.SetValid(index, w, true)
		}
	}

	It("should prefer the lowest invalid way", func() {
		dir.SetValid(0, 0, true)
		dir.SetValid(0, 2, true)

		Expect(plru.FindVictim(dir, 0)).To(Equal(1))
	})

	It("should bypass the tree while any way is invalid", func() {
		dir.SetValid(0, 0, true)
		plru.RecordAccess(0, 1)

		Expect(plru.FindVictim(dir, 0)).To(Equal(1))
	})

	It("should pick way 0 on an untouched full set", func() {
		fillSet(0)

		Expect(plru.FindVictim(dir, 0)).To(Equal(0))
	})

	It("should pick way 0 after filling ways 0-3 in order", func() {
		for w := 0; w < 4; w++ {
			dir.SetValid(0, w, true)
			plru.RecordAccess(0, w)
		}

		Expect(plru.FindVictim(dir, 0)).To(Equal(0))
	})

	It("should never pick the just-accessed way of a full set", func() {
		fillSet(0)

		for w := 0; w < 4; w++ {
			plru.RecordAccess(0, w)
			Expect(plru.FindVictim(dir, 0)).NotTo(Equal(w))
		}
	})

	It("should track recency across an interleaved sequence", func() {
		fillSet(0)

		plru.RecordAccess(0, 0)
		plru.RecordAccess(0, 2)
		plru.RecordAccess(0, 1)
		plru.RecordAccess(0, 3)

		// Way 0 is the least recently used and the tree agrees here.
		Expect(plru.FindVictim(dir, 0)).To(Equal(0))
	})

	It("should keep per-set state independent", func() {
		fillSet(0)
		fillSet(1)
		plru.RecordAccess(1, 0)
		plru.RecordAccess(1, 1)

		Expect(plru.FindVictim(dir, 0)).To(Equal(0))
		Expect(plru.FindVictim(dir, 1)).To(Equal(2))
	})

	It("should forget recency on reset", func() {
		fillSet(0)
		plru.RecordAccess(0, 0)
		plru.RecordAccess(0, 1)

		plru.Reset()

		Expect(plru.FindVictim(dir, 0)).To(Equal(0))
	})

	Describe("Direct-mapped degeneration", func() {
		It("should always pick the sole way", func() {
			dmCfg := cfg
			dmCfg.Associativity = 1

			dmDir, err := cache.NewDirectory(dmCfg)
			Expect(err).NotTo(HaveOccurred())

			dm := cache.NewTreePLRU(dmCfg)
			Expect(dm.FindVictim(dmDir, 0)).To(Equal(0))

			dmDir.SetValid(0, 0, true)
			dm.RecordAccess(0, 0)
			Expect(dm.FindVictim(dmDir, 0)).To(Equal(0))
		})
	})

	Describe("8-way generalization", func() {
		It("should evict the untouched way after seven accesses", func() {
			w8 := cache.Config{
				AddressWidth:  16,
				Capacity:      256,
				BlockSize:     32,
				Associativity: 8,
				WordWidth:     4,
			}

			d8, err := cache.NewDirectory(w8)
			Expect(err).NotTo(HaveOccurred())

			p8 := cache.NewTreePLRU(w8)
			for w := 0; w < 8; w++ {
				d8.SetValid(0, w, true)
			}

			for w := 1; w < 8; w++ {
				p8.RecordAccess(0, w)
			}

			Expect(p8.FindVictim(d8, 0)).To(Equal(0))
		})
	})
})
