package cache

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
)

// State identifies a controller state-machine state.
type State int

const (
	// StateIdle accepts a new request.
	StateIdle State = iota

	// StateCompare probes all ways of the indexed set for the request's
	// tag.
	StateCompare

	// StateAllocate selects a victim way after a miss. It shares the
	// compare step and never persists across steps.
	StateAllocate

	// StateWriteBack flushes a dirty victim block to the backing store.
	StateWriteBack

	// StateFill fetches the requested block from the backing store.
	StateFill
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCompare:
		return "Compare"
	case StateAllocate:
		return "Allocate"
	case StateWriteBack:
		return "WriteBack"
	case StateFill:
		return "Fill"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrBadRequest reports a request whose data or byte-enable length
	// does not match the configured word width.
	ErrBadRequest = errors.New("cache: malformed request")

	// ErrRequestChanged reports a requester that did not hold its request
	// steady while stalled, or submitted a new request while one was in
	// flight.
	ErrRequestChanged = errors.New("cache: request changed while stalled")
)

// A Request is one read or write presented by the requester. While the
// controller stalls the requester, the same request must be re-presented
// unchanged on every step.
type Request struct {
	Address uint64
	IsWrite bool

	// Data is the word to write; its length must equal the configured
	// word width. Ignored on reads.
	Data []byte

	// ByteEnable selects which bytes of Data are written. nil writes the
	// full word.
	ByteEnable []bool
}

// A Result is the controller's answer for one step.
type Result struct {
	// Done reports whether the request completed this step. False is the
	// stall signal: the requester must re-present the same request on the
	// next step.
	Done bool

	// Data is the word read, on a completed read request.
	Data []byte
}

// Statistics holds controller event counts.
type Statistics struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
	StallSteps uint64
}

// HitRate returns Hits / (Hits + Misses).
func (s Statistics) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// A Controller services one blocking request at a time against a backing
// store, with write-back and write-allocate semantics. It owns the
// Directory and the replacement state exclusively.
type Controller struct {
	cfg     Config
	dir     *Directory
	victims VictimFinder
	backing BackingStore

	state  State
	req    Request
	fields Fields
	victim int
	missed bool

	stats Statistics
}

// NewController builds a controller for the given geometry. The config is
// validated once here; an invalid combination fails construction.
func NewController(cfg Config, backing BackingStore) (*Controller, error) {
	dir, err := NewDirectory(cfg)
	if err != nil {
		return nil, err
	}

	return &Controller{
		cfg:     cfg,
		dir:     dir,
		victims: NewTreePLRU(cfg),
		backing: backing,
		state:   StateIdle,
	}, nil
}

// Config returns the cache geometry.
func (c *Controller) Config() Config {
	return c.cfg
}

// State returns the current state-machine state.
func (c *Controller) State() State {
	return c.state
}

// Stats returns the controller statistics.
func (c *Controller) Stats() Statistics {
	return c.stats
}

// ResetStats clears the controller statistics.
func (c *Controller) ResetStats() {
	c.stats = Statistics{}
}

// Directory exposes the directory for inspection. Mutating it bypasses the
// controller's invariants.
func (c *Controller) Directory() *Directory {
	return c.dir
}

// Reset invalidates every way of every set, clears the replacement state
// and statistics, and returns to Idle. Dirty blocks are dropped without
// write-back.
func (c *Controller) Reset() {
	c.dir.Reset()
	c.victims.Reset()
	c.state = StateIdle
	c.req = Request{}
	c.missed = false
	c.stats = Statistics{}
}

// Submit presents a request and advances the controller by one step.
//
// In Idle the request is accepted and compared in the same step; a hit
// completes immediately. On a miss the result stalls and the requester
// must re-present the identical request each following step until Done.
// Submitting different request fields while stalled returns
// ErrRequestChanged and leaves the in-flight request undisturbed.
func (c *Controller) Submit(req Request) (Result, error) {
	res, err := c.step(req)
	if err == nil && !res.Done {
		c.stats.StallSteps++
	}

	return res, err
}

func (c *Controller) step(req Request) (Result, error) {
	switch c.state {
	case StateIdle:
		if err := c.checkRequest(req); err != nil {
			return Result{}, err
		}
		c.accept(req)
		return c.compare(), nil

	case StateCompare:
		if !c.sameRequest(req) {
			return Result{}, ErrRequestChanged
		}
		return c.compare(), nil

	case StateWriteBack:
		if !c.sameRequest(req) {
			return Result{}, ErrRequestChanged
		}
		return c.writeBack(), nil

	case StateFill:
		if !c.sameRequest(req) {
			return Result{}, ErrRequestChanged
		}
		return c.fill(), nil

	default:
		panic(fmt.Sprintf("cache: controller stepped in state %s", c.state))
	}
}

func (c *Controller) checkRequest(req Request) error {
	if req.IsWrite && len(req.Data) != c.cfg.WordWidth {
		return fmt.Errorf("%w: write data is %d bytes, word width is %d",
			ErrBadRequest, len(req.Data), c.cfg.WordWidth)
	}

	if req.IsWrite && req.ByteEnable != nil &&
		len(req.ByteEnable) != c.cfg.WordWidth {
		return fmt.Errorf("%w: byte enable is %d bytes, word width is %d",
			ErrBadRequest, len(req.ByteEnable), c.cfg.WordWidth)
	}

	return nil
}

func (c *Controller) accept(req Request) {
	c.req = req
	c.fields = c.cfg.Decompose(req.Address)
	c.missed = false
	c.state = StateCompare

	if req.IsWrite {
		c.stats.Writes++
	} else {
		c.stats.Reads++
	}
}

func (c *Controller) sameRequest(req Request) bool {
	return req.Address == c.req.Address &&
		req.IsWrite == c.req.IsWrite &&
		(!req.IsWrite ||
			(bytes.Equal(req.Data, c.req.Data) &&
				slices.Equal(req.ByteEnable, c.req.ByteEnable)))
}

// compare probes the indexed set. A hit completes the request in this
// step; a miss runs victim selection in the same step and moves to the
// write-back or fill state for the next one.
func (c *Controller) compare() Result {
	way, ok := c.dir.Lookup(c.fields.Index, c.fields.Tag)
	if ok {
		return c.complete(way)
	}

	if !c.missed {
		c.missed = true
		c.stats.Misses++
	}

	c.allocate()

	return Result{}
}

func (c *Controller) complete(way int) Result {
	if !c.missed {
		c.stats.Hits++
	}

	index := c.fields.Index
	offset := c.cfg.WordOffset(c.fields.Offset)
	res := Result{Done: true}

	if c.req.IsWrite {
		c.dir.WriteWord(index, way, offset, c.req.Data, c.req.ByteEnable)
		c.dir.SetDirty(index, way, true)
	} else {
		res.Data = c.dir.ReadWord(index, way, offset)
	}

	c.victims.RecordAccess(index, way)
	c.state = StateIdle

	return res
}

func (c *Controller) allocate() {
	c.state = StateAllocate
	c.victim = c.victims.FindVictim(c.dir, c.fields.Index)

	if c.dir.Valid(c.fields.Index, c.victim) {
		c.stats.Evictions++
		if c.dir.Dirty(c.fields.Index, c.victim) {
			c.state = StateWriteBack
			return
		}
	}

	c.state = StateFill
}

// writeBack issues the victim's block to the backing store at its
// reconstructed address and repeats while the store is busy.
func (c *Controller) writeBack() Result {
	index := c.fields.Index
	addr := c.cfg.BlockAddress(c.dir.Tag(index, c.victim), index)

	if busy := c.backing.WriteBlock(addr, c.dir.Block(index, c.victim)); busy {
		return Result{}
	}

	c.stats.Writebacks++
	c.state = StateFill

	return Result{}
}

// fill fetches the requested block, installs it clean into the victim way,
// and loops back to compare, which then hits and applies the ordinary
// read or write path. A write miss therefore merges its data through the
// same path as a write hit.
func (c *Controller) fill() Result {
	index := c.fields.Index
	addr := c.cfg.BlockAddress(c.fields.Tag, index)

	data, busy := c.backing.ReadBlock(addr)
	if busy {
		return Result{}
	}

	c.dir.PutBlock(index, c.victim, data)
	c.dir.SetTag(index, c.victim, c.fields.Tag)
	c.dir.SetValid(index, c.victim, true)
	c.dir.SetDirty(index, c.victim, false)
	c.victims.RecordAccess(index, c.victim)
	c.state = StateCompare

	return Result{}
}
