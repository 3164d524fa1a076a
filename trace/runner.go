package trace

import (
	"errors"
	"fmt"

	"github.com/sarchlab/cachesim/cache"
)

// ErrStalled reports an access that did not complete within the step
// limit, which points at a backing store that never stops being busy.
var ErrStalled = errors.New("trace: access exceeded the step limit")

// An AccessResult records the outcome of one replayed access.
type AccessResult struct {
	Seq     int
	Address uint64
	Write   bool

	// Hit is true when the access completed in a single step.
	Hit bool

	// Steps is the number of steps the access occupied the controller.
	Steps int

	// Data is the word read, little-endian, for read accesses.
	Data uint64
}

// A Report summarizes one replay.
type Report struct {
	Accesses []AccessResult
	Steps    uint64
	Stats    cache.Statistics
}

// A Runner replays parsed accesses against a controller, re-presenting
// each request every step until the controller reports done.
type Runner struct {
	ctrl     *cache.Controller
	maxSteps int
	observer func(AccessResult)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMaxSteps caps the steps a single access may take before the replay
// fails with ErrStalled. Zero means unbounded, matching the controller's
// own fail-stop semantics.
func WithMaxSteps(n int) RunnerOption {
	return func(r *Runner) {
		r.maxSteps = n
	}
}

// WithObserver registers a callback invoked after every completed access.
func WithObserver(fn func(AccessResult)) RunnerOption {
	return func(r *Runner) {
		r.observer = fn
	}
}

// NewRunner creates a runner for the given controller.
func NewRunner(ctrl *cache.Controller, opts ...RunnerOption) *Runner {
	r := &Runner{ctrl: ctrl}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Play replays the accesses in order and returns the per-access results
// together with the controller's statistics.
func (r *Runner) Play(accesses []Access) (Report, error) {
	report := Report{}
	wordWidth := r.ctrl.Config().WordWidth

	for i, access := range accesses {
		req := cache.Request{
			Address: access.Address,
			IsWrite: access.IsWrite,
		}
		if access.IsWrite {
			req.Data = encodeWord(access.Data, wordWidth)
		}

		result := AccessResult{
			Seq:     i,
			Address: access.Address,
			Write:   access.IsWrite,
		}

		for {
			res, err := r.ctrl.Submit(req)
			if err != nil {
				return report, fmt.Errorf("access %d: %w", i, err)
			}

			result.Steps++
			report.Steps++

			if res.Done {
				result.Data = decodeWord(res.Data)
				break
			}

			if r.maxSteps > 0 && result.Steps >= r.maxSteps {
				return report, fmt.Errorf("access %d (0x%x): %w",
					i, access.Address, ErrStalled)
			}
		}

		result.Hit = result.Steps == 1
		report.Accesses = append(report.Accesses, result)

		if r.observer != nil {
			r.observer(result)
		}
	}

	report.Stats = r.ctrl.Stats()

	return report, nil
}

func encodeWord(value uint64, width int) []byte {
	data := make([]byte, width)
	for i := 0; i < width; i++ {
		data[i] = byte(value >> (8 * i))
	}

	return data
}

func decodeWord(data []byte) uint64 {
	var value uint64
	for i, b := range data {
		value |= uint64(b) << (8 * i)
	}

	return value
}
