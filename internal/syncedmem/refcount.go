package syncedmem

import (
	"sync/atomic"

	"github.com/xupit3r/syncmem/internal/logging"
)

// RefCount counts the logical holders of a buffer. The counter itself is
// atomic, so holders on different goroutines may Retain and Drop without a
// lock. What a Drop to zero triggers is not covered by that guarantee.
type RefCount struct {
	n atomic.Int32
}

// Reset makes the caller the single holder
func (r *RefCount) Reset() {
	r.n.Store(1)
}

// Retain registers another holder
func (r *RefCount) Retain() {
	r.n.Add(1)
}

// Drop unregisters a holder and reports whether none remain. Dropping more
// holders than were registered is fatal.
func (r *RefCount) Drop() bool {
	n := r.n.Add(-1)
	if n < 0 {
		logging.Die(logging.Fields{"op": "decrease_reference", "refs": n},
			"too many releases: reference count dropped to %d", n)
	}
	return n == 0
}

// Load returns the current number of holders
func (r *RefCount) Load() int {
	return int(r.n.Load())
}
