package circular

import (
	"math/bits"

	"github.com/grailbio/base/log"
)

// NextExp2 returns the next power of 2 strictly greater than x.  (Useful when
// setting circular buffer size.)
func NextExp2(x int) int {
	log2 := 63 - bits.LeadingZeros64(uint64(x))
	return 2 << uint32(log2)
}

// Ring tracks the occupied slots of a power-of-two circular buffer whose
// storage is owned by the caller.  Elements are pushed at the back and popped
// from the front.
//
// Example:
//   r := circular.NewRing(16)
//   buf := make([]T, r.Cap())
//   buf[r.PushBack()] = x
//   first := buf[r.Slot(0)]
type Ring struct {
	head int
	n    int
	mask int
}

// NewRing creates an empty Ring.  capacity must be a power of two.
func NewRing(capacity int) Ring {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		log.Panicf("circular.NewRing: capacity %d is not a power of two", capacity)
	}
	return Ring{mask: capacity - 1}
}

// Len returns the number of occupied slots.
func (r *Ring) Len() int { return r.n }

// Cap returns the buffer size.
func (r *Ring) Cap() int { return r.mask + 1 }

// Full reports whether PushBack would overwrite the front element.
func (r *Ring) Full() bool { return r.n > r.mask }

// Slot returns the storage index of the i-th element from the front.
//
// REQUIRES: 0 <= i < Len().
func (r *Ring) Slot(i int) int { return (r.head + i) & r.mask }

// PushBack occupies one more slot at the back and returns its storage index.
//
// REQUIRES: !Full().
func (r *Ring) PushBack() int {
	if r.Full() {
		log.Panicf("circular.Ring.PushBack: ring of size %d is full", r.Cap())
	}
	slot := (r.head + r.n) & r.mask
	r.n++
	return slot
}

// PopFront releases the first k slots.
//
// REQUIRES: 0 <= k <= Len().
func (r *Ring) PopFront(k int) {
	if k < 0 || k > r.n {
		log.Panicf("circular.Ring.PopFront: cannot pop %d of %d", k, r.n)
	}
	r.head = (r.head + k) & r.mask
	r.n -= k
}

// Relocated tells the ring that the caller copied its elements, in order, to
// the start of a new buffer of the given power-of-two capacity.
func (r *Ring) Relocated(capacity int) {
	if capacity < r.n || capacity&(capacity-1) != 0 {
		log.Panicf("circular.Ring.Relocated: bad capacity %d for %d elements", capacity, r.n)
	}
	r.head = 0
	r.mask = capacity - 1
}
