// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package feature

import (
	"github.com/grailbio/polish/circular"
	"github.com/grailbio/polish/pileup"
)

// windowQueue holds not-yet-evicted coordinates in the order they were first
// seen.
type windowQueue struct {
	ring circular.Ring
	buf  []pileup.Coord
}

func newWindowQueue(width int) windowQueue {
	// Room for one window plus the insertion columns of a few more positions
	// before the first resize.
	r := circular.NewRing(circular.NextExp2(2 * width))
	return windowQueue{ring: r, buf: make([]pileup.Coord, r.Cap())}
}

func (q *windowQueue) len() int { return q.ring.Len() }

func (q *windowQueue) push(c pileup.Coord) {
	if q.ring.Full() {
		grown := make([]pileup.Coord, circular.NextExp2(len(q.buf)))
		for i := 0; i < q.ring.Len(); i++ {
			grown[i] = q.buf[q.ring.Slot(i)]
		}
		q.ring.Relocated(len(grown))
		q.buf = grown
	}
	q.buf[q.ring.PushBack()] = c
}

// front returns a copy of the first n coordinates.
func (q *windowQueue) front(n int) []pileup.Coord {
	coords := make([]pileup.Coord, n)
	for i := range coords {
		coords[i] = q.buf[q.ring.Slot(i)]
	}
	return coords
}

// popFront removes the first n coordinates, calling fn on each in order.
func (q *windowQueue) popFront(n int, fn func(pileup.Coord)) {
	for i := 0; i < n; i++ {
		fn(q.buf[q.ring.Slot(i)])
	}
	q.ring.PopFront(n)
}
