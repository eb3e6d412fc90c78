package circular_test

import (
	"testing"

	"github.com/grailbio/polish/circular"
	"github.com/grailbio/testutil/expect"
)

func TestNextExp2(t *testing.T) {
	expect.EQ(t, circular.NextExp2(1), 2)
	expect.EQ(t, circular.NextExp2(2), 4)
	expect.EQ(t, circular.NextExp2(90), 128)
	expect.EQ(t, circular.NextExp2(128), 256)
}

func TestRing(t *testing.T) {
	r := circular.NewRing(4)
	buf := make([]int, r.Cap())
	for i := 0; i < 4; i++ {
		buf[r.PushBack()] = i
	}
	expect.True(t, r.Full())
	r.PopFront(3)
	expect.EQ(t, r.Len(), 1)
	expect.EQ(t, buf[r.Slot(0)], 3)
	buf[r.PushBack()] = 4
	buf[r.PushBack()] = 5
	// Wrapped around.
	expect.EQ(t, r.Slot(2), 1)
	expect.EQ(t, []int{buf[r.Slot(0)], buf[r.Slot(1)], buf[r.Slot(2)]}, []int{3, 4, 5})

	grown := make([]int, 8)
	for i := 0; i < r.Len(); i++ {
		grown[i] = buf[r.Slot(i)]
	}
	r.Relocated(len(grown))
	expect.EQ(t, r.Cap(), 8)
	grown[r.PushBack()] = 6
	expect.EQ(t, grown[:4], []int{3, 4, 5, 6})
}
