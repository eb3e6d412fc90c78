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
package label_test

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/polish/encoding/bamprovider"
	"github.com/grailbio/polish/encoding/bamprovider/bamtest"
	"github.com/grailbio/polish/interval"
	"github.com/grailbio/polish/pileup"
	"github.com/grailbio/polish/pileup/label"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func newRef(t *testing.T) (*sam.Header, *sam.Reference) {
	h := bamtest.NewHeader(t, []string{"ctg"}, []int{100000})
	return h, h.Refs()[0]
}

func align(t *testing.T, ref *sam.Reference, pos int, cigar, seq string) *label.TargetAlign {
	r := bamtest.NewRecord(t, "truth", ref, pos, 0, cigar, seq)
	return &label.TargetAlign{Rec: r, Start: pileup.PosType(r.Pos), End: pileup.PosType(r.End())}
}

func c(pos, ins int) pileup.Coord {
	return pileup.Coord{Pos: pileup.PosType(pos), Ins: int32(ins)}
}

func TestPositionsAndLabels(t *testing.T) {
	_, ref := newRef(t)
	// 10:A 11:N 12:G +TT 13:A 14:C 15:del 16:G 17:T
	a := align(t, ref, 10, "2S3M2I2M1D2M", "ggANGTTACGT")

	coords, labels := label.PositionsAndLabels(a, interval.Entry{RefName: "ctg", Start0: 0, End: 1000})
	expect.EQ(t, coords, []pileup.Coord{c(10, 0), c(11, 0), c(12, 0), c(12, 1), c(12, 2), c(13, 0), c(14, 0), c(15, 0), c(16, 0), c(17, 0)})
	expect.EQ(t, labels, []pileup.Base{pileup.BaseA, pileup.BaseUnknown, pileup.BaseG, pileup.BaseT, pileup.BaseT,
		pileup.BaseA, pileup.BaseC, pileup.BaseGap, pileup.BaseG, pileup.BaseT})

	coords, labels = label.PositionsAndLabels(a, interval.Entry{RefName: "ctg", Start0: 12, End: 16})
	expect.EQ(t, coords, []pileup.Coord{c(12, 0), c(12, 1), c(12, 2), c(13, 0), c(14, 0), c(15, 0)})
	expect.EQ(t, len(labels), 6)

	// A trimmed alignment only labels its own span.
	a.Start = 14
	coords, _ = label.PositionsAndLabels(a, interval.Entry{RefName: "ctg", Start0: 0, End: 1000})
	expect.EQ(t, coords, []pileup.Coord{c(14, 0), c(15, 0), c(16, 0), c(17, 0)})
}

func TestIndex(t *testing.T) {
	_, ref := newRef(t)
	a := align(t, ref, 10, "3M2I4M", "ANGTTACGT")
	x := label.NewIndex(label.PositionsAndLabels(a, interval.Entry{RefName: "ctg", Start0: 0, End: 1000}))
	expect.EQ(t, x.Len(), 9)
	first, last, ok := x.Bounds()
	assert.True(t, ok)
	expect.EQ(t, first, c(10, 0))
	expect.EQ(t, last, c(16, 0))

	l, found := x.Label(c(12, 2))
	expect.True(t, found)
	expect.EQ(t, l, pileup.BaseT)

	labels, ok, err := x.Labels([]pileup.Coord{c(12, 0), c(12, 1), c(12, 2), c(12, 3), c(13, 0)})
	assert.NoError(t, err)
	assert.True(t, ok)
	expect.EQ(t, labels, []pileup.Base{pileup.BaseG, pileup.BaseT, pileup.BaseT, pileup.BaseGap, pileup.BaseA})

	// 11 is labelled N.
	_, ok, err = x.Labels([]pileup.Coord{c(10, 0), c(11, 0)})
	assert.NoError(t, err)
	expect.False(t, ok)

	_, _, err = x.Labels([]pileup.Coord{c(16, 0), c(17, 0)})
	expect.Regexp(t, err, "no label for position 17.0")

	_, _, ok = label.NewIndex(nil, nil).Bounds()
	expect.False(t, ok)
}

func TestFilter(t *testing.T) {
	_, ref := newRef(t)
	span := func(a *label.TargetAlign) [2]pileup.PosType { return [2]pileup.PosType{a.Start, a.End} }

	// Similar lengths, small overlap: both trimmed.
	a, b := align(t, ref, 0, "3000M", ""), align(t, ref, 2500, "3000M", "")
	kept := label.Filter([]*label.TargetAlign{a, b}, label.DefaultFilterOpts)
	assert.EQ(t, len(kept), 2)
	expect.EQ(t, span(kept[0]), [2]pileup.PosType{0, 2500})
	expect.EQ(t, span(kept[1]), [2]pileup.PosType{3000, 5500})

	// Similar lengths, large overlap: both dropped.
	kept = label.Filter([]*label.TargetAlign{align(t, ref, 0, "3000M", ""), align(t, ref, 500, "2800M", "")}, label.DefaultFilterOpts)
	expect.EQ(t, len(kept), 0)

	// Very different lengths, large overlap: the shorter is dropped.
	long := align(t, ref, 0, "10000M", "")
	kept = label.Filter([]*label.TargetAlign{long, align(t, ref, 1000, "2000M", "")}, label.DefaultFilterOpts)
	expect.EQ(t, kept, []*label.TargetAlign{long})

	// Very different lengths, small overlap: the later one is trimmed.
	g, h := align(t, ref, 0, "10000M", ""), align(t, ref, 9500, "3000M", "")
	kept = label.Filter([]*label.TargetAlign{g, h}, label.DefaultFilterOpts)
	assert.EQ(t, len(kept), 2)
	expect.EQ(t, span(kept[0]), [2]pileup.PosType{0, 10000})
	expect.EQ(t, span(kept[1]), [2]pileup.PosType{10000, 12500})

	// Too short.
	kept = label.Filter([]*label.TargetAlign{align(t, ref, 0, "500M", "")}, label.DefaultFilterOpts)
	expect.EQ(t, len(kept), 0)
	kept = label.Filter([]*label.TargetAlign{align(t, ref, 0, "500M", "")}, label.FilterOpts{LenRatio: 2, OverlapRatio: 0.5, MinLen: 100})
	expect.EQ(t, len(kept), 1)
}

func TestFetch(t *testing.T) {
	h, ref := newRef(t)
	recs := []*sam.Record{
		bamtest.NewRecord(t, "a", ref, 100, 0, "50M", ""),
		bamtest.NewRecord(t, "sec", ref, 120, sam.Secondary, "50M", ""),
		bamtest.NewRecord(t, "b", ref, 150, 0, "50M", ""),
		bamtest.NewRecord(t, "unmapped", ref, 160, sam.Unmapped, "50M", ""),
		bamtest.NewRecord(t, "far", ref, 5000, 0, "50M", ""),
	}
	aligns, err := label.Fetch(bamprovider.NewFakeProvider(h, recs), interval.Entry{RefName: "ctg", Start0: 120, End: 1000})
	assert.NoError(t, err)
	assert.EQ(t, len(aligns), 2)
	expect.EQ(t, aligns[0].Rec.Name, "a")
	expect.EQ(t, aligns[1].Rec.Name, "b")
	expect.EQ(t, aligns[1].Start, pileup.PosType(150))
	expect.EQ(t, aligns[1].End, pileup.PosType(200))
}
