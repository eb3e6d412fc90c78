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
package feature_test

import (
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/polish/encoding/bamprovider"
	"github.com/grailbio/polish/encoding/bamprovider/bamtest"
	"github.com/grailbio/polish/interval"
	"github.com/grailbio/polish/pileup"
	"github.com/grailbio/polish/pileup/column"
	"github.com/grailbio/polish/pileup/feature"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

// testRef[10:16] is "ACGTAC".
var testRef = strings.Repeat("ACGTACGTAC", 10)

type fixture struct {
	t   *testing.T
	h   *sam.Header
	ref *sam.Reference
}

func newFixture(t *testing.T) *fixture {
	h := bamtest.NewHeader(t, []string{"chr1"}, []int{len(testRef)})
	return &fixture{t: t, h: h, ref: h.Refs()[0]}
}

func (f *fixture) rec(name string, pos int, flags sam.Flags, cigar, seq string) *sam.Record {
	return bamtest.NewRecord(f.t, name, f.ref, pos, flags, cigar, seq)
}

func (f *fixture) run(opts feature.Opts, region interval.Entry, recs []*sam.Record, sample feature.Sampler) ([]*pileup.Window, feature.Stats) {
	var windows []*pileup.Window
	stats, err := feature.GenerateRegion(bamprovider.NewFakeProvider(f.h, recs), region, []byte(testRef), opts,
		column.DefaultOpts, sample, func(w *pileup.Window) error {
			windows = append(windows, w)
			return nil
		})
	assert.NoError(f.t, err)
	return windows, stats
}

func region(start, end int) interval.Entry {
	return interval.Entry{RefName: "chr1", Start0: pileup.PosType(start), End: pileup.PosType(end)}
}

// fixedSampler returns ids in turn, and remembers the valid sets it was
// offered.
type fixedSampler struct {
	ids    []column.ReadID
	n      int
	offers [][]column.ReadID
}

func (s *fixedSampler) sample(valid []column.ReadID) column.ReadID {
	s.offers = append(s.offers, append([]column.ReadID(nil), valid...))
	id := s.ids[s.n%len(s.ids)]
	s.n++
	return id
}

func coords(pairs ...int) []pileup.Coord {
	var c []pileup.Coord
	for i := 0; i < len(pairs); i += 2 {
		c = append(c, pileup.Coord{Pos: pileup.PosType(pairs[i]), Ins: int32(pairs[i+1])})
	}
	return c
}

// codes converts "ACGT*N" to forward codes, "acgtn" to reverse codes, and
// '_' to a reverse-strand gap.
func codes(s string) []pileup.Base {
	var b []pileup.Base
	for i := 0; i < len(s); i++ {
		if s[i] == '_' {
			b = append(b, pileup.BaseGap.Stranded(true))
			continue
		}
		c := strings.IndexByte(pileup.Alphabet, s[i])
		if c < 0 {
			c = strings.IndexByte(strings.ToLower(pileup.Alphabet), s[i]) + pileup.StrandOffset
		}
		b = append(b, pileup.Base(c))
	}
	return b
}

func TestSingleForwardRead(t *testing.T) {
	f := newFixture(t)
	opts := feature.Opts{Rows: 2, Width: 3, RefRows: 1, MaxIns: 3, EvictCount: 1}
	s := &fixedSampler{ids: []column.ReadID{0}}
	windows, stats := f.run(opts, region(0, 100), []*sam.Record{
		f.rec("a", 10, 0, "6M", "ACGTAC"),
	}, s.sample)

	assert.EQ(t, len(windows), 4)
	w := windows[0]
	expect.EQ(t, w.Contig, "chr1")
	expect.EQ(t, w.Coords, coords(10, 0, 11, 0, 12, 0))
	expect.EQ(t, w.Row(0), codes("ACG"))
	expect.EQ(t, w.Row(1), codes("ACG"))
	expect.EQ(t, windows[3].Coords, coords(13, 0, 14, 0, 15, 0))
	expect.EQ(t, windows[3].Row(1), codes("TAC"))
	expect.EQ(t, stats, feature.Stats{Columns: 6, Windows: 4})
}

func TestInsertionColumns(t *testing.T) {
	f := newFixture(t)
	opts := feature.Opts{Rows: 2, Width: 8, MaxIns: 3, EvictCount: 8}
	s := &fixedSampler{ids: []column.ReadID{0, 1}}
	windows, _ := f.run(opts, region(0, 100), []*sam.Record{
		f.rec("ins", 10, 0, "3M2I3M", "ACGTTTAC"),
		f.rec("plain", 10, 0, "6M", "ACGTAC"),
	}, s.sample)

	assert.EQ(t, len(windows), 1)
	w := windows[0]
	expect.EQ(t, w.Coords, coords(10, 0, 11, 0, 12, 0, 12, 1, 12, 2, 13, 0, 14, 0, 15, 0))
	expect.EQ(t, w.Row(0), codes("ACGTTTAC"))
	// The read without the insertion shows gaps inside its span.
	expect.EQ(t, w.Row(1), codes("ACG**TAC"))
}

func TestInsertionTruncation(t *testing.T) {
	f := newFixture(t)
	opts := feature.Opts{Rows: 1, Width: 6, MaxIns: 2, EvictCount: 6}
	s := &fixedSampler{ids: []column.ReadID{0}}
	windows, stats := f.run(opts, region(0, 100), []*sam.Record{
		f.rec("ins", 10, 0, "2M5I4M", "ACTTTTTGTAC"),
	}, s.sample)

	assert.EQ(t, len(windows), 1)
	expect.EQ(t, windows[0].Coords, coords(10, 0, 11, 0, 11, 1, 11, 2, 12, 0, 13, 0))
	expect.EQ(t, windows[0].Row(0), codes("ACTTGT"))
	expect.EQ(t, stats.TruncatedIns, 3)
}

func TestOutsideSpanIsUnknown(t *testing.T) {
	f := newFixture(t)
	opts := feature.Opts{Rows: 2, Width: 7, MaxIns: 3, EvictCount: 7}
	s := &fixedSampler{ids: []column.ReadID{0, 1}}
	windows, _ := f.run(opts, region(0, 100), []*sam.Record{
		f.rec("short", 10, 0, "5M", "ACGTA"),
		f.rec("long", 10, 0, "2M1D4M", "ACTACG"),
	}, s.sample)

	assert.EQ(t, len(windows), 1)
	w := windows[0]
	expect.EQ(t, w.Coords, coords(10, 0, 11, 0, 12, 0, 13, 0, 14, 0, 15, 0, 16, 0))
	// "short" ends at 14: 15 and 16 lie outside its span.
	expect.EQ(t, w.Row(0), codes("ACGTANN"))
	expect.EQ(t, w.Row(1), codes("AC*TACG"))
}

func TestReverseStrand(t *testing.T) {
	f := newFixture(t)
	opts := feature.Opts{Rows: 3, Width: 6, RefRows: 1, MaxIns: 3, EvictCount: 6}
	s := &fixedSampler{ids: []column.ReadID{0, 1}}
	windows, _ := f.run(opts, region(0, 100), []*sam.Record{
		f.rec("fwd", 10, 0, "6M", "ACGTAC"),
		f.rec("rev", 11, sam.Reverse, "1M1D2M", "CTA"),
	}, s.sample)

	assert.EQ(t, len(windows), 1)
	w := windows[0]
	expect.EQ(t, w.Row(0), codes("ACGTAC"))
	expect.EQ(t, w.Row(1), codes("ACGTAC"))
	// Every cell of a reverse read is shifted, including gaps and cells
	// outside its span.
	expect.EQ(t, w.Row(2), codes("nc_tan"))
	for _, b := range w.Row(2) {
		expect.True(t, b.Reverse())
	}
}

func TestValidReads(t *testing.T) {
	f := newFixture(t)
	opts := feature.Opts{Rows: 4, Width: 4, MaxIns: 3, EvictCount: 4}
	s := &fixedSampler{ids: []column.ReadID{1}}
	windows, _ := f.run(opts, region(0, 100), []*sam.Record{
		f.rec("noise", 10, 0, "4M", "NNNN"),
		f.rec("good", 10, 0, "4M", "ACGT"),
	}, s.sample)

	assert.EQ(t, len(windows), 1)
	for _, valid := range s.offers {
		expect.EQ(t, valid, []column.ReadID{1})
	}
	expect.EQ(t, len(s.offers), 4)
}

func TestEmptyPolicy(t *testing.T) {
	f := newFixture(t)
	recs := []*sam.Record{f.rec("noise", 10, 0, "6M", "NNNNNN")}
	s := &fixedSampler{ids: []column.ReadID{0}}

	opts := feature.Opts{Rows: 3, Width: 3, RefRows: 1, MaxIns: 3, EvictCount: 3}
	windows, stats := f.run(opts, region(0, 100), recs, s.sample)
	expect.EQ(t, len(windows), 0)
	expect.EQ(t, stats.Empty, 2)
	expect.EQ(t, len(s.offers), 0)

	opts.EmptyPolicy = feature.EmitUnknown
	windows, stats = f.run(opts, region(0, 100), recs, s.sample)
	assert.EQ(t, len(windows), 2)
	expect.EQ(t, stats.Empty, 2)
	expect.EQ(t, stats.Windows, 2)
	expect.EQ(t, len(s.offers), 0)
	expect.EQ(t, windows[0].Row(0), codes("ACG"))
	expect.EQ(t, windows[0].Row(1), codes("NNN"))
	expect.EQ(t, windows[1].Row(2), codes("NNN"))
}

func TestRegionBounds(t *testing.T) {
	f := newFixture(t)
	opts := feature.Opts{Rows: 1, Width: 2, MaxIns: 3, EvictCount: 1}
	s := &fixedSampler{ids: []column.ReadID{0}}
	windows, stats := f.run(opts, region(12, 15), []*sam.Record{
		f.rec("a", 10, 0, "8M", "ACGTACGT"),
	}, s.sample)

	assert.EQ(t, len(windows), 2)
	expect.EQ(t, windows[0].Coords, coords(12, 0, 13, 0))
	expect.EQ(t, windows[1].Coords, coords(13, 0, 14, 0))
	expect.EQ(t, stats.Columns, 3)
}

func TestRefSkip(t *testing.T) {
	f := newFixture(t)
	opts := feature.Opts{Rows: 2, Width: 6, MaxIns: 3, EvictCount: 6}
	s := &fixedSampler{ids: []column.ReadID{0, 1}}
	windows, _ := f.run(opts, region(0, 100), []*sam.Record{
		f.rec("spliced", 10, 0, "2M2N2M", "ACAC"),
		f.rec("plain", 10, 0, "6M", "ACGTAC"),
	}, s.sample)

	assert.EQ(t, len(windows), 1)
	expect.EQ(t, windows[0].Row(0), codes("AC**AC"))
	expect.EQ(t, windows[0].Row(1), codes("ACGTAC"))
}

func TestNewBuilderErrors(t *testing.T) {
	sample := feature.UniformSampler(rand.New(rand.NewSource(0)))
	emit := func(*pileup.Window) error { return nil }
	for _, tt := range []struct {
		opts feature.Opts
		ref  []byte
		err  string
	}{
		{feature.Opts{Rows: 1, Width: 0, EvictCount: 1}, nil, "width"},
		{feature.Opts{Rows: 0, Width: 3, EvictCount: 1}, nil, "rows"},
		{feature.Opts{Rows: 2, Width: 3, EvictCount: 4}, nil, "evict_count"},
		{feature.Opts{Rows: 2, Width: 3, EvictCount: 0}, nil, "evict_count"},
		{feature.Opts{Rows: 2, Width: 3, RefRows: 3, EvictCount: 1}, []byte(testRef), "ref_rows"},
		{feature.Opts{Rows: 2, Width: 3, RefRows: -1, EvictCount: 1}, nil, "ref_rows"},
		{feature.Opts{Rows: 2, Width: 3, MaxIns: -1, EvictCount: 1}, nil, "max_ins"},
		{feature.Opts{Rows: 2, Width: 3, EvictCount: 1, EmptyPolicy: 7}, nil, "empty policy"},
		{feature.Opts{Rows: 2, Width: 3, RefRows: 1, EvictCount: 1}, nil, "without a reference"},
	} {
		_, err := feature.NewBuilder(tt.opts, region(0, 10), tt.ref, sample, emit)
		expect.Regexp(t, err, tt.err, "opts %+v", tt.opts)
	}
	_, err := feature.NewBuilder(feature.DefaultOpts, region(0, 10), nil, nil, emit)
	expect.Regexp(t, err, "sampler")
	_, err = feature.NewBuilder(feature.DefaultOpts, region(10, 10), nil, sample, emit)
	expect.Regexp(t, err, "empty region")
	_, err = feature.NewBuilder(feature.DefaultOpts, region(0, 10), nil, sample, emit)
	expect.NoError(t, err)
}

func TestEmptyPolicyText(t *testing.T) {
	var p feature.EmptyPolicy
	assert.NoError(t, p.UnmarshalText([]byte("unknown")))
	expect.EQ(t, p, feature.EmitUnknown)
	text, err := feature.SkipEmpty.MarshalText()
	assert.NoError(t, err)
	expect.EQ(t, string(text), "skip")
	expect.Regexp(t, p.Set("bogus"), "unknown empty policy")
}

// randomRecords creates sorted reads with random mismatches, indels and
// strands over testRef.
func randomRecords(f *fixture, r *rand.Rand, n int) []*sam.Record {
	var recs []*sam.Record
	pos := 0
	for i := 0; i < n; i++ {
		pos += r.Intn(3)
		var cigar, seq strings.Builder
		refPos := pos
		for refPos < len(testRef)-5 && cigar.Len() < 30 {
			m := 1 + r.Intn(5)
			for k := 0; k < m; k++ {
				c := testRef[refPos+k]
				if r.Intn(10) == 0 {
					c = "ACGTN"[r.Intn(5)]
				}
				seq.WriteByte(c)
			}
			cigar.WriteString(strconv.Itoa(m) + "M")
			refPos += m
			switch r.Intn(4) {
			case 0:
				l := 1 + r.Intn(6)
				for k := 0; k < l; k++ {
					seq.WriteByte("ACGT"[r.Intn(4)])
				}
				cigar.WriteString(strconv.Itoa(l) + "I")
			case 1:
				if l := 1 + r.Intn(2); refPos+l+1 < len(testRef) {
					cigar.WriteString(strconv.Itoa(l) + "D")
					refPos += l
				}
			}
		}
		// End on a match so that no indel dangles.
		seq.WriteByte(testRef[refPos])
		cigar.WriteString("1M")
		var flags sam.Flags
		if r.Intn(2) == 0 {
			flags = sam.Reverse
		}
		recs = append(recs, f.rec("r"+strconv.Itoa(i), pos, flags, cigar.String(), seq.String()))
	}
	return recs
}

func TestWindowProperties(t *testing.T) {
	f := newFixture(t)
	recs := randomRecords(f, rand.New(rand.NewSource(1)), 40)
	opts := feature.Opts{Rows: 16, Width: 12, RefRows: 2, MaxIns: 2, EvictCount: 5}
	all := region(0, len(testRef))
	windows, stats := f.run(opts, all, recs, feature.RegionSampler(all, 7))
	assert.True(t, len(windows) > 2)
	assert.EQ(t, stats.Empty, 0)

	overlap := opts.Width - opts.EvictCount
	for i, w := range windows {
		assert.EQ(t, len(w.Coords), opts.Width)
		assert.EQ(t, len(w.Matrix), opts.Rows*opts.Width)
		for k := 1; k < len(w.Coords); k++ {
			expect.True(t, w.Coords[k-1].Less(w.Coords[k]), "window %d: %v", i, w.Coords)
		}
		for _, c := range w.Coords {
			expect.True(t, c.Ins >= 0 && c.Ins <= int32(opts.MaxIns), "coord %v", c)
		}
		for r := 0; r < opts.Rows; r++ {
			for _, b := range w.Row(r) {
				expect.True(t, b.Valid())
				if r < opts.RefRows {
					expect.False(t, b.Reverse())
				}
			}
		}
		if i > 0 {
			expect.EQ(t, w.Coords[:overlap], windows[i-1].Coords[opts.EvictCount:])
		}
	}

	// The same seed reproduces the same matrices.
	again, _ := f.run(opts, all, recs, feature.RegionSampler(all, 7))
	assert.EQ(t, len(again), len(windows))
	for i := range windows {
		expect.EQ(t, again[i].Matrix, windows[i].Matrix)
	}
}
