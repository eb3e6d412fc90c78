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

// Package label derives per-column training labels from alignments of a
// truth assembly against the reference.
package label

import (
	"sort"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/polish/encoding/bamprovider"
	"github.com/grailbio/polish/interval"
	"github.com/grailbio/polish/pileup"
)

// TargetAlign is one truth alignment.  Start and End begin as the alignment's
// reference span and may be narrowed by Filter.
type TargetAlign struct {
	Rec        *sam.Record
	Start, End pileup.PosType
}

// refLen returns the length of the original reference span.
func (a *TargetAlign) refLen() int {
	return a.Rec.End() - a.Rec.Pos
}

// Fetch returns the mapped primary truth alignments overlapping region,
// ordered by reference start.
func Fetch(provider bamprovider.Provider, region interval.Entry) (aligns []*TargetAlign, err error) {
	iter := bamprovider.NewRefIterator(provider, region.RefName, int(region.Start0), int(region.End))
	defer func() {
		if e := iter.Close(); e != nil && err == nil {
			err = e
		}
	}()
	for iter.Scan() {
		r := iter.Record()
		if r.Flags&(sam.Unmapped|sam.Secondary) != 0 {
			continue
		}
		if r.End() <= int(region.Start0) || r.Pos >= int(region.End) {
			continue
		}
		aligns = append(aligns, &TargetAlign{Rec: r, Start: pileup.PosType(r.Pos), End: pileup.PosType(r.End())})
	}
	sort.SliceStable(aligns, func(i, j int) bool { return aligns[i].Rec.Pos < aligns[j].Rec.Pos })
	return aligns, nil
}

// FilterOpts controls how overlapping truth alignments are resolved.
type FilterOpts struct {
	// LenRatio separates alignments of similar length from ones where one is
	// much longer than the other.
	LenRatio float64 `toml:"len_ratio"`
	// OverlapRatio is the overlap, relative to the shorter alignment, above
	// which the overlap is not resolved by trimming.
	OverlapRatio float64 `toml:"overlap_ratio"`
	// MinLen is the minimum span an alignment must keep.
	MinLen int `toml:"min_len"`
}

// DefaultFilterOpts is the default FilterOpts value.
var DefaultFilterOpts = FilterOpts{LenRatio: 2.0, OverlapRatio: 0.5, MinLen: 1000}

// Filter resolves overlaps between every pair of aligns (which must be
// ordered by reference start):
//
//   - Similar lengths and a small overlap: both are trimmed so that the
//     overlap belongs to neither.
//   - Similar lengths and a large overlap: both are discarded.
//   - Very different lengths and a large overlap: the shorter is discarded.
//   - Very different lengths and a small overlap: the later one is trimmed.
//
// Alignments shorter than opts.MinLen after trimming are dropped.  The result
// is ordered by (trimmed) start.
func Filter(aligns []*TargetAlign, opts FilterOpts) []*TargetAlign {
	removed := make(map[*TargetAlign]bool)
	for i := 0; i < len(aligns); i++ {
		for j := i + 1; j < len(aligns); j++ {
			first, second := aligns[i], aligns[j]
			if second.Rec.Pos < first.Rec.Pos {
				first, second = second, first
			}
			if second.Start >= first.End {
				continue
			}
			overlapStart, overlapEnd := second.Start, first.End

			shorter, longer := aligns[i], aligns[j]
			if longer.refLen() < shorter.refLen() {
				shorter, longer = longer, shorter
			}
			lenRatio := float64(longer.refLen()) / float64(shorter.refLen())
			overlapRatio := float64(overlapEnd-overlapStart) / float64(shorter.refLen())

			if lenRatio < opts.LenRatio {
				if overlapRatio < opts.OverlapRatio {
					first.End = overlapStart
					second.Start = overlapEnd
				} else {
					removed[shorter] = true
					removed[longer] = true
				}
			} else {
				if overlapRatio >= opts.OverlapRatio {
					removed[shorter] = true
				} else {
					second.Start = overlapEnd
				}
			}
		}
	}
	var kept []*TargetAlign
	for _, a := range aligns {
		if int(a.End-a.Start) >= opts.MinLen && !removed[a] {
			kept = append(kept, a)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// PositionsAndLabels walks the aligned pairs of a inside region and returns
// the pileup coordinate and truth base of each.  Deleted and skipped
// reference positions are labelled BaseGap; inserted bases get coordinates
// (pos, 1), (pos, 2), ... after the reference position they follow.  Clipped
// bases are ignored.
func PositionsAndLabels(a *TargetAlign, region interval.Entry) (coords []pileup.Coord, labels []pileup.Base) {
	seq := a.Rec.Seq.Expand()
	if len(seq) == 0 {
		return nil, nil
	}
	start, end := region.Start0, region.End
	if a.Start > start {
		start = a.Start
	}
	if a.End < end {
		end = a.End
	}
	recEnd := pileup.PosType(a.Rec.End())

	var (
		started bool
		cur     pileup.PosType
		ins     int32
	)
	label := func(q int) pileup.Base {
		if q < 0 {
			return pileup.BaseGap
		}
		return pileup.BaseFromASCII(seq[q])
	}
	// aligned handles a pair with a reference position.  It returns false once
	// the walk is past the end.
	aligned := func(ref pileup.PosType, q int) bool {
		if ref >= end || ref == recEnd {
			return false
		}
		if ref < start {
			return true
		}
		started, cur, ins = true, ref, 0
		coords = append(coords, pileup.Coord{Pos: ref})
		labels = append(labels, label(q))
		return true
	}

	pos := pileup.PosType(a.Rec.Pos)
	qpos := 0
	for _, co := range a.Rec.Cigar {
		n := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			for k := 0; k < n; k++ {
				if !aligned(pos+pileup.PosType(k), qpos+k) {
					return
				}
			}
			pos += pileup.PosType(n)
			qpos += n
		case sam.CigarDeletion, sam.CigarSkipped:
			for k := 0; k < n; k++ {
				if !aligned(pos+pileup.PosType(k), -1) {
					return
				}
			}
			pos += pileup.PosType(n)
		case sam.CigarInsertion:
			if started {
				for k := 0; k < n; k++ {
					ins++
					coords = append(coords, pileup.Coord{Pos: cur, Ins: ins})
					labels = append(labels, label(qpos+k))
				}
			}
			qpos += n
		case sam.CigarSoftClipped:
			qpos += n
		}
	}
	return
}
