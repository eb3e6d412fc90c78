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

// Package feature builds fixed-shape feature windows from pileup columns.
//
// A Builder consumes the columns of one region in position order.  Each
// column contributes a coordinate (pos, 0) and, for inserted bases, (pos, k)
// for k up to Opts.MaxIns.  Once Opts.Width coordinates are queued, a window
// is emitted: Opts.RefRows reference rows followed by rows of reads sampled
// from those with a base in the window, then Opts.EvictCount coordinates are
// dropped from the front of the queue.  Generate runs Builders over many
// regions in parallel and writes the windows with package windowio.
package feature

import (
	"fmt"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/polish/interval"
	"github.com/grailbio/polish/pileup"
	"github.com/grailbio/polish/pileup/column"
)

// Stats counts what a Builder has done.
type Stats struct {
	// Columns is the number of pileup columns consumed inside the region.
	Columns int
	// Windows is the number of windows passed to the emit callback.
	Windows int
	// Empty is the number of windows without a valid read.  Under SkipEmpty
	// they are not emitted.
	Empty int
	// TruncatedIns is the number of inserted bases dropped by MaxIns.
	TruncatedIns int
	// Unlabelled is the number of emitted windows that Generate dropped in
	// training mode because a truth label was unknown.
	Unlabelled int
}

// Merge adds o to s.
func (s *Stats) Merge(o Stats) {
	s.Columns += o.Columns
	s.Windows += o.Windows
	s.Empty += o.Empty
	s.TruncatedIns += o.TruncatedIns
	s.Unlabelled += o.Unlabelled
}

// Builder turns the pileup columns of one region into windows.  It is not
// thread safe; use one Builder per region.
type Builder struct {
	opts   Opts
	region interval.Entry
	ref    []byte
	sample Sampler
	emit   func(*pileup.Window) error

	store columnStore
	reads readTracker
	queue windowQueue
	stats Stats
	done  bool
}

// NewBuilder creates a Builder for the 0-based half-open region.  ref is the
// sequence of the region's contig; it may be nil when opts.RefRows is 0.
// Every emitted window is passed to emit, which takes ownership of it.
func NewBuilder(opts Opts, region interval.Entry, ref []byte, sample Sampler, emit func(*pileup.Window) error) (*Builder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if region.End <= region.Start0 {
		return nil, fmt.Errorf("feature.NewBuilder: empty region %v", region)
	}
	if opts.RefRows > 0 && ref == nil {
		return nil, fmt.Errorf("feature.NewBuilder: %d reference rows requested without a reference sequence", opts.RefRows)
	}
	if sample == nil || emit == nil {
		return nil, fmt.Errorf("feature.NewBuilder: sampler and emit callback are required")
	}
	return &Builder{
		opts:   opts,
		region: region,
		ref:    ref,
		sample: sample,
		emit:   emit,
		store:  make(columnStore),
		reads:  make(readTracker),
		queue:  newWindowQueue(opts.Width),
	}, nil
}

// Add consumes one pileup column.  Columns must arrive in increasing position
// order.  Columns before the region are ignored; the first column at or past
// the region end finishes the builder, and Add then returns false.  Windows
// that become ready are emitted before Add returns.
func (b *Builder) Add(col *column.Column) (more bool, err error) {
	if b.done {
		return false, nil
	}
	if col.Pos < b.region.Start0 {
		return true, nil
	}
	if col.Pos >= b.region.End {
		b.done = true
		return false, nil
	}
	for i := range col.Reads {
		r := &col.Reads[i]
		if r.IsRefSkip {
			continue
		}
		b.reads.recordSpan(r.ID, r.Start, r.End)
		b.reads.recordStrand(r.ID, !r.Reverse)

		c := pileup.Coord{Pos: col.Pos}
		if r.IsDel {
			b.record(r.ID, c, pileup.BaseGap)
			continue
		}
		b.record(r.ID, c, pileup.BaseFromASCII(r.Base(0)))
		n := r.Indel
		if n > b.opts.MaxIns {
			b.stats.TruncatedIns += n - b.opts.MaxIns
			n = b.opts.MaxIns
		}
		for k := 1; k <= n; k++ {
			c.Ins = int32(k)
			b.record(r.ID, c, pileup.BaseFromASCII(r.Base(k)))
		}
	}
	b.stats.Columns++
	return true, b.drain()
}

// Stats returns the counters so far.
func (b *Builder) Stats() Stats { return b.stats }

// Pending returns the number of queued coordinates that have not been
// evicted.  Fewer than Width of them are left once Add returns, and they are
// dropped at the end of the region.
func (b *Builder) Pending() int { return b.queue.len() }

func (b *Builder) record(id column.ReadID, c pileup.Coord, base pileup.Base) {
	if b.store.record(id, c, base) {
		b.queue.push(c)
	}
}

func (b *Builder) drain() error {
	for b.queue.len() >= b.opts.Width {
		if err := b.emitWindow(b.queue.front(b.opts.Width)); err != nil {
			return err
		}
		b.queue.popFront(b.opts.EvictCount, func(c pileup.Coord) { delete(b.store, c) })
	}
	return nil
}

// validReads returns, in ascending order, the reads with at least one base
// other than BaseUnknown in coords.
func (b *Builder) validReads(coords []pileup.Coord) []column.ReadID {
	seen := make(map[column.ReadID]struct{})
	for _, c := range coords {
		for id, base := range b.store[c] {
			if base != pileup.BaseUnknown {
				seen[id] = struct{}{}
			}
		}
	}
	valid := make([]column.ReadID, 0, len(seen))
	for id := range seen {
		valid = append(valid, id)
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i] < valid[j] })
	return valid
}

func (b *Builder) refBase(c pileup.Coord) pileup.Base {
	if c.Ins != 0 {
		return pileup.BaseGap
	}
	if int(c.Pos) >= len(b.ref) {
		return pileup.BaseUnknown
	}
	return pileup.BaseFromASCII(b.ref[c.Pos])
}

func (b *Builder) emitWindow(coords []pileup.Coord) error {
	valid := b.validReads(coords)
	if len(valid) == 0 {
		b.stats.Empty++
		if b.opts.EmptyPolicy == SkipEmpty {
			log.Debug.Printf("feature: %s: skipping window at %v without valid reads", b.region.RefName, coords[0])
			return nil
		}
	}
	width := b.opts.Width
	w := &pileup.Window{
		Contig: b.region.RefName,
		Coords: coords,
		Rows:   b.opts.Rows,
		Width:  width,
		Matrix: make([]pileup.Base, b.opts.Rows*width),
	}
	for s, c := range coords {
		v := b.refBase(c)
		for r := 0; r < b.opts.RefRows; r++ {
			w.Matrix[r*width+s] = v
		}
	}
	for r := b.opts.RefRows; r < b.opts.Rows; r++ {
		row := w.Matrix[r*width : (r+1)*width]
		if len(valid) == 0 {
			for s := range row {
				row[s] = pileup.BaseUnknown
			}
			continue
		}
		id := b.sample(valid)
		info, ok := b.reads[id]
		if !ok {
			return fmt.Errorf("feature: sampler returned unknown read %d", id)
		}
		for s, c := range coords {
			base, ok := b.store[c][id]
			if !ok {
				if info.outside(c.Pos) {
					base = pileup.BaseUnknown
				} else {
					base = pileup.BaseGap
				}
			}
			row[s] = base.Stranded(!info.forward)
		}
	}
	b.stats.Windows++
	return b.emit(w)
}
