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

// Package column turns a coordinate-sorted stream of alignments on one
// reference into pileup columns: for every covered reference position, one
// event per overlapping read.
package column

import (
	"fmt"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/polish/pileup"
)

// ReadID identifies a read within one Iterator.  IDs are assigned in input
// order starting at 0.
type ReadID uint32

// ReadEvent describes how one read aligns against the current column.
type ReadEvent struct {
	ID ReadID
	// IsDel is set when the read has a deletion at this position.
	IsDel bool
	// IsRefSkip is set when the read skips this position (CIGAR N).
	IsRefSkip bool
	// Indel is the length of the insertion immediately following this
	// position when positive, minus the length of the deletion starting at the
	// next position when negative, and 0 otherwise.
	Indel int
	// Start and End give the read's 0-based half-open reference span.
	Start, End pileup.PosType
	// Reverse is set for reads aligned to the reverse strand.
	Reverse bool

	seq  []byte
	qpos int
}

// Base returns the ASCII base at the given query offset from the aligned
// base.  Offset 0 is the base aligned to this position; offset k>0 is the k-th
// base inserted after it.  Positions outside the read sequence yield 'N'.
func (e *ReadEvent) Base(offset int) byte {
	q := e.qpos + offset
	if e.IsDel || e.IsRefSkip || q < 0 || q >= len(e.seq) {
		return 'N'
	}
	return e.seq[q]
}

// Column is the set of read events at one reference position.
type Column struct {
	Pos   pileup.PosType
	Reads []ReadEvent
}

// Opts controls which records take part in the pileup.
type Opts struct {
	// FlagExclude drops records with any of these flag bits set.
	FlagExclude sam.Flags
	// MinMapQ drops records with a lower mapping quality.
	MinMapQ byte
}

// DefaultFlagExclude drops secondary, QC-fail, duplicate and supplementary
// alignments.
const DefaultFlagExclude = sam.Secondary | sam.QCFail | sam.Duplicate | sam.Supplementary

// DefaultOpts is the default Opts value.
var DefaultOpts = Opts{FlagExclude: DefaultFlagExclude}

// RecordSource yields records in coordinate order.  bamprovider.Iterator
// implements it.
type RecordSource interface {
	Scan() bool
	Record() *sam.Record
	Err() error
}

// Stats counts records seen by an Iterator.
type Stats struct {
	// Used is the number of records that entered the pileup.
	Used int
	// Filtered is the number of records dropped by Opts or for lacking an
	// aligned reference span.
	Filtered int
}

// cursor walks the CIGAR of one active read one reference position at a time.
type cursor struct {
	id      ReadID
	rec     *sam.Record
	seq     []byte
	start   pileup.PosType
	end     pileup.PosType
	reverse bool

	opIdx int // index of the current reference-consuming op
	opOff int // offset within that op
	qpos  int // query position where the current op starts
}

func checkCigar(r *sam.Record) error {
	for _, co := range r.Cigar {
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch, sam.CigarInsertion, sam.CigarDeletion,
			sam.CigarSkipped, sam.CigarSoftClipped, sam.CigarHardClipped, sam.CigarPadded:
		default:
			return fmt.Errorf("column: read %s: unexpected CIGAR op %v", r.Name, co)
		}
	}
	return nil
}

func consumesRef(t sam.CigarOpType) bool {
	switch t {
	case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch, sam.CigarDeletion, sam.CigarSkipped:
		return true
	}
	return false
}

func consumesQuery(t sam.CigarOpType) bool {
	switch t {
	case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch, sam.CigarInsertion, sam.CigarSoftClipped:
		return true
	}
	return false
}

// skipNonRef moves the cursor forward to the next reference-consuming op.
// It returns false when the CIGAR is exhausted.
func (c *cursor) skipNonRef() bool {
	cigar := c.rec.Cigar
	for c.opIdx < len(cigar) {
		t := cigar[c.opIdx].Type()
		if consumesRef(t) {
			return true
		}
		if consumesQuery(t) {
			c.qpos += cigar[c.opIdx].Len()
		}
		c.opIdx++
	}
	return false
}

// advance moves the cursor to the next reference position.  It returns false
// once the read has no more aligned positions.
func (c *cursor) advance() bool {
	cigar := c.rec.Cigar
	c.opOff++
	if c.opOff < cigar[c.opIdx].Len() {
		return true
	}
	if consumesQuery(cigar[c.opIdx].Type()) {
		c.qpos += cigar[c.opIdx].Len()
	}
	c.opIdx++
	c.opOff = 0
	return c.skipNonRef()
}

// indel computes ReadEvent.Indel for the current position.
func (c *cursor) indel() int {
	cigar := c.rec.Cigar
	op := cigar[c.opIdx]
	if c.opOff != op.Len()-1 {
		return 0
	}
	for k := c.opIdx + 1; k < len(cigar); k++ {
		switch cigar[k].Type() {
		case sam.CigarPadded:
			continue
		case sam.CigarInsertion:
			return cigar[k].Len()
		case sam.CigarDeletion:
			if op.Type() != sam.CigarDeletion {
				return -cigar[k].Len()
			}
		}
		return 0
	}
	return 0
}

func (c *cursor) event() ReadEvent {
	ev := ReadEvent{
		ID:      c.id,
		Start:   c.start,
		End:     c.end,
		Reverse: c.reverse,
		seq:     c.seq,
		Indel:   c.indel(),
	}
	switch c.rec.Cigar[c.opIdx].Type() {
	case sam.CigarDeletion:
		ev.IsDel = true
	case sam.CigarSkipped:
		ev.IsRefSkip = true
	default:
		ev.qpos = c.qpos + c.opOff
	}
	return ev
}

// Iterator yields pileup columns from a RecordSource.  Only positions
// covered by at least one read are produced.
//
// Example:
//   iter := column.NewIterator(src, column.DefaultOpts)
//   for iter.Scan() {
//     col := iter.Column()
//     ...
//   }
//   if err := iter.Err(); err != nil { ... }
type Iterator struct {
	src   RecordSource
	opts  Opts
	stats Stats

	ref     *sam.Reference
	pending *sam.Record
	srcDone bool
	active  []*cursor
	nextID  ReadID
	lastPos int

	col Column
	err error
}

// NewIterator creates an Iterator reading src.
func NewIterator(src RecordSource, opts Opts) *Iterator {
	return &Iterator{src: src, opts: opts, lastPos: -1}
}

func (it *Iterator) keep(r *sam.Record) bool {
	if r.Flags&sam.Unmapped != 0 || r.Flags&it.opts.FlagExclude != 0 {
		return false
	}
	if r.MapQ < it.opts.MinMapQ || len(r.Cigar) == 0 {
		return false
	}
	return r.End() > r.Pos
}

// peek makes it.pending the next usable record, or leaves it nil at the end
// of the source.
func (it *Iterator) peek() bool {
	if it.pending != nil {
		return true
	}
	for !it.srcDone {
		if !it.src.Scan() {
			it.srcDone = true
			if err := it.src.Err(); err != nil {
				it.err = err
				return false
			}
			break
		}
		r := it.src.Record()
		if r.Ref != nil {
			if it.ref == nil {
				it.ref = r.Ref
			} else if r.Ref.ID() != it.ref.ID() {
				it.err = fmt.Errorf("column: read %s: reference %s differs from %s", r.Name, r.Ref.Name(), it.ref.Name())
				return false
			}
		}
		if r.Pos < it.lastPos {
			it.err = fmt.Errorf("column: read %s at %d: records are not coordinate sorted", r.Name, r.Pos)
			return false
		}
		it.lastPos = r.Pos
		if !it.keep(r) {
			it.stats.Filtered++
			continue
		}
		if err := checkCigar(r); err != nil {
			it.err = err
			return false
		}
		it.pending = r
		return true
	}
	return false
}

func (it *Iterator) activate(r *sam.Record) {
	c := &cursor{
		id:      it.nextID,
		rec:     r,
		seq:     r.Seq.Expand(),
		start:   pileup.PosType(r.Pos),
		end:     pileup.PosType(r.End()),
		reverse: r.Flags&sam.Reverse != 0,
	}
	it.nextID++
	it.stats.Used++
	c.skipNonRef()
	it.active = append(it.active, c)
}

// Scan advances to the next covered position.  It returns false at the end
// of the input or on error.
func (it *Iterator) Scan() bool {
	if it.err != nil {
		return false
	}
	if len(it.active) == 0 {
		if !it.peek() {
			return false
		}
		it.col.Pos = pileup.PosType(it.pending.Pos)
	} else {
		it.col.Pos++
	}
	for it.peek() && pileup.PosType(it.pending.Pos) <= it.col.Pos {
		it.activate(it.pending)
		it.pending = nil
	}
	if it.err != nil {
		return false
	}

	it.col.Reads = it.col.Reads[:0]
	n := 0
	for _, c := range it.active {
		it.col.Reads = append(it.col.Reads, c.event())
		if c.advance() {
			it.active[n] = c
			n++
		}
	}
	for i := n; i < len(it.active); i++ {
		it.active[i] = nil
	}
	it.active = it.active[:n]
	return true
}

// Column returns the current column.  It is valid until the next call to
// Scan.
func (it *Iterator) Column() *Column { return &it.col }

// Err returns the first error encountered, if any.
func (it *Iterator) Err() error { return it.err }

// Stats returns record counts so far.
func (it *Iterator) Stats() Stats { return it.stats }
