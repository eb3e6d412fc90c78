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
package pileup

import (
	"context"
	"fmt"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/polish/encoding/fasta"
	"github.com/grailbio/polish/interval"
)

// Common pileup components.

// PosType is the integer type used to represent genomic positions.
type PosType = interval.PosType

// PosTypeMax is the maximum value that can be represented by a PosType.
const PosTypeMax = interval.PosTypeMax

// Base is the feature-matrix code of a single pileup cell.  Reverse-strand
// reads shift the code by StrandOffset.
type Base byte

const (
	// BaseA represents an A base.
	BaseA Base = iota
	// BaseC represents an C base.
	BaseC
	// BaseG represents an G base.
	BaseG
	// BaseT represents an T base.
	BaseT
	// BaseGap marks a deletion, or a read without bases in an insertion slot.
	BaseGap
	// BaseUnknown is a catch-all for N and IUPAC codes.
	BaseUnknown
)

const (
	// NBase is the number of forward-strand codes.
	NBase = 6
	// StrandOffset is added to the code of a base observed on a
	// reverse-strand read.
	StrandOffset = NBase
	// Alphabet renders forward codes as ASCII.
	Alphabet = "ACGT*N"
)

// BaseFromASCII maps a nucleotide character to its code.  Case is ignored;
// anything other than A/C/G/T is BaseUnknown.
func BaseFromASCII(c byte) Base {
	switch c {
	case 'A', 'a':
		return BaseA
	case 'C', 'c':
		return BaseC
	case 'G', 'g':
		return BaseG
	case 'T', 't':
		return BaseT
	}
	return BaseUnknown
}

// Stranded returns the code for b observed on the given strand.
func (b Base) Stranded(reverse bool) Base {
	if reverse {
		return b + StrandOffset
	}
	return b
}

// Forward strips the strand offset.
func (b Base) Forward() Base {
	if b >= StrandOffset {
		return b - StrandOffset
	}
	return b
}

// Reverse reports whether b was observed on a reverse-strand read.
func (b Base) Reverse() bool { return b >= StrandOffset }

// Valid reports whether b is a legal feature code.
func (b Base) Valid() bool { return b < 2*NBase }

// ASCII renders b as a character; reverse-strand codes are lowercase.
func (b Base) ASCII() byte {
	if !b.Valid() {
		return '?'
	}
	c := Alphabet[b.Forward()]
	if b.Reverse() && c >= 'A' && c <= 'Z' {
		c += 'a' - 'A'
	}
	return c
}

// Coord identifies a pileup column.  Ins is 0 for the reference position
// itself and k>0 for the k-th insertion slot after it.
type Coord struct {
	Pos PosType
	Ins int32
}

// Compare orders coordinates by (Pos, Ins).
func (c Coord) Compare(o Coord) int {
	switch {
	case c.Pos < o.Pos:
		return -1
	case c.Pos > o.Pos:
		return 1
	case c.Ins < o.Ins:
		return -1
	case c.Ins > o.Ins:
		return 1
	}
	return 0
}

// Less is shorthand for c.Compare(o) < 0.
func (c Coord) Less(o Coord) bool { return c.Compare(o) < 0 }

func (c Coord) String() string { return fmt.Sprintf("%d.%d", c.Pos, c.Ins) }

// Window is one emitted feature matrix together with the columns it covers.
type Window struct {
	// Contig is the reference name of the region the window came from.
	Contig string
	// Coords has Width entries, in emission order.
	Coords []Coord
	// Rows and Width give the matrix shape.
	Rows, Width int
	// Matrix is Rows*Width codes in row-major order.
	Matrix []Base
	// Labels is empty unless the window was built in training mode; it then
	// holds one forward code per coordinate.
	Labels []Base
}

// At returns the code at (row, col).
func (w *Window) At(row, col int) Base { return w.Matrix[row*w.Width+col] }

// Row returns a view of the given matrix row.
func (w *Window) Row(row int) []Base { return w.Matrix[row*w.Width : (row+1)*w.Width] }

// LoadFa is a thin wrapper around fasta.New().  Compressed inputs are
// detected by content.
func LoadFa(ctx context.Context, fapath string) (fa fasta.Fasta, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, fapath); err != nil {
		return
	}
	defer func() {
		if e := infile.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	reader, _ := compress.NewReader(infile.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	if fa, err = fasta.New(reader); err != nil {
		return
	}
	return
}

// FaToRefSeqs returns the data in fa as a [][]byte, using the reference order
// in headerRefs[].  It performs reference-length consistency checks between
// headerRefs and fa in the process.  References absent from fa get a nil
// entry.
func FaToRefSeqs(fa fasta.Fasta, headerRefs []*sam.Reference) ([][]byte, error) {
	nXamRef := len(headerRefs)
	refSeqs := make([][]byte, nXamRef)
	nMissingFromFa := 0
	for i, curRef := range headerRefs {
		refName := curRef.Name()
		refLen, e := fa.Len(refName)
		if e != nil {
			nMissingFromFa++
			continue
		}
		if refLen != uint64(curRef.Len()) {
			return nil, fmt.Errorf("pileup.FaToRefSeqs: inconsistent lengths for contig %s (%d in BAM header, %d in .fa)", refName, curRef.Len(), refLen)
		}
		if refLen == 0 {
			refSeqs[i] = []byte{}
			continue
		}
		refSeq, err := fa.Get(refName, 0, refLen)
		if err != nil {
			return nil, err
		}
		refSeqs[i] = []byte(refSeq)
	}
	if nMissingFromFa != 0 {
		log.Printf("pileup.FaToRefSeqs: warning: %d reference(s) present in BAM header but missing from .fa", nMissingFromFa)
	}
	nMissingFromXam := len(fa.SeqNames()) + nMissingFromFa - nXamRef
	if nMissingFromXam != 0 {
		log.Printf("pileup.FaToRefSeqs: warning: %d reference(s) present in .fa but missing from BAM header", nMissingFromXam)
	}
	return refSeqs, nil
}
