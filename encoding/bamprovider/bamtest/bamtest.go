// Package bamtest builds small indexed BAM files for unittests.
package bamtest

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/assert"
)

// NewRecord creates a mapped record with a phred 30 quality string.  cigar
// is given in SAM text form.
func NewRecord(t testing.TB, name string, ref *sam.Reference, pos int, flags sam.Flags, cigar, seq string) *sam.Record {
	r := sam.GetFromFreePool()
	r.Name = name
	r.Ref = ref
	r.Pos = pos
	r.MatePos = -1
	r.Flags = flags
	r.MapQ = 60
	if cigar != "" {
		c, err := sam.ParseCigar([]byte(cigar))
		assert.NoError(t, err)
		r.Cigar = c
	}
	r.Seq = sam.NewSeq([]byte(seq))
	r.Qual = bytes.Repeat([]byte{30}, len(seq))
	return r
}

// NewHeader creates a header with the given references.  lengths[i] is the
// length of names[i].
func NewHeader(t testing.TB, names []string, lengths []int) *sam.Header {
	var refs []*sam.Reference
	for i, name := range names {
		ref, err := sam.NewReference(name, "", "", lengths[i], nil, nil)
		assert.NoError(t, err)
		refs = append(refs, ref)
	}
	h, err := sam.NewHeader(nil, refs)
	assert.NoError(t, err)
	h.SortOrder = sam.Coordinate
	return h
}

// WriteIndexed writes recs to path and creates path+".bai".  recs must be
// coordinate sorted.
func WriteIndexed(t testing.TB, path string, header *sam.Header, recs []*sam.Record) {
	out, err := os.Create(path)
	assert.NoError(t, err)
	w, err := bam.NewWriter(out, header, 1)
	assert.NoError(t, err)
	for _, r := range recs {
		assert.NoError(t, w.Write(r))
	}
	assert.NoError(t, w.Close())
	assert.NoError(t, out.Close())

	in, err := os.Open(path)
	assert.NoError(t, err)
	defer in.Close() // nolint: errcheck
	reader, err := bam.NewReader(in, 1)
	assert.NoError(t, err)
	var idx bam.Index
	for {
		r, err := reader.Read()
		if err == io.EOF {
			break
		}
		assert.NoError(t, err)
		assert.NoError(t, idx.Add(r, reader.LastChunk()))
	}
	assert.NoError(t, reader.Close())

	idxOut, err := os.Create(path + ".bai")
	assert.NoError(t, err)
	assert.NoError(t, bam.WriteIndex(idxOut, &idx))
	assert.NoError(t, idxOut.Close())
}
