package windowio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/golang/snappy"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestOversizedChunk(t *testing.T) {
	hdr := Header{Contigs: []string{"chr1"}, Rows: 2, Width: 3}
	expect.EQ(t, hdr.maxRecordLen(), 13+9*3+2*3)

	var buf bytes.Buffer
	w := snappy.NewBufferedWriter(&buf)
	tmp := make([]byte, binary.MaxVarintLen64)
	putChunk := func(n uint64, b []byte) {
		_, err := w.Write(tmp[:binary.PutUvarint(tmp, n)])
		assert.NoError(t, err)
		_, err = w.Write(b)
		assert.NoError(t, err)
	}
	h := marshalHeader(hdr)
	putChunk(uint64(len(h)), h)
	// A corrupt length; no record of this shape is that long.
	putChunk(1<<40, nil)
	assert.NoError(t, w.Close())

	r, err := newSnappyReader(&buf)
	assert.NoError(t, err)
	expect.EQ(t, r.Scan(), false)
	expect.Regexp(t, r.Err(), "exceeds the limit")
}

func TestHeaderEncoding(t *testing.T) {
	for _, hdr := range []Header{
		{Contigs: []string{"a"}, Rows: 1, Width: 1},
		{Contigs: []string{"a", "bb"}, Lengths: []int{3, 0}, Seqs: [][]byte{[]byte("ACG"), nil}, Rows: 4, Width: 9},
		{Contigs: []string{}, Lengths: []int{}, Seqs: [][]byte{}, Rows: 2, Width: 2},
	} {
		got, err := unmarshalHeader(marshalHeader(hdr))
		assert.NoError(t, err)
		if len(hdr.Contigs) == 0 {
			hdr.Contigs = nil
		}
		expect.EQ(t, got, hdr)
	}
	_, err := unmarshalHeader(marshalHeader(Header{Contigs: []string{"a"}, Rows: 1, Width: 1})[:4])
	expect.Regexp(t, err, "corrupt header")
}
