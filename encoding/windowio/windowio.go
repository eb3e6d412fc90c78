// Package windowio reads and writes feature windows.
//
// Two container formats share one record encoding:
//
//   - rio: a recordio file with the zstd transformer.  The header carries
//     the contig names and matrix shape; the trailer carries the window
//     count and a checksum of all matrices.
//   - snappy: a snappy-framed stream of length-prefixed records, with the
//     same header and trailer information written inline.
//
// Record layout, little-endian:
//   [0..4):   contig index into the header's contig list
//   [4..8):   width W
//   [8..12):  rows R
//   [12]:     flags (bit 0: labels present)
//   then W*8 bytes: (pos int32, ins int32) for each column
//   then R*W bytes: the matrix, row-major
//   then W bytes of labels if present.
package windowio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"
	"strings"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/polish/pileup"
)

// Format identifies a container format.
type Format int

const (
	// RIO is the recordio container.
	RIO Format = iota
	// Snappy is the snappy-framed stream container.
	Snappy
)

var formatNames = [...]string{"rio", "snappy"}

// String implements fmt.Stringer.
func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return formatNames[f]
}

// Ext returns the file name suffix used for the format.
func (f Format) Ext() string { return ".windows." + f.String() }

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) {
	if f < 0 || int(f) >= len(formatNames) {
		return nil, fmt.Errorf("windowio: invalid format %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(text []byte) error {
	for i, name := range formatNames {
		if string(text) == name {
			*f = Format(i)
			return nil
		}
	}
	return fmt.Errorf("windowio: unknown format %q (want one of %v)", text, formatNames)
}

// Set implements flag.Value.
func (f *Format) Set(s string) error { return f.UnmarshalText([]byte(s)) }

// Header describes the windows in a file.
type Header struct {
	// Contigs lists the reference names; records refer to them by index.
	Contigs []string
	// Lengths and Seqs, if set, are parallel to Contigs and hold each
	// contig's length and draft sequence, so that polished windows can be
	// stitched back into contigs.  A nil sequence is one that was not
	// available.
	Lengths []int
	Seqs    [][]byte
	// Rows and Width give the matrix shape shared by all windows.
	Rows, Width int
}

// WithoutSeqs returns a copy of h that does not carry contig sequences.
func (h Header) WithoutSeqs() Header {
	h.Seqs = nil
	return h
}

// maxRecordLen is the size of a labelled record of the header's shape.
func (h Header) maxRecordLen() int {
	return recordPrefix + 9*h.Width + h.Rows*h.Width
}

func (h Header) validate() error {
	if h.Rows < 1 || h.Width < 1 {
		return fmt.Errorf("windowio: invalid matrix shape %dx%d", h.Rows, h.Width)
	}
	if h.Lengths != nil && len(h.Lengths) != len(h.Contigs) {
		return fmt.Errorf("windowio: %d contig lengths for %d contigs", len(h.Lengths), len(h.Contigs))
	}
	if h.Seqs != nil && len(h.Seqs) != len(h.Contigs) {
		return fmt.Errorf("windowio: %d contig sequences for %d contigs", len(h.Seqs), len(h.Contigs))
	}
	for i, name := range h.Contigs {
		if strings.IndexByte(name, 0) >= 0 {
			return fmt.Errorf("windowio: contig name %q contains a NUL byte", name)
		}
		if h.Seqs != nil && bytes.IndexByte(h.Seqs[i], 0) >= 0 {
			return fmt.Errorf("windowio: sequence of contig %s contains a NUL byte", name)
		}
	}
	return nil
}

const (
	formatVersion = 1
	recordPrefix  = 13
	flagLabels    = 1
)

// cutAndAdvance returns s[offset:offset+pieceLen], and increments offset by
// pieceLen.
func cutAndAdvance(offset *int, s []byte, pieceLen int) []byte {
	tmpSlice := s[(*offset):]
	*offset += pieceLen
	return tmpSlice[:pieceLen]
}

// encoder turns windows into records and keeps the running checksum.
type encoder struct {
	hdr      Header
	contigs  map[string]uint32
	checksum hash.Hash64
	count    int64
}

func newEncoder(hdr Header) (*encoder, error) {
	if err := hdr.validate(); err != nil {
		return nil, err
	}
	e := &encoder{hdr: hdr, contigs: make(map[string]uint32, len(hdr.Contigs)), checksum: seahash.New()}
	for i, name := range hdr.Contigs {
		e.contigs[name] = uint32(i)
	}
	return e, nil
}

// encode returns a newly allocated record for w.
func (e *encoder) encode(w *pileup.Window) ([]byte, error) {
	contig, ok := e.contigs[w.Contig]
	if !ok {
		return nil, fmt.Errorf("windowio: contig %q is not in the header", w.Contig)
	}
	if w.Rows != e.hdr.Rows || w.Width != e.hdr.Width || len(w.Coords) != w.Width || len(w.Matrix) != w.Rows*w.Width {
		return nil, fmt.Errorf("windowio: window shape %dx%d does not match header %dx%d", w.Rows, w.Width, e.hdr.Rows, e.hdr.Width)
	}
	labelled := len(w.Labels) > 0
	if labelled && len(w.Labels) != w.Width {
		return nil, fmt.Errorf("windowio: %d labels for width %d", len(w.Labels), w.Width)
	}
	bytesReq := recordPrefix + 8*w.Width + w.Rows*w.Width
	if labelled {
		bytesReq += w.Width
	}
	t := make([]byte, bytesReq)

	offset := 0
	tStart := cutAndAdvance(&offset, t, recordPrefix)
	binary.LittleEndian.PutUint32(tStart[0:4], contig)
	binary.LittleEndian.PutUint32(tStart[4:8], uint32(w.Width))
	binary.LittleEndian.PutUint32(tStart[8:12], uint32(w.Rows))
	if labelled {
		tStart[12] = flagLabels
	}
	for _, c := range w.Coords {
		dst := cutAndAdvance(&offset, t, 8)
		binary.LittleEndian.PutUint32(dst[:4], uint32(c.Pos))
		binary.LittleEndian.PutUint32(dst[4:8], uint32(c.Ins))
	}
	matrix := cutAndAdvance(&offset, t, w.Rows*w.Width)
	for i, b := range w.Matrix {
		matrix[i] = byte(b)
	}
	if labelled {
		labels := cutAndAdvance(&offset, t, w.Width)
		for i, b := range w.Labels {
			labels[i] = byte(b)
		}
	}
	e.checksum.Write(matrix) // nolint: errcheck
	e.count++
	return t, nil
}

// decoder is the read-side counterpart of encoder.
type decoder struct {
	hdr      Header
	checksum hash.Hash64
	count    int64
}

func newDecoder(hdr Header) *decoder {
	return &decoder{hdr: hdr, checksum: seahash.New()}
}

func (d *decoder) decode(in []byte) (*pileup.Window, error) {
	if len(in) < recordPrefix {
		return nil, fmt.Errorf("windowio: truncated record of %d bytes", len(in))
	}
	offset := 0
	inStart := cutAndAdvance(&offset, in, recordPrefix)
	contig := binary.LittleEndian.Uint32(inStart[0:4])
	width := int(binary.LittleEndian.Uint32(inStart[4:8]))
	rows := int(binary.LittleEndian.Uint32(inStart[8:12]))
	labelled := inStart[12]&flagLabels != 0
	if int(contig) >= len(d.hdr.Contigs) {
		return nil, fmt.Errorf("windowio: contig index %d out of range", contig)
	}
	bytesReq := recordPrefix + 8*width + rows*width
	if labelled {
		bytesReq += width
	}
	if len(in) != bytesReq {
		return nil, fmt.Errorf("windowio: record has %d bytes, want %d", len(in), bytesReq)
	}
	w := &pileup.Window{
		Contig: d.hdr.Contigs[contig],
		Rows:   rows,
		Width:  width,
		Coords: make([]pileup.Coord, width),
		Matrix: make([]pileup.Base, rows*width),
	}
	for i := range w.Coords {
		src := cutAndAdvance(&offset, in, 8)
		w.Coords[i] = pileup.Coord{
			Pos: pileup.PosType(binary.LittleEndian.Uint32(src[:4])),
			Ins: int32(binary.LittleEndian.Uint32(src[4:8])),
		}
	}
	matrix := cutAndAdvance(&offset, in, rows*width)
	for i, b := range matrix {
		w.Matrix[i] = pileup.Base(b)
	}
	if labelled {
		w.Labels = make([]pileup.Base, width)
		for i, b := range cutAndAdvance(&offset, in, width) {
			w.Labels[i] = pileup.Base(b)
		}
	}
	d.checksum.Write(matrix) // nolint: errcheck
	d.count++
	return w, nil
}

// verify checks the decoded windows against a trailer.
func (d *decoder) verify(t trailer) error {
	if t.count != d.count {
		return fmt.Errorf("windowio: read %d windows, trailer says %d", d.count, t.count)
	}
	if t.checksum != d.checksum.Sum64() {
		return fmt.Errorf("windowio: checksum mismatch: got %x, trailer says %x", d.checksum.Sum64(), t.checksum)
	}
	return nil
}

type trailer struct {
	count    int64
	checksum uint64
}

const trailerLen = 24

func (t trailer) marshal() []byte {
	b := make([]byte, trailerLen)
	binary.LittleEndian.PutUint64(b[0:8], formatVersion)
	binary.LittleEndian.PutUint64(b[8:16], uint64(t.count))
	binary.LittleEndian.PutUint64(b[16:24], t.checksum)
	return b
}

func parseTrailer(b []byte) (t trailer, err error) {
	if len(b) != trailerLen {
		return t, fmt.Errorf("windowio: trailer has %d bytes, want %d", len(b), trailerLen)
	}
	if v := binary.LittleEndian.Uint64(b[0:8]); v != formatVersion {
		return t, fmt.Errorf("windowio: unrecognized trailer version: got %d, want %d", v, formatVersion)
	}
	t.count = int64(binary.LittleEndian.Uint64(b[8:16]))
	t.checksum = binary.LittleEndian.Uint64(b[16:24])
	return t, nil
}
