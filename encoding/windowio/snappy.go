package windowio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/grailbio/polish/pileup"
)

// The snappy stream is a sequence of uvarint-length-prefixed chunks:
// the header, then one chunk per window, then a zero length, then the
// fixed-size trailer.

type snappyWriter struct {
	enc *encoder
	w   *snappy.Writer
	buf [binary.MaxVarintLen64]byte
}

func newSnappyWriter(out io.Writer, hdr Header) (*snappyWriter, error) {
	enc, err := newEncoder(hdr)
	if err != nil {
		return nil, err
	}
	s := &snappyWriter{enc: enc, w: snappy.NewBufferedWriter(out)}
	if err := s.writeChunk(marshalHeader(hdr)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *snappyWriter) writeChunk(b []byte) error {
	n := binary.PutUvarint(s.buf[:], uint64(len(b)))
	if _, err := s.w.Write(s.buf[:n]); err != nil {
		return err
	}
	_, err := s.w.Write(b)
	return err
}

func (s *snappyWriter) Write(w *pileup.Window) error {
	rec, err := s.enc.encode(w)
	if err != nil {
		return err
	}
	return s.writeChunk(rec)
}

func (s *snappyWriter) Close() error {
	n := binary.PutUvarint(s.buf[:], 0)
	if _, err := s.w.Write(s.buf[:n]); err != nil {
		return err
	}
	if _, err := s.w.Write(trailer{count: s.enc.count, checksum: s.enc.checksum.Sum64()}.marshal()); err != nil {
		return err
	}
	return s.w.Close()
}

const (
	headerHasLengths = 1 << iota
	headerHasSeqs
)

func marshalHeader(hdr Header) []byte {
	var b []byte
	tmp := make([]byte, binary.MaxVarintLen64)
	putUvarint := func(v uint64) {
		n := binary.PutUvarint(tmp, v)
		b = append(b, tmp[:n]...)
	}
	var flags uint64
	if hdr.Lengths != nil {
		flags |= headerHasLengths
	}
	if hdr.Seqs != nil {
		flags |= headerHasSeqs
	}
	putUvarint(formatVersion)
	putUvarint(uint64(hdr.Rows))
	putUvarint(uint64(hdr.Width))
	putUvarint(flags)
	putUvarint(uint64(len(hdr.Contigs)))
	for i, name := range hdr.Contigs {
		putUvarint(uint64(len(name)))
		b = append(b, name...)
		if hdr.Lengths != nil {
			putUvarint(uint64(hdr.Lengths[i]))
		}
		if hdr.Seqs != nil {
			putUvarint(uint64(len(hdr.Seqs[i])))
			b = append(b, hdr.Seqs[i]...)
		}
	}
	return b
}

func unmarshalHeader(b []byte) (hdr Header, err error) {
	corrupt := fmt.Errorf("windowio: corrupt header")
	next := func() uint64 {
		if err != nil {
			return 0
		}
		v, n := binary.Uvarint(b)
		if n <= 0 {
			err = corrupt
			return 0
		}
		b = b[n:]
		return v
	}
	nextBytes := func() []byte {
		l := next()
		if err != nil {
			return nil
		}
		if uint64(len(b)) < l {
			err = corrupt
			return nil
		}
		v := append([]byte(nil), b[:l]...)
		b = b[l:]
		return v
	}
	if v := next(); err == nil && v != formatVersion {
		return hdr, fmt.Errorf("windowio: unrecognized header version: got %d, want %d", v, formatVersion)
	}
	hdr.Rows = int(next())
	hdr.Width = int(next())
	flags := next()
	nContigs := next()
	if err == nil && nContigs > uint64(len(b)) {
		err = corrupt
	}
	for i := uint64(0); i < nContigs && err == nil; i++ {
		hdr.Contigs = append(hdr.Contigs, string(nextBytes()))
		if flags&headerHasLengths != 0 {
			hdr.Lengths = append(hdr.Lengths, int(next()))
		}
		if flags&headerHasSeqs != 0 {
			seq := nextBytes()
			if len(seq) == 0 {
				seq = nil
			}
			hdr.Seqs = append(hdr.Seqs, seq)
		}
	}
	if err == nil && nContigs == 0 {
		if flags&headerHasLengths != 0 {
			hdr.Lengths = []int{}
		}
		if flags&headerHasSeqs != 0 {
			hdr.Seqs = [][]byte{}
		}
	}
	if err == nil && (hdr.Rows < 1 || hdr.Width < 1) {
		err = fmt.Errorf("windowio: missing matrix shape in header")
	}
	return hdr, err
}

type snappyReader struct {
	dec    *decoder
	r      *bufio.Reader
	buf    []byte
	window *pileup.Window
	err    error
}

func newSnappyReader(in io.Reader) (*snappyReader, error) {
	s := &snappyReader{r: bufio.NewReader(snappy.NewReader(in))}
	chunk, err := s.readChunk(maxHeaderLen)
	if err != nil {
		return nil, err
	}
	if chunk == nil {
		return nil, fmt.Errorf("windowio: missing header")
	}
	hdr, err := unmarshalHeader(chunk)
	if err != nil {
		return nil, err
	}
	s.dec = newDecoder(hdr)
	return s, nil
}

// maxHeaderLen bounds the header chunk, which holds the contig sequences.
const maxHeaderLen = 1 << 34

// readChunk returns nil at the end-of-records marker.  The returned slice
// is valid until the next call.  Chunks longer than maxLen are an error.
func (s *snappyReader) readChunk(maxLen uint64) ([]byte, error) {
	n, err := binary.ReadUvarint(s.r)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if n > maxLen {
		return nil, fmt.Errorf("windowio: chunk of %d bytes exceeds the limit of %d", n, maxLen)
	}
	if uint64(cap(s.buf)) < n {
		s.buf = make([]byte, n)
	}
	s.buf = s.buf[:n]
	if _, err := io.ReadFull(s.r, s.buf); err != nil {
		return nil, err
	}
	return s.buf, nil
}

func (s *snappyReader) Header() Header { return s.dec.hdr }

func (s *snappyReader) Scan() bool {
	if s.err != nil {
		return false
	}
	chunk, err := s.readChunk(uint64(s.dec.hdr.maxRecordLen()))
	if err != nil {
		s.err = err
		return false
	}
	if chunk == nil {
		s.err = s.finish()
		if s.err == nil {
			s.err = io.EOF
		}
		return false
	}
	s.window, s.err = s.dec.decode(chunk)
	return s.err == nil
}

func (s *snappyReader) finish() error {
	b := make([]byte, trailerLen)
	if _, err := io.ReadFull(s.r, b); err != nil {
		return err
	}
	t, err := parseTrailer(b)
	if err != nil {
		return err
	}
	return s.dec.verify(t)
}

func (s *snappyReader) Window() *pileup.Window { return s.window }

func (s *snappyReader) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
