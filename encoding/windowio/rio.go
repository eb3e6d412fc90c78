package windowio

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/polish/pileup"
)

const (
	contigsHeader = "Contigs"
	lengthsHeader = "ContigLengths"
	seqsHeader    = "ContigSeqs"
	rowsHeader    = "Rows"
	widthHeader   = "Width"
)

func init() {
	recordiozstd.Init()
}

// Writer writes windows to a container.  Close must be called to finish
// the container; it does not close the underlying io.Writer.
type Writer interface {
	Write(w *pileup.Window) error
	Close() error
}

// NewWriter returns a Writer that writes windows with the given header to out.
func NewWriter(out io.Writer, format Format, hdr Header) (Writer, error) {
	switch format {
	case RIO:
		return newRIOWriter(out, hdr)
	case Snappy:
		return newSnappyWriter(out, hdr)
	}
	return nil, fmt.Errorf("windowio: invalid format %v", format)
}

type rioWriter struct {
	enc *encoder
	w   recordio.Writer
}

func newRIOWriter(out io.Writer, hdr Header) (*rioWriter, error) {
	enc, err := newEncoder(hdr)
	if err != nil {
		return nil, err
	}
	w := recordio.NewWriter(out, recordio.WriterOpts{
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(contigsHeader, strings.Join(hdr.Contigs, "\000"))
	if hdr.Lengths != nil {
		lengths := make([]string, len(hdr.Lengths))
		for i, l := range hdr.Lengths {
			lengths[i] = strconv.Itoa(l)
		}
		w.AddHeader(lengthsHeader, strings.Join(lengths, "\000"))
	}
	if hdr.Seqs != nil {
		w.AddHeader(seqsHeader, string(bytes.Join(hdr.Seqs, []byte{0})))
	}
	w.AddHeader(rowsHeader, strconv.Itoa(hdr.Rows))
	w.AddHeader(widthHeader, strconv.Itoa(hdr.Width))
	w.AddHeader(recordio.KeyTrailer, true)
	return &rioWriter{enc: enc, w: w}, nil
}

func (r *rioWriter) Write(w *pileup.Window) error {
	rec, err := r.enc.encode(w)
	if err != nil {
		return err
	}
	r.w.Append(rec)
	return nil
}

func (r *rioWriter) Close() error {
	r.w.SetTrailer(trailer{count: r.enc.count, checksum: r.enc.checksum.Sum64()}.marshal())
	return r.w.Finish()
}

// Reader iterates over the windows in a container.  Once Scan returns
// false, Err reports any read error, including a count or checksum
// mismatch against the trailer.
type Reader interface {
	Header() Header
	Scan() bool
	Window() *pileup.Window
	Err() error
}

// NewReader returns a Reader for a container of the given format.  The rio
// format requires in to implement io.ReadSeeker.
func NewReader(in io.Reader, format Format) (Reader, error) {
	switch format {
	case RIO:
		rs, ok := in.(io.ReadSeeker)
		if !ok {
			return nil, fmt.Errorf("windowio: rio input must be seekable")
		}
		return newRIOReader(rs)
	case Snappy:
		return newSnappyReader(in)
	}
	return nil, fmt.Errorf("windowio: invalid format %v", format)
}

type rioReader struct {
	dec     *decoder
	scanner recordio.Scanner
	trailer trailer
	window  *pileup.Window
	err     error
}

func newRIOReader(rs io.ReadSeeker) (*rioReader, error) {
	scanner := recordio.NewScanner(rs, recordio.ScannerOpts{})
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	var (
		hdr           Header
		err           error
		packedContigs string
		packedLengths string
		packedSeqs    string
		hasLengths    bool
		hasSeqs       bool
	)
	for _, kv := range scanner.Header() {
		switch kv.Key {
		case contigsHeader:
			packedContigs = kv.Value.(string)
		case lengthsHeader:
			packedLengths, hasLengths = kv.Value.(string), true
		case seqsHeader:
			packedSeqs, hasSeqs = kv.Value.(string), true
		case rowsHeader:
			if hdr.Rows, err = strconv.Atoi(kv.Value.(string)); err != nil {
				return nil, fmt.Errorf("windowio: bad %s header: %v", rowsHeader, err)
			}
		case widthHeader:
			if hdr.Width, err = strconv.Atoi(kv.Value.(string)); err != nil {
				return nil, fmt.Errorf("windowio: bad %s header: %v", widthHeader, err)
			}
		default:
			// recordio writes keys of its own, so unrecognized keys are ignored.
		}
	}
	if hdr.Rows < 1 || hdr.Width < 1 {
		return nil, fmt.Errorf("windowio: missing matrix shape in header")
	}
	if packedContigs != "" {
		hdr.Contigs = strings.Split(packedContigs, "\000")
	}
	if hasLengths {
		fields := splitPacked(packedLengths, len(hdr.Contigs))
		if len(fields) != len(hdr.Contigs) {
			return nil, fmt.Errorf("windowio: %d contig lengths for %d contigs", len(fields), len(hdr.Contigs))
		}
		hdr.Lengths = make([]int, len(fields))
		for i, f := range fields {
			if hdr.Lengths[i], err = strconv.Atoi(f); err != nil {
				return nil, fmt.Errorf("windowio: bad %s header: %v", lengthsHeader, err)
			}
		}
	}
	if hasSeqs {
		fields := splitPacked(packedSeqs, len(hdr.Contigs))
		if len(fields) != len(hdr.Contigs) {
			return nil, fmt.Errorf("windowio: %d contig sequences for %d contigs", len(fields), len(hdr.Contigs))
		}
		hdr.Seqs = make([][]byte, len(fields))
		for i, f := range fields {
			if f != "" {
				hdr.Seqs[i] = []byte(f)
			}
		}
	}
	r := &rioReader{dec: newDecoder(hdr), scanner: scanner}
	if r.trailer, err = parseTrailer(scanner.Trailer()); err != nil {
		return nil, err
	}
	return r, nil
}

// splitPacked splits a NUL-joined list of n strings.  A single empty
// string and an empty list both pack to "", so n disambiguates them.
func splitPacked(packed string, n int) []string {
	if n == 0 && packed == "" {
		return []string{}
	}
	return strings.Split(packed, "\000")
}

func (r *rioReader) Header() Header { return r.dec.hdr }

func (r *rioReader) Scan() bool {
	if r.err != nil {
		return false
	}
	if !r.scanner.Scan() {
		if r.err = r.scanner.Err(); r.err == nil {
			r.err = r.dec.verify(r.trailer)
		}
		return false
	}
	r.window, r.err = r.dec.decode(r.scanner.Get().([]byte))
	return r.err == nil
}

func (r *rioReader) Window() *pileup.Window { return r.window }

func (r *rioReader) Err() error { return r.err }
