package windowio

import (
	"io"

	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/polish/pileup"
)

// PositionRow is one line of a position index.  Positions are 1-based, as
// is usual for text formats; Ins counts the insertion columns after Pos.
type PositionRow struct {
	Contig   string `tsv:"#CONTIG"`
	Window   int64  `tsv:"WINDOW"`
	FirstPos int64  `tsv:"FIRST_POS"`
	FirstIns int64  `tsv:"FIRST_INS"`
	LastPos  int64  `tsv:"LAST_POS"`
	LastIns  int64  `tsv:"LAST_INS"`
}

// PositionWriter writes the position index that accompanies a window
// file: one row per window, in file order.
type PositionWriter struct {
	tsvw  *tsv.Writer
	bgzfw *bgzf.Writer
	n     int64
}

// NewPositionWriter writes the index header to out and returns the writer.
// If bgzip is set the output is bgzf-compressed with the given parallelism.
func NewPositionWriter(out io.Writer, bgzip bool, parallelism int) (*PositionWriter, error) {
	p := &PositionWriter{}
	if bgzip {
		p.bgzfw = bgzf.NewWriter(out, parallelism)
		out = p.bgzfw
	}
	p.tsvw = tsv.NewWriter(out)
	p.tsvw.WriteString("#CONTIG\tWINDOW\tFIRST_POS\tFIRST_INS\tLAST_POS\tLAST_INS")
	if err := p.tsvw.EndLine(); err != nil {
		return nil, err
	}
	return p, nil
}

// Add appends the row for the next window.
func (p *PositionWriter) Add(w *pileup.Window) error {
	first, last := w.Coords[0], w.Coords[len(w.Coords)-1]
	p.tsvw.WriteString(w.Contig)
	p.tsvw.WriteInt64(p.n)
	p.tsvw.WriteUint32(uint32(first.Pos + 1))
	p.tsvw.WriteUint32(uint32(first.Ins))
	p.tsvw.WriteUint32(uint32(last.Pos + 1))
	p.tsvw.WriteUint32(uint32(last.Ins))
	p.n++
	return p.tsvw.EndLine()
}

// Close flushes the index.  It does not close the underlying io.Writer.
func (p *PositionWriter) Close() error {
	err := p.tsvw.Flush()
	if p.bgzfw != nil {
		if e := p.bgzfw.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// ReadPositions reads an uncompressed position index.
func ReadPositions(in io.Reader) ([]PositionRow, error) {
	reader := tsv.NewReader(in)
	reader.HasHeaderRow = true
	reader.UseHeaderNames = true
	var rows []PositionRow
	for {
		var row PositionRow
		if err := reader.Read(&row); err != nil {
			if err == io.EOF {
				return rows, nil
			}
			return nil, err
		}
		rows = append(rows, row)
	}
}
