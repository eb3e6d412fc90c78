package interval

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/klauspost/compress/gzip"
)

// PosType is the coordinate type shared by every region in this package.
type PosType int32

// PosTypeMax is the maximum value that can be represented by a PosType.
const PosTypeMax = math.MaxInt32

const (
	// DefaultTileWidth is the default width of a contig tile.
	DefaultTileWidth = 100000
	// DefaultTileOverlap is the default number of positions shared by
	// consecutive tiles.
	DefaultTileOverlap = 300
)

// Entry represents a single interval, with 0-based coordinates.
type Entry struct {
	RefName string
	Start0  PosType
	End     PosType
}

// String renders the entry in the 1-based [contig]:[first pos]-[last pos]
// form accepted by ParseRegionString.
func (e Entry) String() string {
	return e.RefName + ":" + strconv.Itoa(int(e.Start0)+1) + "-" + strconv.Itoa(int(e.End))
}

// Len returns the number of positions covered by the entry.
func (e Entry) Len() int {
	return int(e.End - e.Start0)
}

// Contains returns true iff pos is in [Start0, End).
func (e Entry) Contains(pos PosType) bool {
	return pos >= e.Start0 && pos < e.End
}

// ParseRegionString parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// returning a contig ID and 0-based interval boundaries.  The interval
// [0, PosTypeMax - 1) is returned if there is no positional restriction.
func ParseRegionString(region string) (result Entry, err error) {
	if len(region) == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.LastIndexByte(region, ':')
	if colonPos == -1 {
		result.RefName = region
		result.End = PosTypeMax - 1
		return
	}
	if colonPos == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty contig ID")
		return
	}
	result.RefName = region[0:colonPos]
	rangeStr := strings.Replace(region[colonPos+1:], ",", "", -1)
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int64
		if pos1, err = strconv.ParseInt(rangeStr, 10, 32); err != nil {
			return
		}
		if pos1 <= 0 {
			err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr)
			return
		}
		result.Start0 = PosType(pos1 - 1)
		result.End = PosType(pos1)
		return
	}
	var start1, end int
	if start1, err = strconv.Atoi(rangeStr[:dashPos]); err != nil {
		return
	}
	if start1 <= 0 {
		err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr[:dashPos])
		return
	}
	if end, err = strconv.Atoi(rangeStr[dashPos+1:]); err != nil {
		return
	}
	// A single-position range ("chr1:5-5") is legal; an empty one is not.
	if end < start1 || end >= PosTypeMax {
		err = fmt.Errorf("interval.ParseRegionString: invalid range string %v", rangeStr)
		return
	}
	result.Start0 = PosType(start1 - 1)
	result.End = PosType(end)
	return
}

// TileContig splits [0, length) into consecutive tiles of the given width,
// each starting overlap positions before the previous tile's end.  The last
// tile is clipped to the contig end.
func TileContig(refName string, length, width, overlap int) ([]Entry, error) {
	if width <= 0 {
		return nil, fmt.Errorf("interval.TileContig: nonpositive tile width %d", width)
	}
	if overlap < 0 || overlap >= width {
		return nil, fmt.Errorf("interval.TileContig: overlap %d must be in [0, %d)", overlap, width)
	}
	var tiles []Entry
	for start := 0; start < length; {
		end := start + width
		if end > length {
			end = length
		}
		tiles = append(tiles, Entry{
			RefName: refName,
			Start0:  PosType(start),
			End:     PosType(end),
		})
		if end >= length {
			break
		}
		start = end - overlap
	}
	return tiles, nil
}

// NewEntriesFromBED loads a region list from a BED.  Intervals must be
// sorted by start coordinate within each contig; touching or overlapping
// intervals are merged and empty ones are dropped.  Contig order is
// preserved.
func NewEntriesFromBED(reader io.Reader) (entries []Entry, err error) {
	scanner := bufio.NewScanner(reader)
	lineIdx := 0
	totBases := 0
	seen := make(map[string]bool)
	var cur Entry
	flush := func() {
		if cur.RefName != "" && cur.End > cur.Start0 {
			entries = append(entries, cur)
			totBases += cur.Len()
		}
	}
	for scanner.Scan() {
		lineIdx++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0][0] == '#' || fields[0] == "track" || fields[0] == "browser" {
			continue
		}
		if len(fields) < 3 {
			err = fmt.Errorf("interval.NewEntriesFromBED: line %d has fewer tokens than expected", lineIdx)
			return
		}
		var start, end int
		if start, err = strconv.Atoi(fields[1]); err != nil {
			return
		}
		if end, err = strconv.Atoi(fields[2]); err != nil {
			return
		}
		if start < 0 || end < start || end >= PosTypeMax {
			err = fmt.Errorf("interval.NewEntriesFromBED: invalid coordinate pair on line %d", lineIdx)
			return
		}
		if fields[0] != cur.RefName {
			flush()
			refName := fields[0]
			if seen[refName] {
				err = fmt.Errorf("interval.NewEntriesFromBED: unsorted input (split chromosome %v)", refName)
				return
			}
			seen[refName] = true
			cur = Entry{RefName: refName, Start0: PosType(start), End: PosType(end)}
			continue
		}
		if PosType(start) < cur.Start0 {
			err = fmt.Errorf("interval.NewEntriesFromBED: unsorted input on line %d", lineIdx)
			return
		}
		if PosType(start) > cur.End {
			flush()
			cur.Start0 = PosType(start)
			cur.End = PosType(end)
		} else if PosType(end) > cur.End {
			cur.End = PosType(end)
		}
	}
	if err = scanner.Err(); err != nil {
		return
	}
	flush()
	log.Printf("BED loaded, %d region(s), %d base(s) covered.", len(entries), totBases)
	return
}

// NewEntriesFromBEDPath is a wrapper for NewEntriesFromBED that takes a path
// instead of an io.Reader.
func NewEntriesFromBEDPath(path string) (entries []Entry, err error) {
	ctx := vcontext.Background()
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader := io.Reader(infile.Reader(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(reader); err != nil {
			return
		}
		defer gz.Close()
		reader = gz
	}
	return NewEntriesFromBED(reader)
}
