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
package feature

import (
	"context"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"runtime"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/polish/encoding/bamprovider"
	"github.com/grailbio/polish/encoding/windowio"
	"github.com/grailbio/polish/interval"
	"github.com/grailbio/polish/pileup"
	"github.com/grailbio/polish/pileup/column"
	"github.com/grailbio/polish/pileup/label"
)

// GenerateOpts configures Generate.
type GenerateOpts struct {
	Opts

	// Region restricts generation to one region string, e.g. "chr1:1-5000".
	Region string `toml:"region"`
	// BEDPath restricts generation to the intervals of a BED file.
	BEDPath string `toml:"bed"`
	// BAMIndexPath overrides the default <bampath>.bai index location.
	BAMIndexPath string `toml:"bam_index"`
	// TileWidth and TileOverlap split regions into independently processed
	// tiles.
	TileWidth   int `toml:"tile_width"`
	TileOverlap int `toml:"tile_overlap"`

	FlagExclude int   `toml:"flag_exclude"`
	MinMapQ     int   `toml:"min_mapq"`
	Seed        int64 `toml:"seed"`

	// TruthPath, if set, names a BAM of truth-genome alignments.  Windows are
	// then generated only where a truth alignment has labels, and carry them.
	TruthPath  string           `toml:"truth"`
	TruthIndex string           `toml:"truth_index"`
	Filter     label.FilterOpts `toml:"truth_filter"`

	Format      windowio.Format `toml:"format"`
	Bgzip       bool            `toml:"bgzip"`
	Parallelism int             `toml:"parallelism"`
	TempDir     string          `toml:"temp_dir"`
}

// DefaultGenerateOpts holds the default Generate options.
var DefaultGenerateOpts = GenerateOpts{
	Opts:        DefaultOpts,
	TileWidth:   interval.DefaultTileWidth,
	TileOverlap: interval.DefaultTileOverlap,
	FlagExclude: int(column.DefaultFlagExclude),
	MinMapQ:     int(column.DefaultOpts.MinMapQ),
	Filter:      label.DefaultFilterOpts,
	Format:      windowio.RIO,
}

// Validate checks the window shape and the read filters.
func (o *GenerateOpts) Validate() error {
	if err := o.Opts.Validate(); err != nil {
		return err
	}
	if o.FlagExclude < 0 || o.FlagExclude > math.MaxUint16 {
		return fmt.Errorf("feature: flag_exclude must be in [0, %d], got %d", math.MaxUint16, o.FlagExclude)
	}
	if o.MinMapQ < 0 || o.MinMapQ > math.MaxUint8 {
		return fmt.Errorf("feature: min_mapq must be in [0, %d], got %d", math.MaxUint8, o.MinMapQ)
	}
	return nil
}

// OutputPaths returns the window file and position index paths Generate
// writes for outPrefix.
func (o *GenerateOpts) OutputPaths(outPrefix string) (windows, positions string) {
	positions = outPrefix + ".positions.tsv"
	if o.Bgzip {
		positions += ".gz"
	}
	return outPrefix + o.Format.Ext(), positions
}

// Regions returns the regions Generate processes, in output order.  Each
// entry of the region string or BED (or each contig when neither is set) is
// clipped to its contig and tiled.
func (o *GenerateOpts) Regions(header *sam.Header) ([]interval.Entry, error) {
	var entries []interval.Entry
	switch {
	case o.Region != "" && o.BEDPath != "":
		return nil, fmt.Errorf("feature.Generate: region and BED restrictions can't be used together")
	case o.Region != "":
		entry, err := interval.ParseRegionString(o.Region)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	case o.BEDPath != "":
		var err error
		if entries, err = interval.NewEntriesFromBEDPath(o.BEDPath); err != nil {
			return nil, err
		}
	default:
		for _, ref := range header.Refs() {
			entries = append(entries, interval.Entry{RefName: ref.Name(), End: interval.PosType(ref.Len())})
		}
	}
	var regions []interval.Entry
	for _, entry := range entries {
		ref := bamprovider.RefByName(header, entry.RefName)
		if ref == nil {
			return nil, fmt.Errorf("feature.Generate: contig %s is not in the BAM header", entry.RefName)
		}
		if entry.End > interval.PosType(ref.Len()) {
			entry.End = interval.PosType(ref.Len())
		}
		if entry.End <= entry.Start0 {
			log.Printf("feature.Generate: skipping %s, which lies past the end of the contig", entry.RefName)
			continue
		}
		tiles, err := interval.TileContig(entry.RefName, entry.Len(), o.TileWidth, o.TileOverlap)
		if err != nil {
			return nil, err
		}
		for _, tile := range tiles {
			tile.Start0 += entry.Start0
			tile.End += entry.Start0
			regions = append(regions, tile)
		}
	}
	return regions, nil
}

// generator holds the state shared by Generate's jobs.
type generator struct {
	opts     GenerateOpts
	colOpts  column.Opts
	provider bamprovider.Provider
	truth    bamprovider.Provider
	header   *sam.Header
	refSeqs  [][]byte
}

func (g *generator) refSeq(region interval.Entry) []byte {
	ref := bamprovider.RefByName(g.header, region.RefName)
	return g.refSeqs[ref.ID()]
}

// region generates the windows of one region, passing them to out.
func (g *generator) region(region interval.Entry, out func(*pileup.Window) error) (Stats, error) {
	ref := g.refSeq(region)
	if ref == nil && g.opts.RefRows > 0 {
		return Stats{}, fmt.Errorf("feature.Generate: no reference sequence for %s", region.RefName)
	}
	if g.truth == nil {
		return GenerateRegion(g.provider, region, ref, g.opts.Opts, g.colOpts, RegionSampler(region, g.opts.Seed), out)
	}

	var stats Stats
	aligns, err := label.Fetch(g.truth, region)
	if err != nil {
		return stats, errors.E(err, "fetching truth alignments for", region.String())
	}
	for _, a := range label.Filter(aligns, g.opts.Filter) {
		idx := label.NewIndex(label.PositionsAndLabels(a, region))
		first, last, ok := idx.Bounds()
		if !ok || last.Pos <= first.Pos {
			continue
		}
		sub := interval.Entry{RefName: region.RefName, Start0: first.Pos, End: last.Pos}
		var unlabelled int
		s, err := GenerateRegion(g.provider, sub, ref, g.opts.Opts, g.colOpts, RegionSampler(sub, g.opts.Seed),
			func(w *pileup.Window) error {
				labels, ok, err := idx.Labels(w.Coords)
				if err != nil {
					return errors.E(err, "truth alignment", a.Rec.Name)
				}
				if !ok {
					unlabelled++
					return nil
				}
				w.Labels = labels
				return out(w)
			})
		s.Unlabelled = unlabelled
		stats.Merge(s)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// Generate writes the windows of the BAM at bampath to
// <outPrefix>.windows.<format>, with a position index beside it.  Regions
// are split into Parallelism contiguous jobs; each job writes a temporary
// recordio file, and the files are then concatenated in region order.
func Generate(ctx context.Context, bampath, fapath, outPrefix string, opts GenerateOpts) (stats Stats, err error) {
	if err = opts.Validate(); err != nil {
		return
	}
	g := &generator{
		opts: opts,
		colOpts: column.Opts{
			FlagExclude: sam.Flags(opts.FlagExclude),
			MinMapQ:     byte(opts.MinMapQ),
		},
	}
	g.provider = bamprovider.NewProvider(bampath, bamprovider.ProviderOpts{Index: opts.BAMIndexPath})
	defer func() {
		if e := g.provider.Close(); e != nil && err == nil {
			err = e
		}
	}()
	if g.header, err = g.provider.GetHeader(); err != nil {
		return
	}
	if opts.TruthPath != "" {
		g.truth = bamprovider.NewProvider(opts.TruthPath, bamprovider.ProviderOpts{Index: opts.TruthIndex})
		defer func() {
			if e := g.truth.Close(); e != nil && err == nil {
				err = e
			}
		}()
	}
	fa, err := pileup.LoadFa(ctx, fapath)
	if err != nil {
		return
	}
	if g.refSeqs, err = pileup.FaToRefSeqs(fa, g.header.Refs()); err != nil {
		return
	}
	regions, err := opts.Regions(g.header)
	if err != nil {
		return
	}
	hdr := windowio.Header{Rows: opts.Rows, Width: opts.Width, Seqs: g.refSeqs}
	for _, ref := range g.header.Refs() {
		hdr.Contigs = append(hdr.Contigs, ref.Name())
		hdr.Lengths = append(hdr.Lengths, ref.Len())
	}

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > len(regions) {
		parallelism = len(regions)
	}
	if len(regions) == 0 {
		log.Printf("feature.Generate: no regions to process")
	}
	if opts.TempDir != "" {
		if err = os.MkdirAll(opts.TempDir, 0755); err != nil {
			return
		}
	}
	tmpFiles := make([]*os.File, parallelism)
	defer func() {
		for _, f := range tmpFiles {
			if f != nil {
				if e := f.Close(); e != nil && err == nil {
					err = e
				}
				if e := os.Remove(f.Name()); e != nil && err == nil {
					err = e
				}
			}
		}
	}()
	for jobIdx := range tmpFiles {
		if tmpFiles[jobIdx], err = ioutil.TempFile(opts.TempDir, "polish_tmp"+strconv.Itoa(jobIdx)+"_*.rio"); err != nil {
			return
		}
	}

	log.Printf("feature.Generate: %d regions, %d jobs", len(regions), parallelism)
	jobStats := make([]Stats, parallelism)
	err = traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * len(regions)) / parallelism
		endIdx := ((jobIdx + 1) * len(regions)) / parallelism
		w, err := windowio.NewWriter(tmpFiles[jobIdx], windowio.RIO, hdr.WithoutSeqs())
		if err != nil {
			return err
		}
		for _, region := range regions[startIdx:endIdx] {
			s, err := g.region(region, w.Write)
			jobStats[jobIdx].Merge(s)
			if err != nil {
				return err
			}
			log.Printf("finished generating %d windows for %s", s.Windows-s.Unlabelled, region)
		}
		return w.Close()
	})
	if err != nil {
		return
	}
	for _, s := range jobStats {
		stats.Merge(s)
	}
	err = g.concat(ctx, tmpFiles, hdr, outPrefix, parallelism)
	return
}

// concat copies the job files, in order, to the final outputs.
func (g *generator) concat(ctx context.Context, tmpFiles []*os.File, hdr windowio.Header, outPrefix string, parallelism int) (err error) {
	windowsPath, positionsPath := g.opts.OutputPaths(outPrefix)
	dst, err := file.Create(ctx, windowsPath)
	if err != nil {
		return
	}
	defer file.CloseAndReport(ctx, dst, &err)
	posDst, err := file.Create(ctx, positionsPath)
	if err != nil {
		return
	}
	defer file.CloseAndReport(ctx, posDst, &err)

	w, err := windowio.NewWriter(dst.Writer(ctx), g.opts.Format, hdr)
	if err != nil {
		return
	}
	if parallelism < 1 {
		parallelism = 1
	}
	positions, err := windowio.NewPositionWriter(posDst.Writer(ctx), g.opts.Bgzip, parallelism)
	if err != nil {
		return
	}
	var n int
	for _, f := range tmpFiles {
		if _, err = f.Seek(0, 0); err != nil {
			return
		}
		var r windowio.Reader
		if r, err = windowio.NewReader(f, windowio.RIO); err != nil {
			return errors.E(err, "reading", f.Name())
		}
		for r.Scan() {
			win := r.Window()
			if err = w.Write(win); err != nil {
				return
			}
			if err = positions.Add(win); err != nil {
				return
			}
			n++
		}
		if err = r.Err(); err != nil {
			return errors.E(err, "reading", f.Name())
		}
	}
	if err = w.Close(); err != nil {
		return
	}
	if err = positions.Close(); err != nil {
		return
	}
	log.Printf("feature.Generate: wrote %d windows to %s", n, windowsPath)
	return
}
