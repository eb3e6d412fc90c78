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
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/polish/encoding/windowio"
	"github.com/grailbio/polish/pileup"
	"github.com/grailbio/polish/pileup/feature"
)

var (
	configPath = flag.String("config", "", "TOML file of settings; flags given explicitly override it")
	outPrefix  = flag.String("out", "bio-polish-features", "Output path prefix")
	viewPath   = flag.String("view", "", "Print the windows of this file as text instead of generating windows")
)

// registerFlags binds one flag to each setting in opts.
func registerFlags(fs *flag.FlagSet, opts *feature.GenerateOpts) {
	fs.IntVar(&opts.Rows, "rows", opts.Rows, "Number of matrix rows per window")
	fs.IntVar(&opts.Width, "width", opts.Width, "Number of columns per window")
	fs.IntVar(&opts.RefRows, "ref-rows", opts.RefRows, "Number of leading rows filled with the reference sequence")
	fs.IntVar(&opts.MaxIns, "max-ins", opts.MaxIns, "Maximum number of insertion columns after one reference position")
	fs.IntVar(&opts.EvictCount, "evict-count", opts.EvictCount, "Number of columns consecutive windows are offset by")
	fs.Var(&opts.EmptyPolicy, "empty", "Windows without a read covering them: 'skip' drops them, 'unknown' emits them with unknown rows")

	fs.StringVar(&opts.Region, "region", opts.Region, "Restrict generation to the specified region. Format as <contig ID>:<1-based first pos>-<last pos>, <contig ID>:<1-based pos>, or just <contig ID>; can't be combined with -bed")
	fs.StringVar(&opts.BEDPath, "bed", opts.BEDPath, "Restrict generation to the intervals of this BED file")
	fs.StringVar(&opts.BAMIndexPath, "index", opts.BAMIndexPath, "Input BAM index path. Defaults to bampath + .bai")
	fs.IntVar(&opts.TileWidth, "tile-width", opts.TileWidth, "Regions are split into tiles of this many positions, processed independently")
	fs.IntVar(&opts.TileOverlap, "tile-overlap", opts.TileOverlap, "Number of positions shared by consecutive tiles")
	fs.IntVar(&opts.FlagExclude, "flag-exclude", opts.FlagExclude, "Reads with a FLAG bit intersecting this value are skipped")
	fs.IntVar(&opts.MinMapQ, "mapq", opts.MinMapQ, "Reads with MAPQ below this level are skipped")
	fs.Int64Var(&opts.Seed, "seed", opts.Seed, "Seed for read sampling; output is reproducible for a fixed seed")

	fs.StringVar(&opts.TruthPath, "truth", opts.TruthPath, "BAM of truth-genome alignments to the draft; enables labelled (training) output")
	fs.StringVar(&opts.TruthIndex, "truth-index", opts.TruthIndex, "Truth BAM index path. Defaults to truth + .bai")
	fs.Float64Var(&opts.Filter.LenRatio, "truth-len-ratio", opts.Filter.LenRatio, "Length ratio above which overlapping truth alignments are treated as dissimilar")
	fs.Float64Var(&opts.Filter.OverlapRatio, "truth-overlap-ratio", opts.Filter.OverlapRatio, "Overlap fraction above which overlapping truth alignments are not trimmed")
	fs.IntVar(&opts.Filter.MinLen, "truth-min-len", opts.Filter.MinLen, "Truth alignments shorter than this after trimming are dropped")

	fs.Var(&opts.Format, "format", "Output format; 'rio' and 'snappy' supported")
	fs.BoolVar(&opts.Bgzip, "bgzip", opts.Bgzip, "Bgzip the position index")
	fs.IntVar(&opts.Parallelism, "parallelism", opts.Parallelism, "Maximum number of simultaneous (local) jobs to launch; 0 = runtime.NumCPU()")
	fs.StringVar(&opts.TempDir, "temp-dir", opts.TempDir, "Directory to write temporary files to (default os.TempDir())")
}

// loadConfig decodes the TOML file at path into opts, then reapplies the
// flags set explicitly in fs.
func loadConfig(ctx context.Context, path string, fs *flag.FlagSet, opts *feature.GenerateOpts) (err error) {
	explicit := map[string]string{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = f.Value.String() })

	in, err := file.Open(ctx, path)
	if err != nil {
		return errors.E(err, "opening", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	if _, err = toml.DecodeReader(in.Reader(ctx), opts); err != nil {
		return errors.E(err, "decoding", path)
	}
	for name, value := range explicit {
		if err = fs.Set(name, value); err != nil {
			return
		}
	}
	return
}

// writeConfig writes opts in the format read by loadConfig.
func writeConfig(ctx context.Context, path string, opts feature.GenerateOpts) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return
	}
	defer file.CloseAndReport(ctx, out, &err)
	return toml.NewEncoder(out.Writer(ctx)).Encode(opts)
}

// view prints the windows in path.  The format is taken from the file name
// when it has a known suffix.
func view(ctx context.Context, path string, format windowio.Format, w io.Writer) (err error) {
	for _, f := range []windowio.Format{windowio.RIO, windowio.Snappy} {
		if strings.HasSuffix(path, f.Ext()) {
			format = f
		}
	}
	in, err := file.Open(ctx, path)
	if err != nil {
		return
	}
	defer file.CloseAndReport(ctx, in, &err)
	r, err := windowio.NewReader(in.Reader(ctx), format)
	if err != nil {
		return
	}
	line := make([]byte, 0, r.Header().Width+1)
	rowString := func(row []pileup.Base) []byte {
		line = line[:0]
		for _, b := range row {
			line = append(line, b.ASCII())
		}
		return append(line, '\n')
	}
	for i := 0; r.Scan(); i++ {
		win := r.Window()
		if _, err = fmt.Fprintf(w, "#%d %s %v-%v\n", i, win.Contig, win.Coords[0], win.Coords[win.Width-1]); err != nil {
			return
		}
		for row := 0; row < win.Rows; row++ {
			if _, err = w.Write(rowString(win.Row(row))); err != nil {
				return
			}
		}
		if len(win.Labels) > 0 {
			if _, err = w.Write(append([]byte("="), rowString(win.Labels)...)); err != nil {
				return
			}
		}
	}
	return r.Err()
}

func bioPolishFeaturesUsage() {
	fmt.Printf("Usage: %s [OPTIONS] bampath fapath\n", os.Args[0])
	fmt.Printf("       %s -view windowpath\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	opts := feature.DefaultGenerateOpts
	registerFlags(flag.CommandLine, &opts)
	flag.Usage = bioPolishFeaturesUsage
	shutdown := grail.Init()
	defer shutdown()
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
	ctx := vcontext.Background()

	if *configPath != "" {
		if err := loadConfig(ctx, *configPath, flag.CommandLine, &opts); err != nil {
			log.Fatalf("%v", err)
		}
	}
	if *viewPath != "" {
		if err := view(ctx, *viewPath, opts.Format, os.Stdout); err != nil {
			log.Panicf("%v", err)
		}
		return
	}

	allArgs := flag.Args()
	nPositionalArgs := flag.NArg()
	positionalArgs := allArgs[len(allArgs)-nPositionalArgs:]
	if nPositionalArgs != 2 {
		if nPositionalArgs < 2 {
			log.Fatalf("Missing positional arguments (bampath and fapath required); please check flag syntax: '%s'", strings.Join(positionalArgs, " "))
		} else {
			log.Fatalf("Too many positional arguments (only bampath and fapath expected); please check flag syntax: '%s'", strings.Join(positionalArgs, " "))
		}
	}
	if err := writeConfig(ctx, *outPrefix+".config.toml", opts); err != nil {
		log.Panicf("%v", err)
	}
	stats, err := feature.Generate(ctx, positionalArgs[0], positionalArgs[1], *outPrefix, opts)
	if err != nil {
		log.Panicf("%v", err)
	}
	log.Printf("%d columns, %d windows (%d without a covering read, %d unlabelled), %d inserted bases truncated",
		stats.Columns, stats.Windows, stats.Empty, stats.Unlabelled, stats.TruncatedIns)
	log.Debug.Printf("exiting")
}
