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
	"math/rand"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/polish/encoding/bamprovider"
	"github.com/grailbio/polish/interval"
	"github.com/grailbio/polish/pileup"
	"github.com/grailbio/polish/pileup/column"
)

// RegionSampler returns the sampler used for one region.  The seed only
// depends on the region and the global seed, so a region's windows do not
// depend on how regions are scheduled.
func RegionSampler(region interval.Entry, seed int64) Sampler {
	h := farm.Hash64WithSeed([]byte(region.String()), uint64(seed))
	return UniformSampler(rand.New(rand.NewSource(int64(h))))
}

// GenerateRegion builds the windows of one region from the reads in
// provider.  ref is the sequence of the region's contig.
func GenerateRegion(provider bamprovider.Provider, region interval.Entry, ref []byte, opts Opts, colOpts column.Opts,
	sample Sampler, emit func(*pileup.Window) error) (stats Stats, err error) {
	b, err := NewBuilder(opts, region, ref, sample, emit)
	if err != nil {
		return stats, err
	}
	reads := bamprovider.NewRefIterator(provider, region.RefName, int(region.Start0), int(region.End))
	defer func() {
		if e := reads.Close(); e != nil && err == nil {
			err = errors.E(e, "reading", region.String())
		}
	}()
	iter := column.NewIterator(reads, colOpts)
	for iter.Scan() {
		var more bool
		if more, err = b.Add(iter.Column()); err != nil || !more {
			break
		}
	}
	if err == nil {
		if err = iter.Err(); err != nil {
			err = errors.E(err, region.String())
		}
	}
	return b.Stats(), err
}
