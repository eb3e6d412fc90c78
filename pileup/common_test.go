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
package pileup_test

import (
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/polish/encoding/fasta"
	"github.com/grailbio/polish/pileup"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestBaseFromASCII(t *testing.T) {
	for _, tt := range []struct {
		c    byte
		want pileup.Base
	}{
		{'A', pileup.BaseA}, {'c', pileup.BaseC}, {'G', pileup.BaseG}, {'t', pileup.BaseT},
		{'N', pileup.BaseUnknown}, {'R', pileup.BaseUnknown}, {'*', pileup.BaseUnknown}, {0, pileup.BaseUnknown},
	} {
		expect.EQ(t, pileup.BaseFromASCII(tt.c), tt.want, "char %q", tt.c)
	}
}

func TestBaseStrand(t *testing.T) {
	expect.EQ(t, pileup.BaseG.Stranded(true), pileup.Base(8))
	expect.EQ(t, pileup.BaseGap.Stranded(true), pileup.Base(10))
	expect.EQ(t, pileup.BaseGap.Stranded(false), pileup.BaseGap)
	expect.EQ(t, pileup.Base(11).Forward(), pileup.BaseUnknown)
	expect.True(t, pileup.Base(6).Reverse())
	expect.False(t, pileup.Base(5).Reverse())
	expect.False(t, pileup.Base(12).Valid())
	expect.EQ(t, pileup.BaseT.Stranded(true).ASCII(), byte('t'))
	expect.EQ(t, pileup.BaseGap.Stranded(true).ASCII(), byte('*'))
	expect.EQ(t, pileup.BaseUnknown.ASCII(), byte('N'))
}

func TestCoordOrder(t *testing.T) {
	a := pileup.Coord{Pos: 5, Ins: 0}
	b := pileup.Coord{Pos: 5, Ins: 2}
	c := pileup.Coord{Pos: 6, Ins: 0}
	expect.True(t, a.Less(b))
	expect.True(t, b.Less(c))
	expect.False(t, c.Less(a))
	expect.EQ(t, a.Compare(a), 0)
	expect.EQ(t, b.String(), "5.2")
}

func TestFaToRefSeqs(t *testing.T) {
	fa, err := fasta.New(strings.NewReader(">chr1\nACGTN\n>chr2\nGG\n>extra\nT\n"))
	assert.NoError(t, err)
	chr1, err := sam.NewReference("chr1", "", "", 5, nil, nil)
	assert.NoError(t, err)
	chr2, err := sam.NewReference("chr2", "", "", 2, nil, nil)
	assert.NoError(t, err)
	chr3, err := sam.NewReference("chr3", "", "", 9, nil, nil)
	assert.NoError(t, err)
	seqs, err := pileup.FaToRefSeqs(fa, []*sam.Reference{chr1, chr2, chr3})
	assert.NoError(t, err)
	expect.EQ(t, string(seqs[0]), "ACGTN")
	expect.EQ(t, string(seqs[1]), "GG")
	expect.True(t, seqs[2] == nil)

	bad, err := sam.NewReference("chr2", "", "", 3, nil, nil)
	assert.NoError(t, err)
	_, err = pileup.FaToRefSeqs(fa, []*sam.Reference{bad})
	expect.Regexp(t, err, "inconsistent lengths")
}

func TestLoadFa(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tmpdir, "ref.fa")
	assert.NoError(t, ioutil.WriteFile(path, []byte(">ctg\nACGT\nAC\n"), 0644))
	fa, err := pileup.LoadFa(vcontext.Background(), path)
	assert.NoError(t, err)
	s, err := fa.Get("ctg", 0, 6)
	assert.NoError(t, err)
	expect.EQ(t, s, "ACGTAC")
}
