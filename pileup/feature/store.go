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
	"github.com/grailbio/polish/pileup"
	"github.com/grailbio/polish/pileup/column"
)

// columnStore holds the base each read shows at each queued coordinate.
type columnStore map[pileup.Coord]map[column.ReadID]pileup.Base

// record stores base for read id at c, replacing any earlier value.  It
// returns true when c was not in the store before.
func (s columnStore) record(id column.ReadID, c pileup.Coord, base pileup.Base) bool {
	col, ok := s[c]
	if !ok {
		col = make(map[column.ReadID]pileup.Base)
		s[c] = col
	}
	col[id] = base
	return !ok
}

// readInfo is the per-read state kept for the whole region.
type readInfo struct {
	start, end pileup.PosType
	forward    bool
	hasSpan    bool
	hasStrand  bool
}

// outside reports whether pos lies outside the read's [start, end) span.
func (r *readInfo) outside(pos pileup.PosType) bool {
	return pos < r.start || pos >= r.end
}

// readTracker records each read's span and strand the first time they are
// reported.  Later reports are ignored.
type readTracker map[column.ReadID]*readInfo

func (t readTracker) get(id column.ReadID) *readInfo {
	r, ok := t[id]
	if !ok {
		r = &readInfo{}
		t[id] = r
	}
	return r
}

func (t readTracker) recordSpan(id column.ReadID, start, end pileup.PosType) {
	if r := t.get(id); !r.hasSpan {
		r.start, r.end, r.hasSpan = start, end, true
	}
}

func (t readTracker) recordStrand(id column.ReadID, forward bool) {
	if r := t.get(id); !r.hasStrand {
		r.forward, r.hasStrand = forward, true
	}
}
