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
package label

import (
	"fmt"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/polish/pileup"
)

type entry struct {
	coord pileup.Coord
	label pileup.Base
}

// Compare implements llrb.Comparable.
func (e entry) Compare(o llrb.Comparable) int {
	return e.coord.Compare(o.(entry).coord)
}

// Index maps pileup coordinates to truth labels.
type Index struct {
	tree        llrb.Tree
	first, last pileup.Coord
	known       int
}

// NewIndex builds an Index from parallel coords and labels slices, as
// returned by PositionsAndLabels.
func NewIndex(coords []pileup.Coord, labels []pileup.Base) *Index {
	x := &Index{}
	for i, c := range coords {
		x.tree.Insert(entry{coord: c, label: labels[i]})
		if labels[i] == pileup.BaseUnknown {
			continue
		}
		if x.known == 0 || c.Less(x.first) {
			x.first = c
		}
		if x.known == 0 || x.last.Less(c) {
			x.last = c
		}
		x.known++
	}
	return x
}

// Len returns the number of labelled coordinates, including unknown ones.
func (x *Index) Len() int { return x.tree.Len() }

// Bounds returns the smallest and largest coordinates with a known label.
// ok is false if there are none.
func (x *Index) Bounds() (first, last pileup.Coord, ok bool) {
	return x.first, x.last, x.known > 0
}

// Label returns the label at c.
func (x *Index) Label(c pileup.Coord) (pileup.Base, bool) {
	e := x.tree.Get(entry{coord: c})
	if e == nil {
		return 0, false
	}
	return e.(entry).label, true
}

// Labels returns the labels of a window's coordinates.  ok is false when one
// of them is labelled BaseUnknown; such windows are not used for training.
// An insertion coordinate without a label is BaseGap; a reference coordinate
// without one is an error.
func (x *Index) Labels(coords []pileup.Coord) (labels []pileup.Base, ok bool, err error) {
	labels = make([]pileup.Base, len(coords))
	for i, c := range coords {
		l, found := x.Label(c)
		switch {
		case found && l == pileup.BaseUnknown:
			return nil, false, nil
		case found:
			labels[i] = l
		case c.Ins != 0:
			labels[i] = pileup.BaseGap
		default:
			return nil, false, fmt.Errorf("label: no label for position %v", c)
		}
	}
	return labels, true, nil
}
