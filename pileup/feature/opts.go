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
	"fmt"
)

// EmptyPolicy decides what happens to a window in which no read has a
// resolvable base.
type EmptyPolicy int

const (
	// SkipEmpty emits nothing for such a window.  The queue still slides by
	// EvictCount.
	SkipEmpty EmptyPolicy = iota
	// EmitUnknown emits the window with every sampled row set to BaseUnknown.
	EmitUnknown
)

var emptyPolicyNames = [...]string{"skip", "unknown"}

// String implements fmt.Stringer.
func (p EmptyPolicy) String() string {
	if p < 0 || int(p) >= len(emptyPolicyNames) {
		return fmt.Sprintf("EmptyPolicy(%d)", int(p))
	}
	return emptyPolicyNames[p]
}

// MarshalText implements encoding.TextMarshaler.
func (p EmptyPolicy) MarshalText() ([]byte, error) {
	if p < 0 || int(p) >= len(emptyPolicyNames) {
		return nil, fmt.Errorf("feature: invalid empty policy %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *EmptyPolicy) UnmarshalText(text []byte) error {
	for i, name := range emptyPolicyNames {
		if string(text) == name {
			*p = EmptyPolicy(i)
			return nil
		}
	}
	return fmt.Errorf("feature: unknown empty policy %q (want one of %v)", text, emptyPolicyNames)
}

// Set implements flag.Value.
func (p *EmptyPolicy) Set(s string) error { return p.UnmarshalText([]byte(s)) }

// Opts controls the shape of the emitted windows.
type Opts struct {
	// Rows is the number of matrix rows per window.
	Rows int `toml:"rows"`
	// Width is the number of columns per window.
	Width int `toml:"width"`
	// RefRows is the number of leading rows filled with the reference.
	RefRows int `toml:"ref_rows"`
	// MaxIns is the maximum number of insertion columns recorded after one
	// reference position; longer insertions are truncated.
	MaxIns int `toml:"max_ins"`
	// EvictCount is the number of columns dropped from the front of the queue
	// after each window.  Width-EvictCount columns are shared between
	// consecutive windows.
	EvictCount int `toml:"evict_count"`
	// EmptyPolicy handles windows without a usable read.
	EmptyPolicy EmptyPolicy `toml:"empty_policy"`
}

// DefaultOpts is the default Opts value.
var DefaultOpts = Opts{
	Rows:       200,
	Width:      90,
	RefRows:    0,
	MaxIns:     3,
	EvictCount: 30,
}

// Validate checks that o describes a usable window shape.
func (o *Opts) Validate() error {
	if o.Rows < 1 {
		return fmt.Errorf("feature: rows must be positive, got %d", o.Rows)
	}
	if o.Width < 1 {
		return fmt.Errorf("feature: width must be positive, got %d", o.Width)
	}
	if o.RefRows < 0 || o.RefRows > o.Rows {
		return fmt.Errorf("feature: ref_rows must be in [0, %d], got %d", o.Rows, o.RefRows)
	}
	if o.MaxIns < 0 {
		return fmt.Errorf("feature: max_ins must be non-negative, got %d", o.MaxIns)
	}
	if o.EvictCount < 1 || o.EvictCount > o.Width {
		return fmt.Errorf("feature: evict_count must be in [1, %d], got %d", o.Width, o.EvictCount)
	}
	if o.EmptyPolicy != SkipEmpty && o.EmptyPolicy != EmitUnknown {
		return fmt.Errorf("feature: invalid empty policy %d", int(o.EmptyPolicy))
	}
	return nil
}
