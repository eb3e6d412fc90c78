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

	"github.com/grailbio/polish/pileup/column"
)

// Sampler picks the read shown in one matrix row.  It is called with the
// window's valid reads in ascending ID order and must return one of them.
type Sampler func(valid []column.ReadID) column.ReadID

// UniformSampler draws uniformly, with replacement, using r.
func UniformSampler(r *rand.Rand) Sampler {
	return func(valid []column.ReadID) column.ReadID {
		return valid[r.Intn(len(valid))]
	}
}
