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

/*
Given a coordinate-sorted, indexed BAM of reads aligned to a draft assembly,
bio-polish-features writes fixed-shape feature windows for a consensus
polishing model.  Each window is a rows x width matrix of base codes: the
reference (optional), then reads sampled from those that cover the whole
window, one read per row.  Window columns are reference positions plus the
insertion positions observed between them.

Output files, for -out=<prefix>:

  <prefix>.windows.rio (or .windows.snappy)  the windows
  <prefix>.positions.tsv[.gz]               the first and last coordinate of each window
  <prefix>.config.toml                      the effective configuration

With -truth, windows are only generated over truth-genome alignments, and
each carries the truth labels of its columns; windows touching an unknown
label are dropped.

Settings come from the defaults, then the -config TOML file, then any flag
given explicitly on the command line.

Sample usage:
bio-polish-features \
    --region contig_1:1-500000 \
    --truth truth_to_draft.bam \
    --out output-prefix \
    reads_to_draft.bam \
    draft.fa

bio-polish-features --view output-prefix.windows.rio
*/
package main
