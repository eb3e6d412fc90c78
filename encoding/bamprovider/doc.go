// Package bamprovider provides utilities for reading the alignments that
// overlap a genomic region of an indexed BAM file.
//
// The Provider is an interface that can be shared by many goroutines; each
// goroutine obtains its own Iterator.
package bamprovider
