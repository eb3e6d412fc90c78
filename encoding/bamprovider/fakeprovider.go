package bamprovider

import (
	"github.com/grailbio/hts/sam"
)

// fakeProvider is only for unittests. It yields the given records.
type fakeProvider struct {
	header *sam.Header
	recs   []*sam.Record
}

type fakeIterator struct {
	recs []*sam.Record
	rec  *sam.Record

	ref        *sam.Reference
	start, end int
}

// NewFakeProvider creates a provider that returns "header" in response to a
// GetHeader() call, and the subset of recs overlapping the requested range in
// response to NewIterator calls.  recs must be coordinate sorted.
func NewFakeProvider(header *sam.Header, recs []*sam.Record) Provider {
	return &fakeProvider{header, recs}
}

// GetHeader implements the Provider interface. It returns the header passed to
// the constructor.
func (b *fakeProvider) GetHeader() (*sam.Header, error) {
	return b.header, nil
}

// Close implements the Provider interface.
func (b *fakeProvider) Close() error {
	return nil
}

// NewIterator implements the Provider interface.
func (b *fakeProvider) NewIterator(ref *sam.Reference, start, end int) Iterator {
	return &fakeIterator{recs: b.recs, ref: ref, start: start, end: end}
}

// Err implements the Iterator interface.
func (i *fakeIterator) Err() error {
	return nil
}

// Close implements the Iterator interface.
func (i *fakeIterator) Close() error {
	return nil
}

func (i *fakeIterator) Scan() bool {
	for {
		if len(i.recs) == 0 {
			return false
		}
		i.rec = i.recs[0]
		i.recs = i.recs[1:]
		if overlaps(i.rec, i.ref, i.start, i.end) {
			return true
		}
	}
}

func (i *fakeIterator) Record() *sam.Record {
	// Return a copy so that the code under test cannot alter the
	// original test input data.
	copy := sam.GetFromFreePool()
	*copy = *i.rec
	return copy
}
