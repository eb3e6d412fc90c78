package bamprovider

import (
	"github.com/grailbio/hts/sam"
)

// ProviderOpts defines options for NewProvider.
type ProviderOpts struct {
	// Index specifies the name of the BAM index file. If Index=="", it defaults
	// to path + ".bai".
	Index string
}

// Provider allows reading a BAM file in parallel. Thread safe.
type Provider interface {
	// GetHeader returns the header for the provided BAM data.  The callee
	// must not modify the returned header object.
	//
	// REQUIRES: Close has not been called.
	GetHeader() (*sam.Header, error)

	// NewIterator returns an iterator over the records of ref whose alignment
	// overlaps the half-open range [start, end).
	//
	// REQUIRES: Close has not been called.
	NewIterator(ref *sam.Reference, start, end int) Iterator

	// Close must be called exactly once. It returns any error encountered
	// by the provider, or any iterator created by the provider.
	//
	// REQUIRES: All the iterators created by NewIterator have been closed.
	Close() error
}

// Iterator iterates over sam.Records in a particular genomic range, in
// coordinate order. Thread compatible.
type Iterator interface {
	// Scan returns where there are any records remaining in the iterator,
	// and if so, advances the iterator to the next record. If the iterator
	// reaches the end of its range, Scan() returns false.  If an error
	// occurs, Scan() returns false and the error can be retrieved by
	// calling Error().
	//
	// REQUIRES: Close has not been called.
	Scan() bool

	// Record returns the current record in the iterator. This must be
	// called only after a call to Scan() returns true.
	//
	// REQUIRES: Close has not been called.
	Record() *sam.Record

	// Err returns the error encoutered during iteration, or nil if no error
	// occurred.  An io.EOF error will be translated to nil.
	Err() error

	// Close must be called exactly once. It returns the value of Err().
	Close() error
}

// overlaps reports whether r lies on ref and its aligned span intersects
// [start, end).  Records with an empty alignment span are treated as
// covering their start position.
func overlaps(r *sam.Record, ref *sam.Reference, start, end int) bool {
	if r.Ref == nil || r.Ref.ID() != ref.ID() {
		return false
	}
	if r.Pos >= end {
		return false
	}
	recEnd := r.End()
	if recEnd <= r.Pos {
		recEnd = r.Pos + 1
	}
	return recEnd > start
}

func mergeOpts(optList []ProviderOpts) ProviderOpts {
	opts := ProviderOpts{}
	for _, o := range optList {
		if o.Index != "" {
			opts.Index = o.Index
		}
	}
	return opts
}

// NewProvider creates a Provider object that reads the BAM file at "path".
func NewProvider(path string, optList ...ProviderOpts) Provider {
	opts := mergeOpts(optList)
	return &BAMProvider{Path: path, Index: opts.Index}
}
