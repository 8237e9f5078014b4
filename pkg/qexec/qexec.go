// Package qexec names the query-operator contract the sort and join
// executors consume and produce, following the teacher's
// iterator.DbIterator (Open/HasNext/Next/Close/Rewind) generalized with
// the sortedness/materialization metadata SPEC_FULL.md §6 requires.
package qexec

import "coredb/pkg/types"

// Operator is a pull iterator over records, the source and sink type for
// every executor in pkg/execution.
type Operator interface {
	Open() error
	HasNext() (bool, error)
	Next() (types.Record, error)
	Close() error
	Rewind() error

	Schema() types.Schema

	// SortedBy names the fields this operator's output is already sorted
	// by, in sort-key order; empty if unsorted.
	SortedBy() []string

	// Materialized reports whether the operator can produce a
	// BacktrackingIterator without the caller buffering it first.
	Materialized() bool

	// BacktrackingIterator returns a mark/reset iterator over this
	// operator's output. Only valid when Materialized() is true.
	BacktrackingIterator() (BacktrackingIterator, error)
}

// BacktrackingIterator supports the sort-merge join's mark/reset
// replay of a contiguous equal-key run on the right-hand input.
type BacktrackingIterator interface {
	HasNext() (bool, error)
	Next() (types.Record, error)

	// Mark records the current position for a later Reset.
	Mark()

	// Reset rewinds to the most recently Marked position.
	Reset()
}
