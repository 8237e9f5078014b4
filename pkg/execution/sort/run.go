// Package sort implements the external merge sort: sort_run / merge /
// merge_pass / the top-level Sort operator, plus the I/O cost estimate
// the planner would use. Grounded on the teacher's pkg/execution/query
// Sort operator (materialize-then-stream shape, sort.Slice by a field
// comparator) and on pkg/execution/join/internal/algorithm's
// iterator.SliceIterator-backed run traversal, generalized from a single
// in-memory sort into the pass0-partition-then-repeated-merge-pass
// structure an out-of-core sort needs.
package sort

import (
	"sort"

	"coredb/pkg/types"
)

// Run is a materialized, re-iterable sequence of records in key order —
// the unit every sort pass produces and consumes. Concretely backed by a
// slice here (the page-backed spill file a production disk manager would
// use is out of scope, per SPEC_FULL.md §1); the pass0/merge_pass
// structure above it is what matters for an external sort's behavior and
// cost, and is unaffected by what a Run is backed by.
type Run struct {
	records []types.Record
	pos     int
	mark    int
}

// NewRun wraps an already-ordered slice as a Run.
func NewRun(records []types.Record) *Run {
	return &Run{records: records}
}

// Append adds a record to the run's tail. Only meaningful before a run is
// handed off to a reader — Merge builds its output Run this way, one
// record at a time, before handing it to the caller.
func (r *Run) Append(rec types.Record) {
	r.records = append(r.records, rec)
}

func (r *Run) Len() int { return len(r.records) }

// Open resets the read cursor to the start, mirroring the teacher's
// SliceIterator.Open.
func (r *Run) Open() {
	r.pos = 0
	r.mark = 0
}

func (r *Run) HasNext() (bool, error) {
	return r.pos < len(r.records), nil
}

func (r *Run) Next() (types.Record, error) {
	if r.pos >= len(r.records) {
		return nil, nil
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, nil
}

// Peek returns the record at the read cursor without advancing it, or nil
// at end of run.
func (r *Run) Peek() types.Record {
	if r.pos >= len(r.records) {
		return nil
	}
	return r.records[r.pos]
}

// Mark records the current cursor position for a later Reset, per
// qexec.BacktrackingIterator — the sort-merge join uses this to replay a
// contiguous equal-key run on the right-hand input.
func (r *Run) Mark() { r.mark = r.pos }

// Reset rewinds the cursor to the most recently Marked position.
func (r *Run) Reset() { r.pos = r.mark }

// Rewind resets the cursor all the way to the start, independent of any
// mark.
func (r *Run) Rewind() { r.pos = 0 }

func (r *Run) Close() { r.records = nil }

// SortRun buffers every record src produces, orders it by key (stable on
// ties, by input order — sort.SliceStable), and returns it as a Run.
// src must already be Open.
func SortRun(src interface {
	HasNext() (bool, error)
	Next() (types.Record, error)
}, key types.Key) (*Run, error) {
	var records []types.Record
	for {
		has, err := src.HasNext()
		if err != nil {
			return nil, err
		}
		if !has {
			break
		}
		rec, err := src.Next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return types.CompareKeys(key(records[i]), key(records[j])) < 0
	})

	run := NewRun(records)
	run.Open()
	return run, nil
}
