package sort

import (
	"coredb/pkg/qexec"
	"coredb/pkg/types"
)

// intValue is a minimal types.Value good enough to exercise the sort
// package's comparator plumbing without a concrete record/value
// implementation (out of scope — see SPEC_FULL.md §1).
type intValue int

func (v intValue) Compare(other types.Value) int {
	o := other.(intValue)
	switch {
	case v < o:
		return -1
	case v > o:
		return 1
	default:
		return 0
	}
}

// intRecord is a single-field record carrying an int key, with an extra
// tag field so stability (order-of-equal-keys preservation) is
// observable in tests.
type intRecord struct {
	key int
	tag string
}

func rec(key int, tag string) types.Record { return intRecord{key: key, tag: tag} }

func (r intRecord) Field(i int) types.Value {
	if i == 0 {
		return intValue(r.key)
	}
	return nil
}

func (r intRecord) NumFields() int { return 1 }

func (r intRecord) Schema() types.Schema { return nil }

func (r intRecord) Concat(other types.Record) types.Record { return r }

func keyOf(r types.Record) []types.Value { return []types.Value{r.Field(0)} }

// fakeOperator is a minimal qexec.Operator over a fixed record slice.
type fakeOperator struct {
	records []types.Record
	pos     int
}

func newFakeOperator(records []types.Record) *fakeOperator {
	return &fakeOperator{records: records}
}

func (f *fakeOperator) Open() error { f.pos = 0; return nil }

func (f *fakeOperator) HasNext() (bool, error) { return f.pos < len(f.records), nil }

func (f *fakeOperator) Next() (types.Record, error) {
	if f.pos >= len(f.records) {
		return nil, nil
	}
	r := f.records[f.pos]
	f.pos++
	return r, nil
}

func (f *fakeOperator) Close() error { return nil }

func (f *fakeOperator) Rewind() error { f.pos = 0; return nil }

func (f *fakeOperator) Schema() types.Schema { return nil }

func (f *fakeOperator) SortedBy() []string { return nil }

func (f *fakeOperator) Materialized() bool { return false }

func (f *fakeOperator) BacktrackingIterator() (qexec.BacktrackingIterator, error) { return nil, nil }

func collectKeys(run *Run) []int {
	run.Rewind()
	var out []int
	for {
		has, _ := run.HasNext()
		if !has {
			break
		}
		r, _ := run.Next()
		out = append(out, int(r.Field(0).(intValue)))
	}
	return out
}
