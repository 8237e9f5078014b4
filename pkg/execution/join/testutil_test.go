package join

import (
	"coredb/pkg/qexec"
	"coredb/pkg/types"
)

// intValue/pairRecord are minimal types.Value/types.Record fakes good
// enough to exercise the merge logic without a concrete record/value
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

// pairRecord is a (key, tag) record; Concat produces a (leftTag, rightTag)
// pair string so a test can assert on exactly which rows were matched.
type pairRecord struct {
	key int
	tag string
}

func pair(key int, tag string) types.Record { return pairRecord{key: key, tag: tag} }

func (r pairRecord) Field(i int) types.Value {
	if i == 0 {
		return intValue(r.key)
	}
	return nil
}

func (r pairRecord) NumFields() int { return 1 }

func (r pairRecord) Schema() types.Schema { return nil }

func (r pairRecord) Concat(other types.Record) types.Record {
	return pairRecord{key: r.key, tag: r.tag + "," + other.(pairRecord).tag}
}

func keyOf(r types.Record) []types.Value { return []types.Value{r.Field(0)} }

// sliceOperator is a minimal qexec.Operator over a fixed, already-sorted
// record slice, used for both inputs: a plain forward scan on the left,
// and through BacktrackingIterator a markable scan on the right.
type sliceOperator struct {
	records []types.Record
	pos     int
	sorted  []string
}

func newSliceOperator(records []types.Record) *sliceOperator {
	return &sliceOperator{records: records, sorted: []string{"key"}}
}

func (s *sliceOperator) Open() error { s.pos = 0; return nil }

func (s *sliceOperator) HasNext() (bool, error) { return s.pos < len(s.records), nil }

func (s *sliceOperator) Next() (types.Record, error) {
	if s.pos >= len(s.records) {
		return nil, nil
	}
	r := s.records[s.pos]
	s.pos++
	return r, nil
}

func (s *sliceOperator) Close() error { return nil }

func (s *sliceOperator) Rewind() error { s.pos = 0; return nil }

func (s *sliceOperator) Schema() types.Schema { return nil }

func (s *sliceOperator) SortedBy() []string { return s.sorted }

func (s *sliceOperator) Materialized() bool { return true }

func (s *sliceOperator) BacktrackingIterator() (qexec.BacktrackingIterator, error) {
	return newMarkSlice(s.records), nil
}

// markSlice is the right input's BacktrackingIterator: a plain index
// cursor with a single mark slot.
type markSlice struct {
	records []types.Record
	pos     int
	mark    int
}

func newMarkSlice(records []types.Record) *markSlice { return &markSlice{records: records} }

func (m *markSlice) HasNext() (bool, error) { return m.pos < len(m.records), nil }

func (m *markSlice) Next() (types.Record, error) {
	if m.pos >= len(m.records) {
		return nil, nil
	}
	r := m.records[m.pos]
	m.pos++
	return r, nil
}

func (m *markSlice) Mark() { m.mark = m.pos }

func (m *markSlice) Reset() { m.pos = m.mark }
