package sort

import (
	"sort"

	"coredb/pkg/config"
	"coredb/pkg/qexec"
	"coredb/pkg/types"
)

// Sort is the external merge sort operator: a pass0 partition of the
// input into blocks bounded by the configured buffer-page budget, each
// sorted and emitted as a run, followed by repeated merge passes (each
// merging groups of at most B-1 runs, and never fewer than two so that
// B <= 2 still converges) until one run remains. Grounded on
// the teacher's execution/query.Sort — materialize-then-stream via a
// BaseIterator-style readNext, Open performing the blocking work,
// Rewind resetting the read cursor without re-sorting — generalized from
// a single in-memory sort.Slice call into the pass0/merge_pass structure
// an out-of-core sort needs.
type Sort struct {
	child    qexec.Operator
	key      types.Key
	sortedBy []string
	cfg      config.Config

	opened       bool
	materialized bool
	result       *Run
}

// NewSort creates a Sort operator over child, ordering by key. sortedBy
// names the fields key extracts, for SortedBy() to report to callers
// that can skip re-sorting already-sorted input (e.g. the merge join).
func NewSort(child qexec.Operator, key types.Key, sortedBy []string, cfg config.Config) *Sort {
	return &Sort{child: child, key: key, sortedBy: sortedBy, cfg: cfg}
}

// Open opens the child and performs the full external sort. Blocking:
// nothing is produced until every input record has been read.
func (s *Sort) Open() error {
	if err := s.child.Open(); err != nil {
		return err
	}
	s.opened = true
	s.materialized = false
	return s.materialize()
}

func (s *Sort) materialize() error {
	if s.materialized {
		return nil
	}

	blockSize := s.cfg.BufferPages
	if blockSize < 1 {
		blockSize = 1
	}

	runs, err := pass0(s.child, blockSize, s.key)
	if err != nil {
		return err
	}

	groupSize := blockSize - 1
	if groupSize < 2 {
		groupSize = 2
	}
	for len(runs) > 1 {
		runs, err = MergePass(runs, s.key, groupSize)
		if err != nil {
			return err
		}
	}

	if len(runs) == 0 {
		s.result = NewRun(nil)
	} else {
		s.result = runs[0]
	}
	s.result.Open()
	s.materialized = true
	return nil
}

// pass0 reads child to exhaustion, cutting it into blocks of at most
// blockSize records, sorting each block in place and wrapping it as a
// Run.
func pass0(child qexec.Operator, blockSize int, key types.Key) ([]*Run, error) {
	var runs []*Run
	block := make([]types.Record, 0, blockSize)

	flush := func() {
		if len(block) == 0 {
			return
		}
		sort.SliceStable(block, func(i, j int) bool {
			return types.CompareKeys(key(block[i]), key(block[j])) < 0
		})
		r := NewRun(block)
		r.Open()
		runs = append(runs, r)
		block = make([]types.Record, 0, blockSize)
	}

	for {
		has, err := child.HasNext()
		if err != nil {
			return nil, err
		}
		if !has {
			break
		}
		rec, err := child.Next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		block = append(block, rec)
		if len(block) >= blockSize {
			flush()
		}
	}
	flush()

	return runs, nil
}

func (s *Sort) HasNext() (bool, error) {
	if !s.opened {
		return false, nil
	}
	return s.result.HasNext()
}

func (s *Sort) Next() (types.Record, error) {
	if !s.opened {
		return nil, nil
	}
	return s.result.Next()
}

func (s *Sort) Close() error {
	s.opened = false
	s.materialized = false
	if s.result != nil {
		s.result.Close()
	}
	return s.child.Close()
}

// Rewind resets the read cursor to the start of the sorted output without
// re-sorting, mirroring the teacher's Sort.Rewind.
func (s *Sort) Rewind() error {
	if s.result != nil {
		s.result.Rewind()
	}
	return nil
}

func (s *Sort) Schema() types.Schema { return s.child.Schema() }

func (s *Sort) SortedBy() []string { return s.sortedBy }

func (s *Sort) Materialized() bool { return s.materialized }

// BacktrackingIterator exposes the fully-sorted run for mark/reset replay
// — the sort-merge join's right-hand input uses this.
func (s *Sort) BacktrackingIterator() (qexec.BacktrackingIterator, error) {
	s.result.Rewind()
	return s.result, nil
}
