// Package join implements the sort-merge join pull iterator: a two-
// pointer scan over sorted left and right inputs, replaying the right
// side's contiguous equal-key run for every duplicate left key via a
// mark/reset backtracking iterator. Grounded on the teacher's
// pkg/execution/join package (JoinOperator's buffered-Next shape,
// BaseJoin.GetMatchFromBuffer/EstimateCost conventions,
// internal/algorithm/sortmerge.go's two-sorted-iterator structure) —
// generalized from the teacher's fully-materialized-both-sides version
// into the mark/reset state machine that only requires the right side to
// be backtrackable, using coredb/pkg/qexec.BacktrackingIterator in place
// of a second materialized slice.
package join

import (
	"coredb/pkg/dberrors"
	"coredb/pkg/qexec"
	"coredb/pkg/types"
)

var errNotMaterialized = dberrors.New(dberrors.ErrCategorySystem, "JOIN_NOT_MATERIALIZED",
	"sort-merge join output is a streaming pull iterator, not a backtrackable source")

var _ qexec.Operator = (*SortMergeJoin)(nil)

// SortMergeJoin pulls matching (left, right) record pairs from two
// inputs already sorted on their respective join keys. The left input is
// consumed with a plain forward scan; the right input must be
// materialized and is consumed through a BacktrackingIterator so the
// scan can replay a contiguous equal-key run once per matching left
// record.
type SortMergeJoin struct {
	left     qexec.Operator
	right    qexec.Operator
	leftKey  types.Key
	rightKey types.Key

	rightIter qexec.BacktrackingIterator
	leftRec   types.Record
	rightRec  types.Record
	marked    bool

	opened bool
	buf    buffered
}

// NewSortMergeJoin constructs a join over left/right, already sorted on
// leftKey/rightKey respectively. right must report Materialized() true.
func NewSortMergeJoin(left, right qexec.Operator, leftKey, rightKey types.Key) *SortMergeJoin {
	return &SortMergeJoin{left: left, right: right, leftKey: leftKey, rightKey: rightKey}
}

// Open opens both inputs and primes the scan: the right side is marked at
// its very first record before being read, so an equal-key run found
// without ever going through the skip-past-smaller-keys path (the
// leftmost possible match) still has a valid reset point.
func (j *SortMergeJoin) Open() error {
	if err := j.left.Open(); err != nil {
		return err
	}
	if err := j.right.Open(); err != nil {
		return err
	}

	rightIter, err := j.right.BacktrackingIterator()
	if err != nil {
		return err
	}
	j.rightIter = rightIter

	j.leftRec, err = j.readLeft()
	if err != nil {
		return err
	}

	j.rightIter.Mark()
	j.rightRec, err = j.readRight()
	if err != nil {
		return err
	}

	j.marked = false
	j.opened = true
	return nil
}

func (j *SortMergeJoin) readLeft() (types.Record, error) {
	has, err := j.left.HasNext()
	if err != nil || !has {
		return nil, err
	}
	return j.left.Next()
}

func (j *SortMergeJoin) readRight() (types.Record, error) {
	has, err := j.rightIter.HasNext()
	if err != nil || !has {
		return nil, err
	}
	return j.rightIter.Next()
}

// step advances the scan until it produces a joined record or the input
// is exhausted. Mark() is called (in Open and in skipRightPastSmallerKeys)
// immediately before reading the right record that may start an equal-key
// run, so Reset() replays that run from its first record.
func (j *SortMergeJoin) step() (types.Record, error) {
	for {
		if j.leftRec == nil {
			return nil, nil
		}
		if j.rightRec == nil {
			if !j.marked {
				// Right has no more records at all and there is no block
				// to replay; since right is sorted ascending, no
				// remaining or future left record can match anything.
				j.leftRec = nil
				return nil, nil
			}
			// Right ran dry partway through emitting an equal-key block.
			// A later left record with the same key still needs that
			// block replayed, so advance left and reset before giving up.
			var err error
			j.leftRec, err = j.readLeft()
			if err != nil {
				return nil, err
			}
			if j.leftRec == nil {
				return nil, nil
			}
			j.rightIter.Reset()
			j.rightRec, err = j.readRight()
			if err != nil {
				return nil, err
			}
			j.marked = false
			continue
		}

		cmp := types.CompareKeys(j.leftKey(j.leftRec), j.rightKey(j.rightRec))

		switch {
		case cmp < 0:
			var err error
			j.leftRec, err = j.readLeft()
			if err != nil {
				return nil, err
			}
			if j.marked {
				j.rightIter.Reset()
				j.rightRec, err = j.readRight()
				if err != nil {
					return nil, err
				}
				j.marked = false
			}

		case cmp > 0:
			j.marked = false
			if err := j.skipRightPastSmallerKeys(); err != nil {
				return nil, err
			}
			if j.rightRec == nil {
				j.leftRec = nil
				return nil, nil
			}

		default: // equal
			j.marked = true
			out := j.leftRec.Concat(j.rightRec)
			var err error
			j.rightRec, err = j.readRight()
			if err != nil {
				return nil, err
			}
			return out, nil
		}
	}
}

// skipRightPastSmallerKeys advances right past every record whose key is
// still below leftRec's, marking immediately before each read so that
// whichever record it lands on — the first with key >= leftRec's — is a
// valid reset point for a later duplicate left key.
func (j *SortMergeJoin) skipRightPastSmallerKeys() error {
	for {
		has, err := j.rightIter.HasNext()
		if err != nil {
			return err
		}
		if !has {
			j.rightRec = nil
			return nil
		}
		j.rightIter.Mark()
		cand, err := j.rightIter.Next()
		if err != nil {
			return err
		}
		if types.CompareKeys(j.rightKey(cand), j.leftKey(j.leftRec)) >= 0 {
			j.rightRec = cand
			return nil
		}
	}
}

// buffered holds the output of a step() call not yet returned by Next,
// following the teacher's JoinOperator buffered-Next shape: HasNext must
// not consume, so it has to run the scan eagerly and cache the result.
type buffered struct {
	rec   types.Record
	ready bool
}

func (j *SortMergeJoin) fill() error {
	if j.buf.ready {
		return nil
	}
	rec, err := j.step()
	if err != nil {
		return err
	}
	j.buf.rec = rec
	j.buf.ready = true
	return nil
}

func (j *SortMergeJoin) HasNext() (bool, error) {
	if !j.opened {
		return false, nil
	}
	if err := j.fill(); err != nil {
		return false, err
	}
	return j.buf.rec != nil, nil
}

func (j *SortMergeJoin) Next() (types.Record, error) {
	if err := j.fill(); err != nil {
		return nil, err
	}
	rec := j.buf.rec
	j.buf.ready = false
	j.buf.rec = nil
	return rec, nil
}

func (j *SortMergeJoin) Close() error {
	j.opened = false
	if err := j.left.Close(); err != nil {
		return err
	}
	return j.right.Close()
}

// Rewind restarts the join from scratch. Both inputs must support Rewind;
// the right side is re-materialized into a fresh BacktrackingIterator
// since the prior one's mark state does not survive a rewind.
func (j *SortMergeJoin) Rewind() error {
	if err := j.left.Rewind(); err != nil {
		return err
	}
	if err := j.right.Rewind(); err != nil {
		return err
	}
	j.buf = buffered{}
	return j.Open()
}

func (j *SortMergeJoin) Schema() types.Schema {
	return j.left.Schema().Concat(j.right.Schema())
}

func (j *SortMergeJoin) SortedBy() []string { return j.left.SortedBy() }

func (j *SortMergeJoin) Materialized() bool { return false }

func (j *SortMergeJoin) BacktrackingIterator() (qexec.BacktrackingIterator, error) {
	return nil, errNotMaterialized
}
