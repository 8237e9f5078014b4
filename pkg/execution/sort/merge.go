package sort

import (
	"container/heap"

	"coredb/pkg/types"
)

// mergeHeapItem is one run's current head record, tagged with the run's
// index so ties break toward the lower index (stability) and Pop can tell
// the merge which run to pull the next record from.
type mergeHeapItem struct {
	rec      types.Record
	runIndex int
}

type mergeHeap struct {
	items []mergeHeapItem
	key   types.Key
}

func (h *mergeHeap) Len() int { return len(h.items) }

func (h *mergeHeap) Less(i, j int) bool {
	c := types.CompareKeys(h.key(h.items[i].rec), h.key(h.items[j].rec))
	if c != 0 {
		return c < 0
	}
	return h.items[i].runIndex < h.items[j].runIndex
}

func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergeHeap) Push(x interface{}) { h.items = append(h.items, x.(mergeHeapItem)) }

func (h *mergeHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// Merge drains runs into a single ordered Run via a min-heap over
// (head_record, run_index), holding at most len(runs) entries live at
// once — the in-memory footprint a B-1-way merge keeps bounded in a real
// paged implementation. Callers are responsible for ensuring
// len(runs) <= B-1.
func Merge(runs []*Run, key types.Key) (*Run, error) {
	h := &mergeHeap{key: key}
	heap.Init(h)

	for i, r := range runs {
		r.Open()
		rec, err := r.Next()
		if err != nil {
			return nil, err
		}
		if rec != nil {
			heap.Push(h, mergeHeapItem{rec: rec, runIndex: i})
		}
	}

	out := NewRun(nil)
	for h.Len() > 0 {
		top := heap.Pop(h).(mergeHeapItem)
		out.Append(top.rec)

		next, err := runs[top.runIndex].Next()
		if err != nil {
			return nil, err
		}
		if next != nil {
			heap.Push(h, mergeHeapItem{rec: next, runIndex: top.runIndex})
		}
	}

	out.Open()
	return out, nil
}

// MergePass chunks runs into contiguous groups of at most groupSize (the
// last group may be smaller), merges each group, and returns the
// resulting list of runs — one merge_pass over the whole input.
func MergePass(runs []*Run, key types.Key, groupSize int) ([]*Run, error) {
	if groupSize < 1 {
		groupSize = 1
	}

	out := make([]*Run, 0, (len(runs)+groupSize-1)/groupSize)
	for start := 0; start < len(runs); start += groupSize {
		end := start + groupSize
		if end > len(runs) {
			end = len(runs)
		}
		merged, err := Merge(runs[start:end], key)
		if err != nil {
			return nil, err
		}
		out = append(out, merged)
	}
	return out, nil
}
