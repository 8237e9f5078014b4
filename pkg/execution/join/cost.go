package join

import "coredb/pkg/execution/sort"

// EstimateCost estimates the I/O cost of a sort-merge join over two
// inputs of leftSize/rightSize pages, bufferPages available to each
// side's sort. If a side is already sorted (e.g. SortedBy matches the
// join key), its sort cost is skipped — grounded on the teacher's
// CostEstimator.EstimateSortMergeCost, generalized from its
// fixed 2*N*log2(N) estimate to the out-of-core sort package's own
// EstimateCost so the two numbers stay consistent with each other.
func EstimateCost(leftSize, rightSize, bufferPages int, leftSorted, rightSorted bool) float64 {
	var cost float64
	if !leftSorted {
		cost += sort.EstimateCost(leftSize, bufferPages, 0)
	}
	if !rightSorted {
		cost += sort.EstimateCost(rightSize, bufferPages, 0)
	}
	return cost + float64(leftSize+rightSize)
}
