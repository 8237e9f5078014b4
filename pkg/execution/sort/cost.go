package sort

import "math"

// EstimateCost computes external sort's I/O cost model — 2*N*(1 +
// ceil(log_{B-1}(ceil(N/B)))) plus the source's own cost — used only for
// planner estimation, mirroring the teacher's EstimateCost methods on
// join algorithms (SortMergeJoin.EstimateCost, HashJoin's equivalent)
// which likewise return a pure number with no side effect on execution.
func EstimateCost(n, bufferPages int, sourceCost float64) float64 {
	if n <= 0 {
		return sourceCost
	}
	if bufferPages < 2 {
		bufferPages = 2
	}

	initialRuns := math.Ceil(float64(n) / float64(bufferPages))
	if initialRuns <= 1 {
		return 2*float64(n) + sourceCost
	}

	passes := math.Ceil(logBase(float64(bufferPages-1), initialRuns))
	return 2*float64(n)*(1+passes) + sourceCost
}

func logBase(base, x float64) float64 {
	if base <= 1 {
		return x
	}
	return math.Log(x) / math.Log(base)
}
