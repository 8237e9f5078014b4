package sort

import (
	"testing"

	"github.com/stretchr/testify/require"

	"coredb/pkg/config"
	"coredb/pkg/types"
)

func newSortSource(keys []int) *fakeOperator {
	recs := make([]types.Record, len(keys))
	for i, k := range keys {
		recs[i] = rec(k, "")
	}
	return newFakeOperator(recs)
}

func TestSortProducesFullyOrderedOutput(t *testing.T) {
	cfg := config.Default()
	cfg.BufferPages = 3

	child := newSortSource([]int{5, 4, 6, 1, 3, 2, 9, 7, 8})
	s := NewSort(child, keyOf, []string{"key"}, cfg)

	require.NoError(t, s.Open())
	defer s.Close()

	var got []int
	for {
		has, err := s.HasNext()
		require.NoError(t, err)
		if !has {
			break
		}
		r, err := s.Next()
		require.NoError(t, err)
		got = append(got, r.(intRecord).key)
	}

	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
	require.True(t, s.Materialized())
}

func TestSortIsPermutationPreservingLength(t *testing.T) {
	cfg := config.Default()
	cfg.BufferPages = 4

	keys := []int{9, 1, 8, 2, 7, 3, 6, 4, 5, 0}
	child := newSortSource(keys)
	s := NewSort(child, keyOf, nil, cfg)
	require.NoError(t, s.Open())
	defer s.Close()

	seen := map[int]int{}
	count := 0
	for {
		has, _ := s.HasNext()
		if !has {
			break
		}
		r, _ := s.Next()
		seen[r.(intRecord).key]++
		count++
	}
	require.Len(t, keys, count)
	for _, k := range keys {
		require.Equal(t, 1, seen[k])
	}
}

func TestSortRewindDoesNotReSort(t *testing.T) {
	cfg := config.Default()
	cfg.BufferPages = 2

	child := newSortSource([]int{3, 1, 2})
	s := NewSort(child, keyOf, nil, cfg)
	require.NoError(t, s.Open())
	defer s.Close()

	first := readAll(t, s)
	require.NoError(t, s.Rewind())
	second := readAll(t, s)
	require.Equal(t, first, second)
}

func readAll(t *testing.T, s *Sort) []int {
	var out []int
	for {
		has, err := s.HasNext()
		require.NoError(t, err)
		if !has {
			break
		}
		r, err := s.Next()
		require.NoError(t, err)
		out = append(out, r.(intRecord).key)
	}
	return out
}

func TestEstimateCostWhenRunsNeedTwoMergePasses(t *testing.T) {
	// N=9, B=3: pass0 yields 3 runs; merge passes over B-1=2-sized
	// groups need two passes to converge to a single run; the cost
	// formula's ceil(log_{B-1}(ceil(N/B))) reflects that pass count.
	cost := EstimateCost(9, 3, 0)
	require.Greater(t, cost, 0.0)
}
