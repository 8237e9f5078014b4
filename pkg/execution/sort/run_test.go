package sort

import (
	"testing"

	"github.com/stretchr/testify/require"

	"coredb/pkg/types"
)

func TestSortRunOrdersAndIsStableOnTies(t *testing.T) {
	src := newFakeOperator([]types.Record{
		rec(2, "a"), rec(1, "a"), rec(2, "b"), rec(1, "b"),
	})
	require.NoError(t, src.Open())

	run, err := SortRun(src, keyOf)
	require.NoError(t, err)
	require.Equal(t, 4, run.Len())

	run.Open()
	var got []intRecord
	for {
		has, err := run.HasNext()
		require.NoError(t, err)
		if !has {
			break
		}
		r, err := run.Next()
		require.NoError(t, err)
		got = append(got, r.(intRecord))
	}

	require.Equal(t, []intRecord{{1, "a"}, {1, "b"}, {2, "a"}, {2, "b"}}, got)
}

func TestRunMarkAndReset(t *testing.T) {
	run := NewRun([]types.Record{rec(1, ""), rec(2, ""), rec(3, "")})
	run.Open()

	_, _ = run.Next()
	run.Mark()
	_, _ = run.Next()
	_, _ = run.Next()

	has, _ := run.HasNext()
	require.False(t, has)

	run.Reset()
	has, _ = run.HasNext()
	require.True(t, has)
	r, _ := run.Next()
	require.Equal(t, 2, r.(intRecord).key)
}
