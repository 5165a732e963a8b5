package compute

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkCoverage asserts chunks are ordered, non-empty, disjoint and cover
// [0, rows) exactly.
func checkCoverage(t *testing.T, rows int, chunks []Chunk) {
	t.Helper()
	next := 0
	for i, c := range chunks {
		require.Equal(t, i, c.ID, "chunk ids must follow plan order")
		require.Equal(t, next, c.Start, "gap or overlap before chunk %d", i)
		require.Greater(t, c.Len(), 0, "chunk %d is empty", i)
		next = c.End
	}
	require.Equal(t, rows, next, "plan does not cover all rows")
}

func TestPartition_EqualSplit(t *testing.T) {
	chunks := Partition(10, Granularity{Count: 4})
	require.Len(t, chunks, 4)
	// 10 = 3 + 3 + 2 + 2
	assert.Equal(t, []int{3, 3, 2, 2}, lens(chunks))
	checkCoverage(t, 10, chunks)
}

func TestPartition_FixedBlocks(t *testing.T) {
	chunks := Partition(10, Granularity{Size: 3})
	assert.Equal(t, []int{3, 3, 3, 1}, lens(chunks))
	checkCoverage(t, 10, chunks)

	// Size takes precedence over Count.
	chunks = Partition(10, Granularity{Count: 2, Size: 5})
	assert.Equal(t, []int{5, 5}, lens(chunks))
}

func TestPartition_Clamped(t *testing.T) {
	chunks := Partition(3, Granularity{Count: 8})
	assert.Equal(t, []int{1, 1, 1}, lens(chunks))

	chunks = Partition(3, Granularity{Size: 100})
	assert.Equal(t, []int{3}, lens(chunks))

	chunks = Partition(5, Granularity{})
	assert.Equal(t, []int{5}, lens(chunks))
}

func TestPartition_Empty(t *testing.T) {
	assert.Empty(t, Partition(0, Granularity{Count: 4}))
	assert.Empty(t, Partition(0, Granularity{Size: 4}))
}

func TestPartition_Properties(t *testing.T) {
	for rows := 0; rows <= 67; rows++ {
		for g := 1; g <= 12; g++ {
			t.Run(fmt.Sprintf("rows=%d/g=%d", rows, g), func(t *testing.T) {
				eq := Partition(rows, Granularity{Count: g})
				checkCoverage(t, rows, eq)
				if rows > 0 {
					minLen, maxLen := eq[0].Len(), eq[0].Len()
					for _, c := range eq {
						minLen = min(minLen, c.Len())
						maxLen = max(maxLen, c.Len())
					}
					assert.LessOrEqual(t, maxLen-minLen, 1, "equal split must differ by at most one row")
				}

				fixed := Partition(rows, Granularity{Size: g})
				checkCoverage(t, rows, fixed)
				for i, c := range fixed {
					if i < len(fixed)-1 {
						assert.Equal(t, g, c.Len())
					}
				}
			})
		}
	}
}

func TestAssign(t *testing.T) {
	chunks := Partition(20, Granularity{Size: 2}) // 10 chunks
	groups := Assign(chunks, 4)
	require.Len(t, groups, 4)

	sizes := make([]int, len(groups))
	seen := 0
	for i, g := range groups {
		sizes[i] = len(g)
		for _, c := range g {
			assert.Equal(t, seen, c.ID, "groups must be contiguous and ordered")
			seen++
		}
	}
	assert.Equal(t, []int{3, 3, 2, 2}, sizes)
	assert.Equal(t, len(chunks), seen)

	// More workers than chunks collapses to one chunk per worker.
	assert.Len(t, Assign(chunks[:3], 8), 3)
	assert.Empty(t, Assign(nil, 4))
}

func lens(chunks []Chunk) []int {
	out := make([]int, len(chunks))
	for i, c := range chunks {
		out[i] = c.Len()
	}
	return out
}
