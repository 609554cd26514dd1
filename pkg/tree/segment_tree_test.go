package tree

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentTreeFind(t *testing.T) {
	st, err := NewSegmentTree(5)
	require.NoError(t, err)
	require.NoError(t, st.Rebuild([]float64{1, 2, 0, 3, 4}))

	assert.Equal(t, 10.0, st.TotalSum())

	cases := map[float64]int{0: 0, 0.99: 0, 1: 1, 2.5: 1, 3: 3, 5.9: 3, 6: 4, 9.99: 4}
	for offset, want := range cases {
		got, err := st.Find(offset)
		require.NoError(t, err)
		assert.Equal(t, want, got, "offset %v", offset)
	}

	_, err = st.Find(10)
	assert.Error(t, err)
}

func TestSegmentTreeUpdate(t *testing.T) {
	st, err := NewSegmentTree(3)
	require.NoError(t, err)
	require.NoError(t, st.Rebuild([]float64{1, 1, 1}))
	require.NoError(t, st.Update(0, 0))

	got, err := st.Find(0)
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	assert.Equal(t, 2.0, st.TotalSum())

	assert.Error(t, st.Update(3, 1))
	assert.Error(t, st.Update(1, -1))
}

func TestSampleWithoutReplacementDistinct(t *testing.T) {
	weights := []float64{1, 1, 1, 1, 1}
	picked, err := SampleWithoutReplacement(weights, 3, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	require.Len(t, picked, 3)

	seen := map[int]bool{}
	for _, idx := range picked {
		assert.False(t, seen[idx])
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 5)
		seen[idx] = true
	}

	again, err := SampleWithoutReplacement(weights, 3, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	assert.Equal(t, picked, again)
}

func TestSampleWithoutReplacementAll(t *testing.T) {
	picked, err := SampleWithoutReplacement([]float64{1, 1, 1, 1}, 4, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	sort.Ints(picked)
	assert.Equal(t, []int{0, 1, 2, 3}, picked)

	_, err = SampleWithoutReplacement([]float64{1, 1}, 3, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestSampleWithoutReplacementRoughlyUniform(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	counts := make([]int, 5)
	const trials = 5000
	for i := 0; i < trials; i++ {
		picked, err := SampleWithoutReplacement([]float64{1, 1, 1, 1, 1}, 3, rng)
		require.NoError(t, err)
		for _, idx := range picked {
			counts[idx]++
		}
	}
	// each index is expected in 3/5 of the draws
	for _, c := range counts {
		assert.InDelta(t, 0.6, float64(c)/trials, 0.05)
	}
}
