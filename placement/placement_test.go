package placement

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	r, err := New(PolicyBucket, 4, 10)
	require.NoError(t, err)
	assert.IsType(t, &Bucket{}, r)

	r, err = New("", 4, 10)
	require.NoError(t, err)
	assert.IsType(t, &Legacy{}, r)

	r, err = New("Statistical", 4, 10)
	require.NoError(t, err)
	assert.True(t, r.CountBased())

	_, err = New(PolicyLegacy, 0, 10)
	assert.ErrorIs(t, err, ErrNoPartitions)

	_, err = New("random", 2, 10)
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestHashRouters_StableAndInRange(t *testing.T) {
	for _, r := range []Router{NewLegacy(5), NewBucket(5)} {
		assert.False(t, r.CountBased())
		seen := make(map[int]bool)
		for i := 0; i < 500; i++ {
			uri := fmt.Sprintf("/docs/%d.xml", i)
			p := r.Place(uri)
			require.GreaterOrEqual(t, p, 0)
			require.Less(t, p, 5)
			assert.Equal(t, p, r.Place(uri), "placement must be deterministic")
			seen[p] = true
		}
		assert.Len(t, seen, 5, "%T should use every partition", r)
	}
}

func TestStatistical_PicksLeastLoaded(t *testing.T) {
	s := NewStatistical([]int64{30, 10, 20}, 10)

	assert.Equal(t, 1, s.Place("a"))
	assert.Equal(t, []int64{30, 20, 20}, s.Counts())

	assert.Equal(t, 1, s.Place("b"))
	assert.Equal(t, 2, s.Place("c"))
	assert.Equal(t, []int64{30, 30, 30}, s.Counts())
}

func TestStatistical_Rollback(t *testing.T) {
	s := NewStatistical([]int64{0, 0}, 5)

	p := s.Place("a")
	s.Rollback(p)
	assert.Equal(t, []int64{0, 0}, s.Counts())

	// out of range is ignored
	s.Rollback(7)
	assert.Equal(t, []int64{0, 0}, s.Counts())

	var _ Rollbacker = s
}
