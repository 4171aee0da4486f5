package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushBelowCapacity(t *testing.T) {
	b := New[int](4)
	b.Push(1)
	b.Push(2)
	b.Push(3)

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 4, b.Cap())
	assert.Equal(t, []int{1, 2, 3}, b.Snapshot())
}

func TestPushEvictsOldest(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []int{3, 4, 5}, b.Snapshot())
	assert.Equal(t, 3, b.At(0))
	assert.Equal(t, 5, b.At(2))
}

func TestLast(t *testing.T) {
	b := New[int](5)
	for i := 1; i <= 4; i++ {
		b.Push(i)
	}

	assert.Equal(t, []int{3, 4}, b.Last(2))
	assert.Equal(t, []int{1, 2, 3, 4}, b.Last(10), "n beyond size is capped")
	assert.Empty(t, b.Last(0))
}

func TestWrapAroundLong(t *testing.T) {
	b := New[int](7)
	for i := 0; i < 100; i++ {
		b.Push(i)
	}

	require.Equal(t, 7, b.Len())
	assert.Equal(t, []int{93, 94, 95, 96, 97, 98, 99}, b.Snapshot())
}

func TestAtOutOfRangePanics(t *testing.T) {
	b := New[int](2)
	b.Push(1)

	assert.Panics(t, func() { b.At(1) })
	assert.Panics(t, func() { b.At(-1) })
}

func TestZeroCapacityPanics(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
