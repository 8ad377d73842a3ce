package shape

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape_Basics(t *testing.T) {
	s := Of(2, 3, 4)
	assert.Equal(t, int64(24), s.NumElements())
	assert.Equal(t, []int64{12, 4, 1}, s.Strides())
	assert.Equal(t, "[2, 3, 4]", s.String())
	assert.Equal(t, int64(1), Shape{}.NumElements())
	assert.Equal(t, int64(0), Of(3, 0).NumElements())
	assert.Error(t, Of(2, -1).Validate())
	assert.NoError(t, Of(2, 0).Validate())

	c := s.Clone()
	c[0] = 9
	assert.Equal(t, int64(2), s[0])
	assert.True(t, s.Equal(Of(2, 3, 4)))
	assert.False(t, s.Equal(Of(2, 3)))

	coords := make([]int64, 3)
	s.Unravel(23, coords)
	assert.Equal(t, []int64{1, 2, 3}, coords)
}

func TestShape_Bytes(t *testing.T) {
	t.Run("Dense", func(t *testing.T) {
		n, err := Of(2, 3, 4).Bytes(8)
		require.NoError(t, err)
		assert.Equal(t, int64(192), n)

		n, err = Shape{}.Bytes(2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("ZeroExtentWins", func(t *testing.T) {
		n, err := Of(1<<40, 1<<40, 0).Bytes(8)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
		assert.NoError(t, Of(1<<40, 1<<40, 0).Validate())
	})

	t.Run("ElementOverflow", func(t *testing.T) {
		s := Of(1<<32, 1<<32)
		_, err := s.Bytes(1)
		assert.ErrorIs(t, err, ErrOverflow)
		assert.ErrorIs(t, s.Validate(), ErrOverflow)
	})

	t.Run("ByteOverflow", func(t *testing.T) {
		// 2^61 elements fit, 2^64 bytes do not.
		s := Of(1<<31, 1<<30)
		require.NoError(t, s.Validate())
		_, err := s.Bytes(8)
		assert.ErrorIs(t, err, ErrOverflow)
	})

	t.Run("Negative", func(t *testing.T) {
		_, err := Of(2, -1).Bytes(4)
		assert.Error(t, err)
	})
}

func TestBroadcast(t *testing.T) {
	ok := []struct {
		a, b, want Shape
	}{
		{Of(2, 3), Of(3), Of(2, 3)},
		{Of(3, 1), Of(3, 5), Of(3, 5)},
		{Of(1, 5), Of(3, 1), Of(3, 5)},
		{Of(4, 1, 6), Of(5, 1), Of(4, 5, 6)},
		{Shape{}, Of(2, 2), Of(2, 2)},
		{Of(0), Of(1), Of(0)},
		{Of(2, 3), Of(2, 3), Of(2, 3)},
	}
	for _, tc := range ok {
		t.Run(tc.a.String()+"x"+tc.b.String(), func(t *testing.T) {
			got, err := Broadcast(tc.a, tc.b)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			// Two-operand broadcasting is order independent.
			rev, err := Broadcast(tc.b, tc.a)
			require.NoError(t, err)
			assert.Equal(t, got, rev)
		})
	}

	t.Run("Incompatible", func(t *testing.T) {
		_, err := Broadcast(Of(2, 3), Of(4))
		var be *BroadcastError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, 0, be.Dim)
		assert.Equal(t, Of(2, 3), be.Left)
		assert.Equal(t, Of(4), be.Right)
		assert.Contains(t, err.Error(), "[2, 3]")
		assert.Contains(t, err.Error(), "trailing dimension 0 (3 vs 4)")
	})

	t.Run("IncompatibleLeading", func(t *testing.T) {
		_, err := Broadcast(Of(2, 3), Of(3, 3))
		var be *BroadcastError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, 1, be.Dim)
	})
}

func TestBroadcastAll(t *testing.T) {
	got, err := BroadcastAll(Of(3, 1), Of(1, 4), Of(4))
	require.NoError(t, err)
	assert.Equal(t, Of(3, 4), got)

	_, err = BroadcastAll(Of(3, 1), Of(1, 4), Of(5))
	var be *BroadcastError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, Of(3, 4), be.Left)
	assert.Equal(t, Of(5), be.Right)

	empty, err := BroadcastAll()
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Rank())
}

func TestBroadcastStrides(t *testing.T) {
	assert.Equal(t, []int64{0, 1}, BroadcastStrides(Of(3), Of(2, 3)))
	assert.Equal(t, []int64{1, 0}, BroadcastStrides(Of(3, 1), Of(3, 5)))
	assert.Equal(t, []int64{0, 0}, BroadcastStrides(Shape{}, Of(2, 2)))
	assert.Equal(t, []int64{3, 1}, BroadcastStrides(Of(2, 3), Of(2, 3)))
}

func TestAxes(t *testing.T) {
	axes, err := NormalizeAxes([]int{-1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, axes)

	all, err := NormalizeAxes(nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, all)

	_, err = NormalizeAxes([]int{3}, 3)
	assert.Error(t, err)
	_, err = NormalizeAxes([]int{1, -2}, 3)
	assert.Error(t, err)

	s := Of(2, 3, 4)
	assert.Equal(t, Of(2, 4), s.Reduce([]int{1}, false))
	assert.Equal(t, Of(2, 1, 4), s.Reduce([]int{1}, true))
	assert.Equal(t, Shape{}, s.Reduce([]int{0, 1, 2}, false))
}
