package shape

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strings"
)

// ErrOverflow is returned when a shape's size does not fit in an int64.
var ErrOverflow = errors.New("shape size overflows int64")

// Shape is the ordered list of extents of an N-dimensional array.
// A nil or empty Shape describes a rank-0 scalar.
type Shape []int64

// Of builds a Shape from int extents.
func Of(dims ...int) Shape {
	s := make(Shape, len(dims))
	for i, d := range dims {
		s[i] = int64(d)
	}
	return s
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int { return len(s) }

// NumElements returns the product of the extents. Rank 0 has one element.
// The product is unchecked; shapes that passed Validate cannot overflow.
func (s Shape) NumElements() int64 {
	n := int64(1)
	for _, d := range s {
		n *= d
	}
	return n
}

// Validate rejects negative extents and element counts that overflow an
// int64. Zero extents are legal.
func (s Shape) Validate() error {
	for i, d := range s {
		if d < 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be >= 0)", i, d)
		}
	}
	_, err := s.Bytes(1)
	return err
}

// Bytes returns the size in bytes of a dense array of this shape with
// itemSize-byte elements, or ErrOverflow if it exceeds math.MaxInt64.
func (s Shape) Bytes(itemSize int) (int64, error) {
	if itemSize < 0 {
		return 0, fmt.Errorf("invalid item size %d", itemSize)
	}
	for _, d := range s {
		if d == 0 {
			return 0, nil
		}
	}
	n := uint64(itemSize)
	for _, d := range s {
		if d < 0 {
			return 0, fmt.Errorf("invalid dimension %d in %v", d, s)
		}
		hi, lo := bits.Mul64(n, uint64(d))
		if hi != 0 || lo > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %v of %d-byte elements", ErrOverflow, s, itemSize)
		}
		n = lo
	}
	return int64(n), nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	c := make(Shape, len(s))
	copy(c, s)
	return c
}

// Strides returns contiguous row-major strides in elements.
func (s Shape) Strides() []int64 {
	strides := make([]int64, len(s))
	acc := int64(1)
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= s[i]
	}
	return strides
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Unravel converts a row-major linear index into coordinates, writing them
// into coords, which must have len(s) entries.
func (s Shape) Unravel(index int64, coords []int64) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == 0 {
			coords[i] = 0
			continue
		}
		coords[i] = index % s[i]
		index /= s[i]
	}
}
