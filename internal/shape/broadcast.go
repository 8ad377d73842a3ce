package shape

import "fmt"

// BroadcastError reports two shapes that cannot be broadcast together.
// Dim counts from the trailing edge: 0 is the last axis of both shapes.
type BroadcastError struct {
	Left  Shape
	Right Shape
	Dim   int
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("shapes %v and %v are not broadcastable: trailing dimension %d (%d vs %d)",
		e.Left, e.Right, e.Dim, extentFromRight(e.Left, e.Dim), extentFromRight(e.Right, e.Dim))
}

func extentFromRight(s Shape, dim int) int64 {
	i := len(s) - 1 - dim
	if i < 0 {
		return 1
	}
	return s[i]
}

// Broadcast resolves the NumPy-style broadcast of two shapes.
//
//	[3, 1] + [3, 5] -> [3, 5]
//	[2, 3] + [3]    -> [2, 3]
//	[2, 3] + [4]    -> BroadcastError{Dim: 0}
func Broadcast(a, b Shape) (Shape, error) {
	n := max(len(a), len(b))
	out := make(Shape, n)
	for i := 0; i < n; i++ {
		ad := extentFromRight(a, i)
		bd := extentFromRight(b, i)
		switch {
		case ad == bd:
			out[n-1-i] = ad
		case ad == 1:
			out[n-1-i] = bd
		case bd == 1:
			out[n-1-i] = ad
		default:
			return nil, &BroadcastError{Left: a.Clone(), Right: b.Clone(), Dim: i}
		}
	}
	return out, nil
}

// BroadcastAll folds Broadcast left to right over every shape. An error
// names the running resolved shape and the first operand that conflicts.
func BroadcastAll(shapes ...Shape) (Shape, error) {
	if len(shapes) == 0 {
		return Shape{}, nil
	}
	acc := shapes[0].Clone()
	for _, s := range shapes[1:] {
		next, err := Broadcast(acc, s)
		if err != nil {
			return nil, err
		}
		acc = next
	}
	return acc, nil
}

// BroadcastStrides returns element strides for reading an operand of shape
// src as if it had shape dst: broadcast axes get stride 0. dst must be a
// valid broadcast target of src.
func BroadcastStrides(src, dst Shape) []int64 {
	srcStrides := src.Strides()
	out := make([]int64, len(dst))
	offset := len(dst) - len(src)
	for i := range dst {
		j := i - offset
		if j < 0 || src[j] == 1 && dst[i] != 1 {
			continue
		}
		out[i] = srcStrides[j]
	}
	return out
}
