package shape

import (
	"fmt"
	"sort"
)

// NormalizeAxes resolves negative axes against rank, rejects duplicates and
// out-of-range entries, and returns them sorted. An empty list selects every
// axis.
func NormalizeAxes(axes []int, rank int) ([]int, error) {
	if len(axes) == 0 {
		all := make([]int, rank)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	seen := make(map[int]bool, len(axes))
	out := make([]int, 0, len(axes))
	for _, a := range axes {
		n := a
		if n < 0 {
			n += rank
		}
		if n < 0 || n >= rank {
			return nil, fmt.Errorf("axis %d is out of bounds for rank %d", a, rank)
		}
		if seen[n] {
			return nil, fmt.Errorf("duplicate axis %d", a)
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// Reduce returns the shape left after reducing the given normalized axes.
// With keepDims the reduced axes stay as extent 1.
func (s Shape) Reduce(axes []int, keepDims bool) Shape {
	reduced := make(map[int]bool, len(axes))
	for _, a := range axes {
		reduced[a] = true
	}
	out := make(Shape, 0, len(s))
	for i, d := range s {
		switch {
		case !reduced[i]:
			out = append(out, d)
		case keepDims:
			out = append(out, 1)
		}
	}
	return out
}
