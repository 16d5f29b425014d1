package partition

import (
	"errors"
	"math/rand/v2"
)

var ErrInvalidGroupSize = errors.New("group size must be positive")
var ErrNoSinkGroup = errors.New("no full group to absorb the remainder")

// Source picks an index in [0, n). *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// Partition splits items into consecutive groups of groupSize, in input order.
// A trailing group shorter than groupSize is dissolved and each of its elements
// is appended to a full group chosen by src. A nil src uses the global generator.
//
// Partition fails with ErrNoSinkGroup when items is non-empty but shorter than
// groupSize, because no full group exists to take the remainder.
func Partition[T any](items []T, groupSize int, src Source) ([][]T, error) {
	if groupSize <= 0 {
		return nil, ErrInvalidGroupSize
	}
	if len(items) == 0 {
		return [][]T{}, nil
	}
	if len(items) < groupSize {
		return nil, ErrNoSinkGroup
	}
	if src == nil {
		src = globalSource{}
	}

	full := len(items) / groupSize
	groups := make([][]T, 0, full)
	for i := 0; i < full*groupSize; i += groupSize {
		g := make([]T, groupSize, groupSize+1)
		copy(g, items[i:i+groupSize])
		groups = append(groups, g)
	}

	// Redistribute the short tail, one element at a time.
	for _, item := range items[full*groupSize:] {
		k := src.IntN(len(groups))
		groups[k] = append(groups[k], item)
	}

	return groups, nil
}
