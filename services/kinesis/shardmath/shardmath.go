// Package shardmath implements the hash-key partitioning and split/merge
// geometry shared by every shard-reshaping operation (CreateStream,
// SplitShard, MergeShards, UpdateShardCount).
package shardmath

import (
	"fmt"
	"math/big"
	"sort"
)

// Uint128Max is the largest value in a Kinesis hash-key range, 2^128 - 1.
var Uint128Max = func() *big.Int {
	max := big.NewInt(1)
	max.Lsh(max, 128)
	return max.Sub(max, big.NewInt(1))
}()

// HashKeyRange is an inclusive [Start, End] slice of the hash-key space.
type HashKeyRange struct {
	Start *big.Int
	End   *big.Int
}

// Contains reports whether hash falls within the range, inclusive.
func (r HashKeyRange) Contains(hash *big.Int) bool {
	return hash.Cmp(r.Start) >= 0 && hash.Cmp(r.End) <= 0
}

func (r HashKeyRange) clone() HashKeyRange {
	return HashKeyRange{Start: new(big.Int).Set(r.Start), End: new(big.Int).Set(r.End)}
}

// EvenRanges partitions [0, Uint128Max] into count contiguous, disjoint
// ranges of near-equal size whose union is the full space. The final range
// absorbs any remainder from the integer division.
func EvenRanges(count int64) []HashKeyRange {
	if count <= 0 {
		return nil
	}

	step := new(big.Int).Div(Uint128Max, big.NewInt(count))
	one := big.NewInt(1)

	ranges := make([]HashKeyRange, 0, count)
	for i := int64(0); i < count; i++ {
		start := new(big.Int).Mul(big.NewInt(i), step)

		var end *big.Int
		if i == count-1 {
			end = new(big.Int).Set(Uint128Max)
		} else {
			end = new(big.Int).Add(start, step)
			end.Sub(end, one)
		}
		ranges = append(ranges, HashKeyRange{Start: start, End: end})
	}
	return ranges
}

// Split validates that mid lies strictly inside (r.Start, r.End) and
// returns the two child ranges that would result from splitting r there.
func Split(r HashKeyRange, mid *big.Int) (left, right HashKeyRange, err error) {
	if mid.Cmp(r.Start) <= 0 || mid.Cmp(r.End) >= 0 {
		return HashKeyRange{}, HashKeyRange{}, fmt.Errorf(
			"newStartingHashKey %s must be strictly between %s and %s", mid, r.Start, r.End)
	}

	left = HashKeyRange{Start: r.clone().Start, End: new(big.Int).Sub(mid, big.NewInt(1))}
	right = HashKeyRange{Start: new(big.Int).Set(mid), End: r.clone().End}
	return left, right, nil
}

// Merge validates that a and b are adjacent — one's End immediately
// precedes the other's Start — and returns their union.
func Merge(a, b HashKeyRange) (HashKeyRange, error) {
	lo, hi := a, b
	if lo.Start.Cmp(hi.Start) > 0 {
		lo, hi = hi, lo
	}

	expected := new(big.Int).Add(lo.End, big.NewInt(1))
	if expected.Cmp(hi.Start) != 0 {
		return HashKeyRange{}, fmt.Errorf(
			"ranges [%s,%s] and [%s,%s] are not adjacent", a.Start, a.End, b.Start, b.End)
	}

	return HashKeyRange{Start: lo.clone().Start, End: hi.clone().End}, nil
}

// CoversFullSpace reports whether ranges exactly partitions [0, Uint128Max]:
// pairwise disjoint, contiguous, with no gaps and no overlaps.
func CoversFullSpace(ranges []HashKeyRange) bool {
	if len(ranges) == 0 {
		return false
	}

	sorted := append([]HashKeyRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Cmp(sorted[j].Start) < 0 })

	if sorted[0].Start.Sign() != 0 {
		return false
	}
	for i := 1; i < len(sorted); i++ {
		expected := new(big.Int).Add(sorted[i-1].End, big.NewInt(1))
		if expected.Cmp(sorted[i].Start) != 0 {
			return false
		}
	}
	return sorted[len(sorted)-1].End.Cmp(Uint128Max) == 0
}
