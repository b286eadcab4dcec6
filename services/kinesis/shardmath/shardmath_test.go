package shardmath

import (
	"math/big"
	"testing"
)

func TestEvenRangesCoversFullSpace(t *testing.T) {
	for _, count := range []int64{1, 2, 3, 7, 50} {
		ranges := EvenRanges(count)
		if len(ranges) != int(count) {
			t.Fatalf("count=%d: got %d ranges", count, len(ranges))
		}
		if !CoversFullSpace(ranges) {
			t.Fatalf("count=%d: ranges do not cover the full space: %+v", count, ranges)
		}
	}
}

func TestSplitValidation(t *testing.T) {
	r := HashKeyRange{Start: big.NewInt(0), End: big.NewInt(100)}

	if _, _, err := Split(r, big.NewInt(0)); err == nil {
		t.Fatal("expected error splitting at Start")
	}
	if _, _, err := Split(r, big.NewInt(100)); err == nil {
		t.Fatal("expected error splitting at End")
	}
	if _, _, err := Split(r, big.NewInt(101)); err == nil {
		t.Fatal("expected error splitting outside range")
	}

	left, right, err := Split(r, big.NewInt(50))
	if err != nil {
		t.Fatal(err)
	}
	if left.Start.Cmp(big.NewInt(0)) != 0 || left.End.Cmp(big.NewInt(49)) != 0 {
		t.Fatalf("bad left range: %+v", left)
	}
	if right.Start.Cmp(big.NewInt(50)) != 0 || right.End.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("bad right range: %+v", right)
	}
	if merged, err := Merge(left, right); err != nil || merged.Start.Cmp(r.Start) != 0 || merged.End.Cmp(r.End) != 0 {
		t.Fatal("split halves should still cover the parent's space")
	}
}

func TestMergeValidation(t *testing.T) {
	a := HashKeyRange{Start: big.NewInt(0), End: big.NewInt(49)}
	b := HashKeyRange{Start: big.NewInt(50), End: big.NewInt(100)}

	merged, err := Merge(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if merged.Start.Cmp(big.NewInt(0)) != 0 || merged.End.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("bad merged range: %+v", merged)
	}

	// Order shouldn't matter.
	merged2, err := Merge(b, a)
	if err != nil {
		t.Fatal(err)
	}
	if merged.Start.Cmp(merged2.Start) != 0 || merged.End.Cmp(merged2.End) != 0 {
		t.Fatal("merge should be order-independent")
	}

	nonAdjacent := HashKeyRange{Start: big.NewInt(200), End: big.NewInt(300)}
	if _, err := Merge(a, nonAdjacent); err == nil {
		t.Fatal("expected error merging non-adjacent ranges")
	}
}

func TestCoversFullSpaceDetectsGapsAndOverlaps(t *testing.T) {
	gap := []HashKeyRange{
		{Start: big.NewInt(0), End: big.NewInt(40)},
		{Start: big.NewInt(50), End: Uint128Max},
	}
	if CoversFullSpace(gap) {
		t.Fatal("expected gap to be detected")
	}

	overlap := []HashKeyRange{
		{Start: big.NewInt(0), End: big.NewInt(60)},
		{Start: big.NewInt(50), End: Uint128Max},
	}
	if CoversFullSpace(overlap) {
		t.Fatal("expected overlap to be detected")
	}
}
