package one

import (
	"math"
	"reflect"
	"testing"
)

// TestIntListCompactionRoundTrip checks that for any []int64, including
// negatives and the empty list, decompact(compact(xs)) reproduces xs
// exactly.
func TestIntListCompactionRoundTrip(t *testing.T) {
	cases := [][]int64{
		nil,
		{},
		{0},
		{1, 2, 3, 4, 5},
		{-1, -2, -3},
		{math.MaxInt64, math.MinInt64, 0},
		{1000, 1002, 1005, 999},
		{1 << 40, (1 << 40) + 1, -(1 << 40)},
	}
	for _, xs := range cases {
		packed, strip := CompactIntList(xs)
		got, err := DecompactIntList(packed, len(xs), strip)
		if err != nil {
			t.Fatalf("DecompactIntList(%v): %v", xs, err)
		}
		if len(xs) == 0 {
			if len(got) != 0 {
				t.Fatalf("expected empty round trip, got %v", got)
			}
			continue
		}
		if !reflect.DeepEqual(got, xs) {
			t.Fatalf("round trip mismatch: want %v, got %v (strip=%d)", xs, got, strip)
		}
	}
}

// TestIntListCompactionStripCount checks that the differenced sequence
// for [1000, 1002, 1005, 999] has a common redundant prefix of 6 bytes
// (every element fits in the remaining 2), and decompaction restores the
// original values exactly.
func TestIntListCompactionStripCount(t *testing.T) {
	xs := []int64{1000, 1002, 1005, 999}
	packed, strip := CompactIntList(xs)
	if strip != 6 {
		t.Fatalf("expected strip=6, got %d", strip)
	}
	if len(packed) != len(xs)*(8-strip) {
		t.Fatalf("packed length %d, want %d", len(packed), len(xs)*(8-strip))
	}
	got, err := DecompactIntList(packed, len(xs), strip)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, xs) {
		t.Fatalf("got %v, want %v", got, xs)
	}
}

func TestPackUnpackListLength(t *testing.T) {
	n, strip := int64(12345), 5
	packed := PackListLength(n, strip)
	gotN, gotStrip := UnpackListLength(packed)
	if gotN != n || gotStrip != strip {
		t.Fatalf("got (%d,%d), want (%d,%d)", gotN, gotStrip, n, strip)
	}
}
