package lfalloc

import (
	"math"

	"golang.org/x/exp/slices"
)

// numSizeClasses, minClassBytes, and maxClassBytes match spec.md §3.3:
// 128 size classes spanning 8 B to 128 KB with increasing granularity.
const (
	numSizeClasses = 128
	minClassBytes  = 8
	maxClassBytes  = 128 * 1024
)

// buildSizeClassTable returns the allocatable-byte boundary for each of
// the 128 classes, geometrically spaced between minClassBytes and
// maxClassBytes and rounded up to a word multiple so every class is a
// valid allocation size in its own right.
func buildSizeClassTable() [numSizeClasses]int {
	var out [numSizeClasses]int
	out[0] = minClassBytes
	growth := math.Pow(float64(maxClassBytes)/float64(minClassBytes), 1.0/float64(numSizeClasses-1))
	size := float64(minClassBytes)
	for i := 1; i < numSizeClasses; i++ {
		size *= growth
		v := roundUpWord(int(math.Ceil(size)))
		if v <= out[i-1] {
			v = out[i-1] + int(wordSize)
		}
		out[i] = v
	}
	out[numSizeClasses-1] = maxClassBytes
	return out
}

func roundUpWord(n int) int {
	w := int(wordSize)
	if rem := n % w; rem != 0 {
		n += w - rem
	}
	return n
}

// classIndexFor returns the index of the first size class able to hold
// needed bytes, and ok=false if needed exceeds the largest class (the
// router then falls through to the big-slot list). table is sorted
// ascending by construction (buildSizeClassTable), so the lookup is a
// straight slices.BinarySearch: it returns the smallest index whose
// entry is >= needed, matching or not.
func classIndexFor(table [numSizeClasses]int, needed int) (int, bool) {
	idx, _ := slices.BinarySearch(table[:], needed)
	if idx == numSizeClasses {
		return 0, false
	}
	return idx, true
}
