package utils

import "math/rand"

// MinInt returns the minimum of two ints.
func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// SampleRandomIntRange samples a random integer within a range given by [min, max]
// using the given rand.Rand.
func SampleRandomIntRange(min, max int, r *rand.Rand) int {
	return r.Intn(max-min+1) + min
}

// SampleDistinctInts fills dst with len(dst) distinct integers drawn uniformly from [0, n).
// It panics if len(dst) > n.
func SampleDistinctInts(dst []int, n int, r *rand.Rand) {
	if len(dst) > n {
		panic("cannot sample more distinct values than the population size")
	}
	for i := range dst {
	draw:
		for {
			candidate := SampleRandomIntRange(0, n-1, r)
			for _, prev := range dst[:i] {
				if prev == candidate {
					continue draw
				}
			}
			dst[i] = candidate
			break
		}
	}
}
