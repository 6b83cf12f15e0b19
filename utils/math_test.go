package utils

import (
	"math/rand"
	"testing"

	"go.viam.com/test"
)

func TestIntHelpers(t *testing.T) {
	test.That(t, MinInt(3, -2), test.ShouldEqual, -2)
	test.That(t, MinInt(-2, 3), test.ShouldEqual, -2)
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 100; i++ {
		v := SampleRandomIntRange(-3, 4, r)
		test.That(t, v, test.ShouldBeGreaterThanOrEqualTo, -3)
		test.That(t, v, test.ShouldBeLessThanOrEqualTo, 4)
	}
}

func TestSampleDistinctInts(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	dst := make([]int, 5)
	for i := 0; i < 200; i++ {
		SampleDistinctInts(dst, 7, r)
		seen := map[int]bool{}
		for _, v := range dst {
			test.That(t, v, test.ShouldBeGreaterThanOrEqualTo, 0)
			test.That(t, v, test.ShouldBeLessThan, 7)
			test.That(t, seen[v], test.ShouldBeFalse)
			seen[v] = true
		}
	}

	SampleDistinctInts(dst, 5, r)
	sum := 0
	for _, v := range dst {
		sum += v
	}
	test.That(t, sum, test.ShouldEqual, 10)

	test.That(t, func() { SampleDistinctInts(dst, 4, r) }, test.ShouldPanic)
}
