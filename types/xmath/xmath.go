// Package xmath provides the integer arithmetic helpers used by layout queries and
// reduction planning: products of extent sequences, ceiling division and power-of-two
// manipulation. All functions are generic over the integer type.
package xmath

import (
	"unsafe"

	"golang.org/x/exp/constraints"
)

// Product returns the product of the elements of extents. The product of an empty
// sequence is 1 (the multiplicative identity), which keeps scalar-shaped extent
// sequences well-defined.
func Product[T constraints.Integer](extents []T) T {
	result := T(1)
	for _, extent := range extents {
		result *= extent
	}
	return result
}

// CeilDiv returns ceil(m/n) for integers. n must be > 0.
func CeilDiv[T constraints.Integer](m, n T) T {
	return (m + n - 1) / n
}

// IsPowerOfTwo returns whether n is a (positive) power of two.
func IsPowerOfTwo[T constraints.Integer](n T) bool {
	return n > 0 && n&(n-1) == 0
}

// NextPowerOfTwo returns the next power of two >= n, or n itself if it is already a
// power of two. NextPowerOfTwo(0) == 1.
func NextPowerOfTwo[T constraints.Integer](n T) T {
	if n == 0 {
		return 1
	}
	n--
	for shift := uint(1); shift < uint(unsafe.Sizeof(n))*8; shift <<= 1 {
		n |= n >> shift
	}
	return n + 1
}

// HighestPowerOfTwoDivisor returns the highest power of two that divides n. Zero is
// divisible by every power of two, so for n == 0 it returns the largest power of two
// representable in T without touching the sign bit.
func HighestPowerOfTwoDivisor[T constraints.Integer](n T) T {
	if n == 0 {
		return T(1) << (uint(unsafe.Sizeof(n))*8 - 2)
	}
	return n & (^(n - 1))
}
