// Package xslices provides generic slice helpers that complement the standard
// slices package: mapping, negative indexing, stack-like Pop and slice constructors.
//
// They are used throughout the IR and analysis packages, where traversals keep
// explicit work stacks and layouts are described by small []int extents.
package xslices

// Map executes the given function sequentially for every element of in, and returns
// a new slice with the mapped values.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// At returns the element at the given index. Negative indices are taken from the
// end: At(slice, -1) is the last element.
func At[T any](slice []T, idx int) T {
	if idx < 0 {
		idx = len(slice) + idx
	}
	return slice[idx]
}

// Last returns the last element of the slice, the top of a stack built by append.
func Last[T any](slice []T) T {
	return slice[len(slice)-1]
}

// Pop removes and returns the last element of the slice. It panics on an empty
// slice, like indexing out-of-bounds would.
func Pop[T any](slice []T) (T, []T) {
	value := slice[len(slice)-1]
	return value, slice[:len(slice)-1]
}

// SliceWithValue creates a slice of the given size with every element set to value.
func SliceWithValue[T any](size int, value T) []T {
	slice := make([]T, size)
	for ii := range slice {
		slice[ii] = value
	}
	return slice
}

// Iota returns a slice of the given size with values starting at start and
// incremented by 1: Iota(0, 3) == []int{0, 1, 2}.
func Iota[T interface{ ~int | ~int32 | ~int64 }](start T, size int) (slice []T) {
	slice = make([]T, size)
	for ii := range slice {
		slice[ii] = start + T(ii)
	}
	return
}

// Reorder gathers input by the given index order: output[ii] = input[order[ii]].
// order is usually a permutation of the input indices but may repeat or skip them.
func Reorder[T any](input []T, order []int) (output []T) {
	output = make([]T, len(order))
	for ii, idx := range order {
		output[ii] = input[idx]
	}
	return
}
