// Package common holds small helpers shared across the engine packages.
package common

import "unsafe"

// Coalesce returns the first non-zero value from the provided values, or the zero value if all are zero.
//
// Parameters:
//   - values: a variadic list of values to check for non-zero status
//
// Returns:
//   - T: the first non-zero value from the input, or the zero value if all are zero
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// CeilDiv returns ceil(count / size), the number of workgroups needed to cover count invocations.
// A zero size yields zero.
//
// Parameters:
//   - count: number of invocations
//   - size: workgroup size
//
// Returns:
//   - uint32: the workgroup count
func CeilDiv(count, size uint32) uint32 {
	if size == 0 {
		return 0
	}
	return uint32((uint64(count) + uint64(size) - 1) / uint64(size))
}

// AlignUp rounds value up to the next multiple of alignment. Alignment must be a power of two.
//
// Parameters:
//   - value: the value to round
//   - alignment: a power of two
//
// Returns:
//   - uint64: the aligned value
func AlignUp(value, alignment uint64) uint64 {
	return (value + alignment - 1) &^ (alignment - 1)
}

// SliceToBytes converts any slice to a byte slice for GPU buffer uploads.
// The returned slice shares memory with the input and must not be modified.
//
// Parameters:
//   - data: source slice of any type
//
// Returns:
//   - []byte: byte slice view of the input data, or nil if input is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	size := unsafe.Sizeof(zero)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), int(size)*len(data))
}
