// Package getbytes reinterprets numeric slices as byte slices without
// copying, for binary frame publishing. The returned slice aliases the
// input; do not mutate the input while the bytes are in flight.
package getbytes

import "unsafe"

// FromSliceUint64 converts a []uint64 to []byte using unsafe.Slice.
func FromSliceUint64(d []uint64) []byte {
	if len(d) == 0 {
		return []byte{}
	}
	n := uintptr(len(d)) * unsafe.Sizeof(d[0])
	return unsafe.Slice((*byte)(unsafe.Pointer(&d[0])), n)
}

// FromSliceFloat64 converts a []float64 to []byte using unsafe.Slice.
func FromSliceFloat64(d []float64) []byte {
	if len(d) == 0 {
		return []byte{}
	}
	n := uintptr(len(d)) * unsafe.Sizeof(d[0])
	return unsafe.Slice((*byte)(unsafe.Pointer(&d[0])), n)
}

// FromSliceInt16 converts a []int16 to []byte using unsafe.Slice.
func FromSliceInt16(d []int16) []byte {
	if len(d) == 0 {
		return []byte{}
	}
	n := uintptr(len(d)) * unsafe.Sizeof(d[0])
	return unsafe.Slice((*byte)(unsafe.Pointer(&d[0])), n)
}
