// Package sliceops holds byte order helpers for addresses that storage and
// the wire keep in opposite orders.
package sliceops

// SwapBuf returns a reversed copy of in.
func SwapBuf(in []byte) []byte {
	out := make([]byte, len(in))
	SwapInto(out, in)
	return out
}

// SwapInto writes src reversed into dst and returns the number of bytes
// written, the shorter of the two lengths. Only the first n bytes of src
// are used.
func SwapInto(dst, src []byte) int {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		dst[i] = src[n-1-i]
	}
	return n
}
