// Package sliceops holds byte slice helpers shared by the crypto paths,
// which juggle little endian wire buffers against big endian cipher
// conventions.
package sliceops

// SwapBuf returns a reversed copy of in. The input is not modified.
func SwapBuf(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[len(in)-1-i] = b
	}
	return out
}

// Zero clears a key buffer in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
