package embeddings

import "math"

// EncodeBFloat16 packs a float32 vector into bfloat16 words, halving the
// memory held by cached vectors. bfloat16 keeps the full float32 exponent
// and the top 7 mantissa bits, which is ample for cosine ranking.
func EncodeBFloat16(vec []float32) []uint16 {
	out := make([]uint16, len(vec))
	for i, f := range vec {
		bits := math.Float32bits(f)
		if bits&0x7f800000 == 0x7f800000 {
			// NaN and infinities pass through unrounded
			out[i] = uint16(bits >> 16)
			continue
		}
		// round to nearest even
		rounded := bits + 0x7fff + (bits>>16)&1
		out[i] = uint16(rounded >> 16)
	}
	return out
}

// DecodeBFloat16 unpacks bfloat16 words back into a float32 vector.
func DecodeBFloat16(words []uint16) []float32 {
	out := make([]float32, len(words))
	for i, w := range words {
		out[i] = math.Float32frombits(uint32(w) << 16)
	}
	return out
}
