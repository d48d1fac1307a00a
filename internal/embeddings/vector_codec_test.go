package embeddings

import (
	"math"
	"testing"
)

func TestBFloat16RoundTripExact(t *testing.T) {
	// Values with at most 7 mantissa bits survive the round trip unchanged.
	values := []float32{0, 1, -1, 0.5, -0.25, 2, -2, 0.0078125, 255, -255, 1.5, 0.75}

	decoded := DecodeBFloat16(EncodeBFloat16(values))
	if len(decoded) != len(values) {
		t.Fatalf("length mismatch: got %d, want %d", len(decoded), len(values))
	}
	for i, want := range values {
		if decoded[i] != want {
			t.Errorf("value %d: got %v, want %v", i, decoded[i], want)
		}
	}
}

func TestBFloat16RoundsToNearestEven(t *testing.T) {
	// 1 + 2^-8 sits halfway between 1.0 and the next bfloat16; it rounds
	// down to the even mantissa.
	got := DecodeBFloat16(EncodeBFloat16([]float32{1.00390625}))[0]
	if got != 1.0 {
		t.Errorf("1.00390625: got %v, want 1.0", got)
	}

	// 1 + 3*2^-8 is halfway as well but rounds up to the even mantissa.
	got = DecodeBFloat16(EncodeBFloat16([]float32{1.01171875}))[0]
	if got != 1.015625 {
		t.Errorf("1.01171875: got %v, want 1.015625", got)
	}
}

func TestBFloat16Precision(t *testing.T) {
	values := []float32{0.1, -0.73, 3.14159, 0.0001, 123.456}

	decoded := DecodeBFloat16(EncodeBFloat16(values))
	for i, want := range values {
		relErr := math.Abs(float64(decoded[i]-want)) / math.Abs(float64(want))
		if relErr > 1.0/256 {
			t.Errorf("value %v: decoded %v, relative error %v exceeds 1/256", want, decoded[i], relErr)
		}
	}
}

func TestBFloat16SpecialValues(t *testing.T) {
	nan := float32(math.NaN())
	posInf := float32(math.Inf(1))
	negInf := float32(math.Inf(-1))
	negZero := float32(math.Copysign(0, -1))

	decoded := DecodeBFloat16(EncodeBFloat16([]float32{nan, posInf, negInf, negZero}))

	if !math.IsNaN(float64(decoded[0])) {
		t.Errorf("NaN: got %v", decoded[0])
	}
	if !math.IsInf(float64(decoded[1]), 1) {
		t.Errorf("+Inf: got %v", decoded[1])
	}
	if !math.IsInf(float64(decoded[2]), -1) {
		t.Errorf("-Inf: got %v", decoded[2])
	}
	if decoded[3] != 0 || !math.Signbit(float64(decoded[3])) {
		t.Errorf("-0: got %v", decoded[3])
	}
}

func TestBFloat16Empty(t *testing.T) {
	if got := EncodeBFloat16(nil); len(got) != 0 {
		t.Errorf("encode nil: got %d words", len(got))
	}
	if got := DecodeBFloat16(nil); len(got) != 0 {
		t.Errorf("decode nil: got %d values", len(got))
	}
}
