package rag

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	v, err := Normalize([]float32{3, 4})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("Normalize([3 4]) = %v, want [0.6 0.8]", v)
	}
	if d := Dot(v, v); math.Abs(float64(d)-1) > 1e-6 {
		t.Errorf("unit vector self-dot = %v, want 1", d)
	}

	if _, err := Normalize([]float32{0, 0, 0}); err == nil {
		t.Error("Normalize(zero) should fail")
	}
}

func TestCheckDimensions(t *testing.T) {
	t.Parallel()

	if err := CheckDimensions("op", make([]float32, 384), 384); err != nil {
		t.Errorf("matching dims: unexpected error %v", err)
	}
	err := CheckDimensions("op", make([]float32, 3), 384)
	if !IsKind(err, KindDimensionMismatch) {
		t.Errorf("mismatch: got %v", err)
	}
}

func TestEncodeDecodeVector(t *testing.T) {
	t.Parallel()

	in := []float32{0.25, -1.5, 3}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("round trip mismatch at %d: %v != %v", i, in[i], out[i])
		}
	}

	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("DecodeVector should reject a truncated blob")
	}
}
