package rag

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Normalize scales v to unit L2 norm in place and returns it.
// A zero vector cannot be normalised and yields an error.
func Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("vector has no finite non-zero norm")
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		v[i] = float32(float64(x) * inv)
	}
	return v, nil
}

// Dot returns the inner product of a and b. For unit vectors this is the
// cosine similarity. Lengths must match.
func Dot(a, b []float32) float32 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return float32(s)
}

// CheckDimensions returns a DimensionMismatch error when len(v) != want.
func CheckDimensions(op string, v []float32, want int) error {
	if len(v) != want {
		return Errorf(KindDimensionMismatch, op, "vector has %d dimensions, store expects %d", len(v), want)
	}
	return nil
}

// EncodeVector serialises v as little-endian float32s.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
