package vectorstore

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero vector", []float32{1, 2, 3}, []float32{0, 0, 0}, 0.0},
		{"both zero", []float32{0, 0}, []float32{0, 0}, 0.0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
		{"empty", nil, nil, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.IsNaN(got) {
				t.Fatal("similarity must never be NaN")
			}
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("got %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity_Clamped(t *testing.T) {
	// Self-similarity of an arbitrary vector stays within [-1, 1] despite
	// floating-point drift.
	v := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7}
	got := CosineSimilarity(v, v)
	if got > 1.0 || got < -1.0 {
		t.Errorf("similarity out of range: %f", got)
	}
	if math.Abs(got-1.0) > 1e-6 {
		t.Errorf("self-similarity should be ~1.0, got %f", got)
	}
}
