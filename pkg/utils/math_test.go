package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	t.Run("produces unit norm", func(t *testing.T) {
		v := []float32{3, 4}
		NormalizeL2(v)
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if math.Abs(math.Sqrt(sum)-1.0) > 1e-6 {
			t.Errorf("norm = %f, want 1.0", math.Sqrt(sum))
		}
		if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
			t.Errorf("normalized = %v, want [0.6 0.8]", v)
		}
	})

	t.Run("zero vector unchanged", func(t *testing.T) {
		v := []float32{0, 0, 0}
		NormalizeL2(v)
		for i, x := range v {
			if x != 0 {
				t.Errorf("v[%d] = %f, want 0", i, x)
			}
		}
	})

	t.Run("empty slice", func(t *testing.T) {
		NormalizeL2(nil)
		NormalizeL2([]float32{})
	})
}
