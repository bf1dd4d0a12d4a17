package segment

import (
	"gonum.org/v1/gonum/floats"
)

// MinMax rescales x linearly onto [-1, 1]. A flat signal maps to zeros.
func MinMax(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	lo, hi := floats.Min(x), floats.Max(x)
	if hi == lo {
		return out
	}
	for i, v := range x {
		out[i] = 2*(v-lo)/(hi-lo) - 1
	}
	return out
}

// MSE is the mean squared difference of two equal-length series.
func MSE(a, b []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	d := make([]float64, len(a))
	floats.SubTo(d, a, b)
	return floats.Dot(d, d) / float64(len(d))
}

func gather(x []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = x[j]
	}
	return out
}
