package segment

import (
	"fmt"
	"math"

	"github.com/jfcg/butter"
)

// LowPass applies a zero-phase low-pass filter, run forward over x and then
// backward over the result. Order two is a single second-order Butterworth
// section, so the passes together halve the amplitude at cutoffHz. Other
// orders cascade second-order sections, plus a first-order section when the
// order is odd. The signal is extended at both ends by odd reflection and
// every section starts from its steady state for the first sample.
func LowPass(x []float64, cutoffHz, fs float64, order int) ([]float64, error) {
	if order < 1 {
		return nil, fmt.Errorf("filter order must be positive, got %d", order)
	}
	wc := 2 * math.Pi * cutoffHz / fs
	if butter.NewLowPass1(wc) == nil || butter.NewLowPass2(wc) == nil {
		return nil, fmt.Errorf("invalid low-pass filter (attempted wc=%f, but expect .0001 < wc && wc < 3.1415)", wc)
	}
	if len(x) < 2 {
		return append([]float64(nil), x...), nil
	}

	pad := 3 * (order + 1)
	if pad > len(x)-1 {
		pad = len(x) - 1
	}

	ext := make([]float64, 0, len(x)+2*pad)
	for i := pad; i > 0; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := 1; i <= pad; i++ {
		ext = append(ext, 2*x[len(x)-1]-x[len(x)-1-i])
	}

	filterPass(ext, wc, order)
	reverse(ext)
	filterPass(ext, wc, order)
	reverse(ext)

	return ext[pad : pad+len(x)], nil
}

// filterPass runs the cascade over x in place.
func filterPass(x []float64, wc float64, order int) {
	settle := int(40/wc) + 1
	for _, f := range sections(wc, order) {
		for i := 0; i < settle; i++ {
			f.Next(x[0])
		}
		for i, v := range x {
			x[i] = f.Next(v)
		}
	}
}

type section interface {
	Next(float64) float64
}

func sections(wc float64, order int) []section {
	out := make([]section, 0, (order+1)/2)
	for i := 0; i < order/2; i++ {
		out = append(out, butter.NewLowPass2(wc))
	}
	if order%2 == 1 {
		out = append(out, butter.NewLowPass1(wc))
	}
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
