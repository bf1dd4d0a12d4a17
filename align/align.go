// Package align registers a candidate signal against a reference signal by
// the offset between their beat peaks.
package align

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientPeaks = errors.New("not enough peaks to align")
	ErrLengthMismatch    = errors.New("reference and candidate lengths differ")
)

// Result is a registered signal pair. Reference is returned unmodified.
type Result struct {
	Reference []float64
	Candidate []float64

	// Gap is candidatePeaks[pivot] - referencePeaks[pivot]. A positive gap
	// means the candidate was pulled Gap samples earlier.
	Gap   int
	Pivot int
}

// Pivot returns the peak index compared by Match: (len(a)+len(b))/4.
func Pivot(referencePeaks, candidatePeaks []int) int {
	return (len(referencePeaks) + len(candidatePeaks)) / 4
}

// Match shifts candidate so that its pivot peak lines up with the
// reference's pivot peak. For gap > 0 the first gap candidate samples are
// dropped and the tail is zero-filled; for gap < 0 the head is zero-filled
// and the tail dropped. A gap of 0 leaves the candidate unchanged.
func Match(reference, candidate []float64, referencePeaks, candidatePeaks []int) (Result, error) {
	if len(reference) != len(candidate) {
		return Result{}, fmt.Errorf("%w: %d and %d samples", ErrLengthMismatch, len(reference), len(candidate))
	}
	idx := Pivot(referencePeaks, candidatePeaks)
	if idx >= len(referencePeaks) || idx >= len(candidatePeaks) {
		return Result{}, fmt.Errorf("%w: pivot %d with %d reference and %d candidate peaks", ErrInsufficientPeaks, idx, len(referencePeaks), len(candidatePeaks))
	}

	gap := candidatePeaks[idx] - referencePeaks[idx]
	return Result{
		Reference: reference,
		Candidate: Shift(candidate, gap),
		Gap:       gap,
		Pivot:     idx,
	}, nil
}

// Shift returns a copy of x moved gap samples earlier (gap > 0) or -gap
// samples later (gap < 0). Vacated samples are zero. Shifting by at least
// len(x) yields all zeros.
func Shift(x []float64, gap int) []float64 {
	out := make([]float64, len(x))
	switch {
	case gap >= len(x) || -gap >= len(x):
	case gap >= 0:
		copy(out, x[gap:])
	default:
		copy(out[-gap:], x)
	}
	return out
}

// ShiftPeaks re-expresses candidate peak indices in the frame produced by
// Match and drops those that fall outside [0, n).
func ShiftPeaks(peaks []int, gap, n int) []int {
	out := make([]int, 0, len(peaks))
	for _, p := range peaks {
		if q := p - gap; q >= 0 && q < n {
			out = append(out, q)
		}
	}
	return out
}
