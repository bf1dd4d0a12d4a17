package align

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func ramp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}

func TestMatchPositiveGap(t *testing.T) {
	ref, cand := ramp(50), ramp(50)
	refPeaks := []int{10, 20, 30, 40}
	candPeaks := []int{12, 22, 32, 42}

	res, err := Match(ref, cand, refPeaks, candPeaks)
	require.NoError(t, err)
	require.Equal(t, 2, res.Pivot)
	require.Equal(t, 2, res.Gap)
	require.Equal(t, ref, res.Reference)

	// The first two candidate samples are dropped and the last two are zero.
	require.Equal(t, cand[2:], res.Candidate[:48])
	require.Equal(t, []float64{0, 0}, res.Candidate[48:])

	require.Equal(t, []int{10, 20, 30, 40}, ShiftPeaks(candPeaks, res.Gap, len(cand)))
	require.Equal(t, []int{0, 8}, ShiftPeaks([]int{1, 2, 10}, res.Gap, len(cand)))
}

func TestMatchNegativeGap(t *testing.T) {
	ref, cand := ramp(50), ramp(50)
	res, err := Match(ref, cand, []int{12, 22, 32, 42}, []int{10, 20, 30, 40})
	require.NoError(t, err)
	require.Equal(t, -2, res.Gap)

	require.Equal(t, []float64{0, 0}, res.Candidate[:2])
	require.Equal(t, cand[:48], res.Candidate[2:])
	require.Equal(t, []int{12, 22, 32}, ShiftPeaks([]int{10, 20, 30, 48}, res.Gap, len(cand)))
}

func TestMatchSwapIsInverse(t *testing.T) {
	a, b := ramp(60), ramp(60)
	pa := []int{5, 17, 29, 41}
	pb := []int{9, 21, 33, 45}

	fwd, err := Match(a, b, pa, pb)
	require.NoError(t, err)
	rev, err := Match(b, a, pb, pa)
	require.NoError(t, err)
	require.Equal(t, -fwd.Gap, rev.Gap)

	// Shifting forward then back recovers the original away from the
	// zero-filled boundary.
	back := Shift(fwd.Candidate, rev.Gap)
	g := fwd.Gap
	require.Equal(t, b[g:len(b)-g], back[g:len(b)-g])
}

func TestMatchZeroGap(t *testing.T) {
	x := ramp(10)
	res, err := Match(x, x, []int{1, 5}, []int{1, 5})
	require.NoError(t, err)
	require.Zero(t, res.Gap)
	require.Equal(t, x, res.Candidate)
}

func TestMatchErrors(t *testing.T) {
	_, err := Match(ramp(10), ramp(9), []int{1, 2, 3}, []int{1, 2, 3})
	require.True(t, errors.Is(err, ErrLengthMismatch))

	_, err = Match(ramp(10), ramp(10), []int{1, 2, 3, 4, 5}, []int{1})
	require.True(t, errors.Is(err, ErrInsufficientPeaks))

	_, err = Match(ramp(10), ramp(10), nil, nil)
	require.True(t, errors.Is(err, ErrInsufficientPeaks))
}

func TestShiftBeyondLength(t *testing.T) {
	require.Equal(t, make([]float64, 4), Shift(ramp(4), 4))
	require.Equal(t, make([]float64, 4), Shift(ramp(4), -7))
}
