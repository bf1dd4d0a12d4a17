package peaks

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

// pulse builds a noisy 1.2 Hz waveform with a dicrotic-like harmonic.
func pulse(n int, seed uint64) []float64 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / DefaultSampleRate
		out[i] = math.Sin(2*math.Pi*1.2*t) + 0.3*math.Sin(2*math.Pi*2.4*t+0.5) + 0.05*r.NormFloat64()
	}
	return out
}

func TestRollingMean(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6}

	for _, v := range []struct {
		windowSec float64
		want      []float64
	}{
		{0.5, []float64{1.5, 2.5, 3.5, 4.5, 5.5, 5.5}},
		{0.75, []float64{2, 2, 3, 4, 5, 5}},
		{1.5, []float64{3.5, 3.5, 3.5, 3.5, 3.5, 3.5}},
	} {
		got, err := RollingMean(x, v.windowSec, 4)
		require.NoError(t, err)
		require.Len(t, got, len(x))
		require.InDeltaSlice(t, v.want, got, 1e-12)
	}

	_, err := RollingMean(x, 0.1, 4)
	require.True(t, errors.Is(err, ErrWindow))
	_, err = RollingMean(x, 2, 4)
	require.True(t, errors.Is(err, ErrWindow))
}

func TestDetect(t *testing.T) {
	x := []float64{0, 0, 5, 0, 0, 7, 8, 0, 0, 3, 3}
	rol := make([]float64, len(x))
	for i := range rol {
		rol[i] = 1
	}

	got, err := Detect(x, rol, 20)
	require.NoError(t, err)
	require.Equal(t, []int{2, 6, 9}, got)

	_, err = Detect(x, rol[:3], 20)
	require.Error(t, err)
}

func TestPeaksStrictlyIncreasing(t *testing.T) {
	d := Default()
	for seed := uint64(1); seed <= 20; seed++ {
		x := pulse(750, seed)
		for _, w := range []float64{0.25, 0.75, 1.5} {
			for _, detect := range []func([]float64, float64) ([]int, error){d.Systolic, d.Diastolic, d.PPG} {
				p, err := detect(x, w)
				require.NoError(t, err)
				for i := 1; i < len(p); i++ {
					require.Greater(t, p[i], p[i-1])
				}
			}
		}
	}
}

func TestDiastolicIsNegatedSystolic(t *testing.T) {
	d := Default()
	for seed := uint64(1); seed <= 10; seed++ {
		x := pulse(750, seed)
		neg := make([]float64, len(x))
		for i, v := range x {
			neg[i] = -v
		}

		dia, err := d.Diastolic(x, DefaultWindowSec)
		require.NoError(t, err)
		sys, err := d.Systolic(neg, DefaultWindowSec)
		require.NoError(t, err)
		require.Equal(t, sys, dia)
	}
}

func TestSystolicFindsEveryBeat(t *testing.T) {
	centers := []int{50, 150, 250, 350, 450, 550, 650}
	x := make([]float64, 750)
	for i := range x {
		for _, c := range centers {
			d := float64(i-c) / 5
			x[i] += math.Exp(-d * d)
		}
	}

	p, err := Default().Systolic(x, DefaultWindowSec)
	require.NoError(t, err)
	require.Equal(t, centers, p)
}

func TestWindowSweep(t *testing.T) {
	x := pulse(750, 4)
	out, err := Default().WindowSweep(x, 0.5, 2.5, 0.25)
	require.NoError(t, err)
	require.Len(t, out, 8)

	_, err = Default().WindowSweep(x, 0.5, 2.5, 0)
	require.True(t, errors.Is(err, ErrWindow))
}

func TestIntervals(t *testing.T) {
	rr, sd, err := Intervals([]int{0, 125, 250, 400}, 125)
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{1000, 1000, 1200}, rr, 1e-9)
	require.InDelta(t, math.Sqrt(8888.888888888889), sd, 1e-6)

	rr, sd, err = Intervals([]int{10}, 125)
	require.NoError(t, err)
	require.Nil(t, rr)
	require.Zero(t, sd)
}
