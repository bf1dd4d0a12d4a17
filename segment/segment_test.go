package segment

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/carbocation/vid2bp/align"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

const beatPeriod = 104

// beats builds a pulse train with a Gaussian upstroke every beatPeriod
// samples, starting at first, riding on a cosine that bottoms out between
// beats.
func beats(n, first int, base, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		var v float64
		for c := first; c < n+beatPeriod; c += beatPeriod {
			d := float64(i - c)
			v += math.Exp(-d * d / (2 * 8 * 8))
		}
		v += 0.3 * math.Cos(2*math.Pi*float64(i-first)/beatPeriod)
		out[i] = base + amp*v
	}
	return out
}

func TestLowPass(t *testing.T) {
	flat := make([]float64, 200)
	for i := range flat {
		flat[i] = 4
	}
	got, err := LowPass(flat, 3, 125, 2)
	require.NoError(t, err)
	require.InDeltaSlice(t, flat, got, 1e-6)

	// A 40 Hz tone is far above a 3 Hz cutoff.
	tone := make([]float64, 500)
	for i := range tone {
		tone[i] = math.Sin(2 * math.Pi * 40 * float64(i) / 125)
	}
	got, err = LowPass(tone, 3, 125, 2)
	require.NoError(t, err)
	require.Len(t, got, len(tone))
	require.Less(t, floats.Norm(got[50:450], math.Inf(1)), 0.1)

	// At the cutoff each pass of a second-order Butterworth section is 3 dB
	// down, so the forward and backward passes halve the amplitude.
	corner := make([]float64, 1250)
	for i := range corner {
		corner[i] = math.Sin(2 * math.Pi * 3 * float64(i) / 125)
	}
	got, err = LowPass(corner, 3, 125, 2)
	require.NoError(t, err)
	require.InDelta(t, 0.5, floats.Norm(got[300:950], math.Inf(1)), 0.03)

	_, err = LowPass(tone, 3, 125, 3)
	require.NoError(t, err)

	_, err = LowPass(tone, 3, 125, 0)
	require.Error(t, err)
	_, err = LowPass(tone, 100, 125, 2)
	require.Error(t, err)
}

func TestMinMax(t *testing.T) {
	require.Equal(t, []float64{-1, 0, 1}, MinMax([]float64{2, 3, 4}))
	require.Equal(t, []float64{0, 0}, MinMax([]float64{7, 7}))
	require.Empty(t, MinMax(nil))
	require.InDelta(t, 0.5, MSE([]float64{1, 2}, []float64{0, 2}), 1e-12)
}

func TestProcess(t *testing.T) {
	opt := DefaultOptions()
	abp := beats(900, 50, 80, 40)
	ppg := beats(900, 60, 0, 1)

	res, err := Process(abp, ppg, opt)
	require.NoError(t, err)

	require.InDelta(t, 10, res.Gap, 2)
	require.Len(t, res.ABP, opt.Samples)
	require.Len(t, res.PPG, opt.Samples)
	require.GreaterOrEqual(t, len(res.Systolic), 6)
	require.NotEmpty(t, res.Diastolic)
	require.Greater(t, res.SBP, res.DBP)
	require.InDelta(t, 60*opt.SampleRate/beatPeriod, res.HeartRate, 3)
	require.False(t, math.IsNaN(res.MSE))
	require.GreaterOrEqual(t, res.MSE, 0.0)

	for i := 1; i < len(res.Systolic); i++ {
		require.Greater(t, res.Systolic[i], res.Systolic[i-1])
	}
	for _, p := range res.PPGPeaks {
		require.True(t, p >= 0 && p < opt.Samples)
	}
}

func TestProcessSkips(t *testing.T) {
	opt := DefaultOptions()

	_, err := Process(make([]float64, 10), make([]float64, 10), opt)
	require.True(t, errors.Is(err, ErrTooShort))
	require.True(t, Skippable(err))

	abp := beats(800, 50, 80, 40)
	abp[3] = math.NaN()
	_, err = Process(abp, beats(800, 60, 0, 1), opt)
	require.True(t, errors.Is(err, ErrDegenerate))

	// Too few beats in the window.
	slow := make([]float64, 800)
	for i := range slow {
		slow[i] = math.Sin(2 * math.Pi * 0.2 * float64(i) / opt.SampleRate)
	}
	_, err = Process(slow, slow, opt)
	require.Error(t, err)
	require.True(t, Skippable(err))
	require.True(t, errors.Is(err, align.ErrInsufficientPeaks))
}

func TestRunFromSlices(t *testing.T) {
	opt := DefaultOptions()

	var segments []string
	var abp, ppg []float64
	add := func(id string, a, p []float64) {
		for i := range a {
			segments = append(segments, id)
			abp = append(abp, a[i])
			ppg = append(ppg, p[i])
		}
	}
	add("b", beats(800, 50, 80, 40), beats(800, 55, 0, 1))
	add("short", make([]float64, 20), make([]float64, 20))
	add("a", beats(800, 40, 90, 30), beats(800, 52, 0, 1))

	results, err := RunFromSlices(segments, abp, ppg, opt, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "b", results[0].Segment)
	require.Equal(t, "a", results[1].Segment)
	require.InDelta(t, 5, results[0].Gap, 2)
	require.InDelta(t, 12, results[1].Gap, 2)

	_, err = RunFromSlices(segments[:3], abp, ppg, opt, 1)
	require.Error(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteTSV(&buf, results))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "segment\tgap\t"))
	require.True(t, strings.HasPrefix(lines[1], "b\t"))
}

func TestReadRows(t *testing.T) {
	var plain bytes.Buffer
	fmt.Fprintln(&plain, "segment\tabp\tppg")
	fmt.Fprintln(&plain, "s1\t80.5\t0.1")
	fmt.Fprintln(&plain, "s1\t81\t0.2")
	fmt.Fprintln(&plain, "s2\t79\t-0.3")

	rows, err := ReadRows(bytes.NewReader(plain.Bytes()))
	require.NoError(t, err)
	require.Equal(t, []Row{{"s1", 80.5, 0.1}, {"s1", 81, 0.2}, {"s2", 79, -0.3}}, rows)

	var zipped bytes.Buffer
	zw := gzip.NewWriter(&zipped)
	_, err = zw.Write([]byte("segment,abp,ppg\nx,1,2\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	rows, err = ReadRows(&zipped)
	require.NoError(t, err)
	require.Equal(t, []Row{{"x", 1, 2}}, rows)
}

func TestPlotSegment(t *testing.T) {
	res, err := Process(beats(800, 50, 80, 40), beats(800, 58, 0, 1), DefaultOptions())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, PlotSegment(&buf, res))
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")))
}

func TestPlotSegmentKeepsFullRange(t *testing.T) {
	n := 500
	abp := make([]float64, n)
	for i := range abp {
		abp[i] = math.Sin(2 * math.Pi * float64(i) / 125)
	}

	var buf bytes.Buffer
	require.NoError(t, PlotSegment(&buf, Result{ABP: abp, PPG: make([]float64, n)}))

	img, err := png.Decode(&buf)
	require.NoError(t, err)

	// Rows holding the red ABP trace.
	bounds := img.Bounds()
	top, bottom := bounds.Max.Y, -1
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if r>>8 > 200 && g>>8 < 200 && b>>8 < 200 {
				if y < top {
					top = y
				}
				if y > bottom {
					bottom = y
				}
			}
		}
	}

	height := bounds.Dy()
	require.Greater(t, bottom, height/2, "trough of the trace is missing")
	require.Less(t, bottom, height-4, "trace runs off the bottom edge")
	require.Greater(t, top, 3, "trace runs off the top edge")
	require.Less(t, top, height/2, "crest of the trace is missing")
}
