// Package peaks finds systolic, diastolic and pulse peaks in sampled
// physiological signals with a rolling-mean threshold.
package peaks

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultSampleRate is the MIMIC waveform rate in Hz.
	DefaultSampleRate = 125.0

	// DefaultMAPerc is the percentage by which the rolling mean is raised
	// before comparing.
	DefaultMAPerc = 20.0

	// DefaultWindowSec is the rolling-mean window used for beat detection.
	DefaultWindowSec = 0.75
)

var ErrWindow = errors.New("invalid rolling window")

// Detector holds the parameters shared by every detection call.
type Detector struct {
	SampleRate float64
	MAPerc     float64
}

// Default returns a detector at 125 Hz raising the rolling mean by 20%.
func Default() Detector {
	return Detector{SampleRate: DefaultSampleRate, MAPerc: DefaultMAPerc}
}

// RollingMean averages x over windows of int(windowSec*fs) samples. The
// len(x)-w+1 window means are centered by repeating the first and last mean,
// so the result always has len(x) entries.
func RollingMean(x []float64, windowSec, fs float64) ([]float64, error) {
	w := int(windowSec * fs)
	if w < 1 {
		return nil, fmt.Errorf("%w: %g s at %g Hz is less than one sample", ErrWindow, windowSec, fs)
	}
	if w > len(x) {
		return nil, fmt.Errorf("%w: %d-sample window exceeds %d-sample signal", ErrWindow, w, len(x))
	}

	means := make([]float64, 0, len(x)-w+1)
	var sum float64
	for i, v := range x {
		sum += v
		if i >= w {
			sum -= x[i-w]
		}
		if i >= w-1 {
			means = append(means, sum/float64(w))
		}
	}

	out := make([]float64, 0, len(x))
	for i := 0; i < (len(x)-len(means))/2; i++ {
		out = append(out, means[0])
	}
	out = append(out, means...)
	for len(out) < len(x) {
		out = append(out, means[len(means)-1])
	}
	return out, nil
}

// Detect returns the index of the maximum of every contiguous run of samples
// lying above rolMean raised by maPerc percent of its average. Ties resolve
// to the earliest sample, so the result is strictly increasing. Unlike
// heartpy's detect_peaks, a run never borrows the last sample of the run
// before it and a single-sample first run is kept.
func Detect(x, rolMean []float64, maPerc float64) ([]int, error) {
	if len(x) != len(rolMean) {
		return nil, fmt.Errorf("signal has %d samples but rolling mean has %d", len(x), len(rolMean))
	}
	if len(x) == 0 {
		return nil, nil
	}

	raise := stat.Mean(rolMean, nil) / 100 * maPerc

	var out []int
	best := -1
	for i, v := range x {
		if v > rolMean[i]+raise {
			if best < 0 || v > x[best] {
				best = i
			}
			continue
		}
		if best >= 0 {
			out = append(out, best)
			best = -1
		}
	}
	if best >= 0 {
		out = append(out, best)
	}
	return out, nil
}

// Peaks detects maxima of x with a windowSec rolling mean.
func (d Detector) Peaks(x []float64, windowSec float64) ([]int, error) {
	rol, err := RollingMean(x, windowSec, d.SampleRate)
	if err != nil {
		return nil, err
	}
	return Detect(x, rol, d.MAPerc)
}

// Systolic returns the systolic peaks of an arterial pressure trace.
func (d Detector) Systolic(abp []float64, windowSec float64) ([]int, error) {
	return d.Peaks(abp, windowSec)
}

// Diastolic returns the systolic peaks of the negated trace.
func (d Detector) Diastolic(abp []float64, windowSec float64) ([]int, error) {
	neg := make([]float64, len(abp))
	for i, v := range abp {
		neg[i] = -v
	}
	return d.Peaks(neg, windowSec)
}

// PPG returns the pulse peaks of a photoplethysmogram.
func (d Detector) PPG(ppg []float64, windowSec float64) ([]int, error) {
	return d.Peaks(ppg, windowSec)
}

// WindowSweep runs Peaks once per window length in [start, end) spaced by
// step, returning one peak list per window.
func (d Detector) WindowSweep(x []float64, start, end, step float64) ([][]int, error) {
	if step <= 0 || end < start {
		return nil, fmt.Errorf("%w: sweep [%g, %g) by %g", ErrWindow, start, end, step)
	}
	var out [][]int
	for i := 0; ; i++ {
		w := start + float64(i)*step
		if w >= end {
			break
		}
		p, err := d.Peaks(x, w)
		if err != nil {
			return nil, fmt.Errorf("window %g s: %w", w, err)
		}
		out = append(out, p)
	}
	return out, nil
}
