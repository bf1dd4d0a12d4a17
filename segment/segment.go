// Package segment prepares paired arterial pressure (ABP) and
// photoplethysmogram (PPG) recordings: it filters and scales a fixed window,
// finds beat landmarks, registers the PPG against the ABP and scores how well
// their trends agree.
package segment

import (
	"errors"
	"fmt"

	"github.com/carbocation/vid2bp/align"
	"github.com/carbocation/vid2bp/peaks"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrTooShort   = errors.New("segment too short")
	ErrDegenerate = errors.New("degenerate signal")
)

// Options controls Process. The zero value is not usable; start from
// DefaultOptions.
type Options struct {
	SampleRate  float64
	Samples     int     // window taken from the start of each recording
	CutoffHz    float64 // low-pass cutoff
	FilterOrder int
	WindowSec   float64 // rolling window for beat detection
	MAPerc      float64
	TrendBeats  float64 // trend window, in systolic intervals
	MinSystolic int     // fewer systolic peaks than this skips the segment
}

func DefaultOptions() Options {
	return Options{
		SampleRate:  peaks.DefaultSampleRate,
		Samples:     750,
		CutoffHz:    3,
		FilterOrder: 2,
		WindowSec:   peaks.DefaultWindowSec,
		MAPerc:      peaks.DefaultMAPerc,
		TrendBeats:  3,
		MinSystolic: 3,
	}
}

// Result summarizes one processed segment.
type Result struct {
	Segment string

	Gap      int
	TrendSec float64 // rolling window used for the trend comparison
	MSE      float64 // between the scaled ABP and PPG trends

	SBP       float64 // mean raw ABP at systolic peaks
	DBP       float64 // mean raw ABP at diastolic troughs
	HeartRate float64 // beats per minute from systolic intervals
	RRSD      float64 // population SD of systolic intervals, ms

	// Scaled ABP, aligned PPG and landmarks in the aligned frame.
	ABP       []float64
	PPG       []float64
	Systolic  []int
	Diastolic []int
	PPGPeaks  []int
}

// Skippable reports whether err marks a segment that should be passed over
// rather than aborting a run.
func Skippable(err error) bool {
	return errors.Is(err, ErrTooShort) ||
		errors.Is(err, ErrDegenerate) ||
		errors.Is(err, align.ErrInsufficientPeaks) ||
		errors.Is(err, peaks.ErrWindow)
}

// Process runs the full preparation pipeline over one ABP/PPG pair.
func Process(abp, ppg []float64, opt Options) (Result, error) {
	var out Result

	n := opt.Samples
	if len(abp) < n || len(ppg) < n {
		return out, fmt.Errorf("%w: need %d samples, have %d ABP and %d PPG", ErrTooShort, n, len(abp), len(ppg))
	}
	rawABP := abp[:n]
	if floats.HasNaN(rawABP) || floats.HasNaN(ppg[:n]) {
		return out, fmt.Errorf("%w: NaN samples", ErrDegenerate)
	}

	fABP, err := LowPass(rawABP, opt.CutoffHz, opt.SampleRate, opt.FilterOrder)
	if err != nil {
		return out, err
	}
	fPPG, err := LowPass(ppg[:n], opt.CutoffHz, opt.SampleRate, opt.FilterOrder)
	if err != nil {
		return out, err
	}
	sABP, sPPG := MinMax(fABP), MinMax(fPPG)
	if floats.HasNaN(sABP) || floats.HasNaN(sPPG) {
		return out, fmt.Errorf("%w: NaN after filtering", ErrDegenerate)
	}

	det := peaks.Detector{SampleRate: opt.SampleRate, MAPerc: opt.MAPerc}
	sbp, err := det.Systolic(sABP, opt.WindowSec)
	if err != nil {
		return out, err
	}
	dbp, err := det.Diastolic(sABP, opt.WindowSec)
	if err != nil {
		return out, err
	}
	ppgPeaks, err := det.PPG(sPPG, opt.WindowSec)
	if err != nil {
		return out, err
	}
	if len(sbp) < opt.MinSystolic || len(sbp) < 3 {
		return out, fmt.Errorf("%w: %d systolic peaks", align.ErrInsufficientPeaks, len(sbp))
	}
	if len(dbp) == 0 {
		return out, fmt.Errorf("%w: no diastolic troughs", align.ErrInsufficientPeaks)
	}

	m, err := align.Match(sABP, sPPG, sbp, ppgPeaks)
	if err != nil {
		return out, err
	}

	out.Gap = m.Gap
	out.ABP = m.Reference
	out.PPG = m.Candidate
	out.Systolic = sbp
	out.Diastolic = dbp
	out.PPGPeaks = align.ShiftPeaks(ppgPeaks, m.Gap, n)

	// The trend window spans TrendBeats systolic intervals.
	out.TrendSec = float64(sbp[2]-sbp[1]) * opt.TrendBeats / opt.SampleRate
	abpTrend, err := peaks.RollingMean(m.Reference, out.TrendSec, opt.SampleRate)
	if err != nil {
		return out, err
	}
	ppgTrend, err := peaks.RollingMean(m.Candidate, out.TrendSec, opt.SampleRate)
	if err != nil {
		return out, err
	}
	out.MSE = MSE(MinMax(abpTrend), MinMax(ppgTrend))

	out.SBP = stat.Mean(gather(rawABP, sbp), nil)
	out.DBP = stat.Mean(gather(rawABP, dbp), nil)

	rr, rrsd, err := peaks.Intervals(sbp, opt.SampleRate)
	if err != nil {
		return out, err
	}
	out.RRSD = rrsd
	if mean := stat.Mean(rr, nil); mean > 0 {
		out.HeartRate = 60000 / mean
	}

	return out, nil
}
