package peaks

import (
	"github.com/montanaflynn/stats"
)

// Intervals returns the beat-to-beat intervals in milliseconds between
// consecutive peaks and their population standard deviation.
func Intervals(peaks []int, fs float64) ([]float64, float64, error) {
	if len(peaks) < 2 {
		return nil, 0, nil
	}
	rr := make([]float64, 0, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		rr = append(rr, float64(peaks[i]-peaks[i-1])/fs*1000)
	}
	sd, err := stats.StandardDeviationPopulation(rr)
	if err != nil {
		return rr, 0, err
	}
	return rr, sd, nil
}
