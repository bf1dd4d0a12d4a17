package segment

import (
	"bytes"
	"io"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// PlotSegment renders the aligned ABP and PPG traces of res as a PNG, with
// systolic peaks, diastolic troughs and PPG peaks marked.
func PlotSegment(w io.Writer, res Result) error {
	graph := chart.Chart{
		Width:  1024,
		Height: 256,
		XAxis: chart.XAxis{
			Style: chart.Hidden(),
		},
		YAxis: chart.YAxis{
			Style: chart.Hidden(),
			// Process scales both traces onto [-1, 1].
			Range: &chart.ContinuousRange{Min: -1.05, Max: 1.05},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "abp",
				XValues: intSeq(len(res.ABP)),
				YValues: res.ABP,
				Style:   chart.Style{StrokeColor: drawing.ColorRed},
			},
			chart.ContinuousSeries{
				Name:    "ppg",
				XValues: intSeq(len(res.PPG)),
				YValues: res.PPG,
				Style:   chart.Style{StrokeColor: drawing.ColorBlue},
			},
		},
	}

	// go-chart refuses to render a series without points.
	for _, m := range []chart.ContinuousSeries{
		markers(res.ABP, res.Systolic, drawing.ColorRed),
		markers(res.ABP, res.Diastolic, drawing.ColorBlack),
		markers(res.PPG, res.PPGPeaks, drawing.ColorBlue),
	} {
		if len(m.XValues) > 0 {
			graph.Series = append(graph.Series, m)
		}
	}

	// Render to a byte buffer
	buffer := bytes.NewBuffer([]byte{})
	if err := graph.Render(chart.PNG, buffer); err != nil {
		return err
	}

	_, err := buffer.WriteTo(w)
	return err
}

func markers(x []float64, idx []int, color drawing.Color) chart.ContinuousSeries {
	xs := make([]float64, 0, len(idx))
	ys := make([]float64, 0, len(idx))
	for _, i := range idx {
		if i < 0 || i >= len(x) {
			continue
		}
		xs = append(xs, float64(i))
		ys = append(ys, x[i])
	}

	return chart.ContinuousSeries{
		XValues: xs,
		YValues: ys,
		Style: chart.Style{
			StrokeWidth: chart.Disabled,
			DotWidth:    3,
			DotColor:    color,
		},
	}
}

func intSeq(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}
