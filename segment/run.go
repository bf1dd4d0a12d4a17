package segment

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"github.com/carbocation/vid2bp"
	"github.com/gocarina/gocsv"
	"golang.org/x/sync/errgroup"
)

// Row is one sample of a long-format signal file: one line per sample,
// grouped by segment identifier.
type Row struct {
	Segment string  `csv:"segment"`
	ABP     float64 `csv:"abp"`
	PPG     float64 `csv:"ppg"`
}

// ReadRows parses a delimited signal file. Compressed input is detected
// from its leading bytes.
func ReadRows(r io.Reader) ([]Row, error) {
	rc, err := vid2bp.MaybeDecompress(r)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer rc.Close()

	br := bufio.NewReader(rc)
	cr := csv.NewReader(br)
	cr.Comma = vid2bp.DetermineDelimiter(br)

	var rows []Row
	if err := gocsv.UnmarshalCSV(cr, &rows); err != nil {
		return nil, pfx.Err(err)
	}

	return rows, nil
}

// RunFromSlices processes each segment in the order it first appears. The
// i'th entries of the three slices describe the same sample. Segments that
// fail for data reasons are logged and left out; any other failure aborts
// the run. Up to concurrency segments are processed at once.
func RunFromSlices(segments []string, abp, ppg []float64, opt Options, concurrency int) ([]Result, error) {
	if len(segments) != len(abp) || len(abp) != len(ppg) {
		return nil, fmt.Errorf("All input slices must have the same length")
	}

	order := make([]string, 0)
	abpBySegment := make(map[string][]float64)
	ppgBySegment := make(map[string][]float64)
	for i, id := range segments {
		if _, exists := abpBySegment[id]; !exists {
			order = append(order, id)
		}
		abpBySegment[id] = append(abpBySegment[id], abp[i])
		ppgBySegment[id] = append(ppgBySegment[id], ppg[i])
	}

	results := make([]Result, len(order))
	kept := make([]bool, len(order))

	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, id := range order {
		g.Go(func() error {
			res, err := Process(abpBySegment[id], ppgBySegment[id], opt)
			if Skippable(err) {
				log.Printf("Skipping segment %s: %v\n", id, err)
				return nil
			} else if err != nil {
				return fmt.Errorf("segment %s: %w", id, err)
			}
			res.Segment = id
			results[i] = res
			kept[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(results))
	for i, res := range results {
		if kept[i] {
			out = append(out, res)
		}
	}

	return out, nil
}

// RunFromFile reads a local or gs:// signal file and processes every
// segment in it.
func RunFromFile(path string, client *storage.Client, opt Options, concurrency int) ([]Result, error) {
	f, _, err := vid2bp.MaybeOpenFromGoogleStorage(path, client)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := ReadRows(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	segments := make([]string, len(rows))
	abp := make([]float64, len(rows))
	ppg := make([]float64, len(rows))
	for i, row := range rows {
		segments[i] = row.Segment
		abp[i] = row.ABP
		ppg[i] = row.PPG
	}

	return RunFromSlices(segments, abp, ppg, opt, concurrency)
}

// WriteTSV writes one summary line per result, preceded by a header.
func WriteTSV(w io.Writer, results []Result) error {
	if _, err := fmt.Fprintln(w, strings.Join([]string{
		"segment",
		"gap",
		"trend_sec",
		"mse",
		"sbp",
		"dbp",
		"heart_rate",
		"rr_sd_ms",
		"n_systolic",
		"n_diastolic",
		"n_ppg_peaks"},
		"\t")); err != nil {
		return err
	}

	for _, v := range results {
		if _, err := fmt.Fprintf(w, "%s\t%d\t%f\t%f\t%f\t%f\t%f\t%f\t%d\t%d\t%d\n",
			v.Segment,
			v.Gap,
			v.TrendSec,
			v.MSE,
			v.SBP,
			v.DBP,
			v.HeartRate,
			v.RRSD,
			len(v.Systolic),
			len(v.Diastolic),
			len(v.PPGPeaks),
		); err != nil {
			return err
		}
	}

	return nil
}
