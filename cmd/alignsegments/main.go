// alignsegments reads a long-format file of paired arterial pressure and
// photoplethysmogram samples (columns segment, abp, ppg), aligns each
// segment's PPG to its ABP by their beat peaks, and prints one tab-delimited
// summary line per usable segment.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"cloud.google.com/go/storage"
	"github.com/carbocation/vid2bp"
	"github.com/carbocation/vid2bp/compileinfo"
	"github.com/carbocation/vid2bp/segment"
)

func main() {
	compileinfo.Log()

	var input, plotFolder string
	var concurrency int
	opt := segment.DefaultOptions()

	flag.StringVar(&input, "input", "", "Path to the signal file (comma or tab delimited, optionally compressed). May be a gs:// path.")
	flag.StringVar(&plotFolder, "plot_folder", "", "(Optional) Folder where a PNG of each aligned segment will be written.")
	flag.IntVar(&concurrency, "concurrency", runtime.NumCPU(), "Number of segments to process at once.")
	flag.Float64Var(&opt.SampleRate, "fs", opt.SampleRate, "Sampling rate, in Hz.")
	flag.IntVar(&opt.Samples, "samples", opt.Samples, "Number of samples taken from the start of each segment. Shorter segments are skipped.")
	flag.Float64Var(&opt.CutoffHz, "cutoff", opt.CutoffHz, "Low-pass filter cutoff, in Hz.")
	flag.IntVar(&opt.FilterOrder, "order", opt.FilterOrder, "Low-pass filter order.")
	flag.Float64Var(&opt.WindowSec, "window", opt.WindowSec, "Rolling mean window for peak detection, in seconds.")
	flag.Float64Var(&opt.MAPerc, "ma_perc", opt.MAPerc, "Percentage of the mean rolling mean added to the peak threshold.")
	flag.Parse()

	if input == "" {
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := run(input, plotFolder, opt, concurrency); err != nil {
		log.Fatalln(err)
	}
}

func run(input, plotFolder string, opt segment.Options, concurrency int) error {
	started := time.Now()

	var client *storage.Client
	if vid2bp.IsGoogleStoragePath(input) {
		var err error
		client, err = storage.NewClient(context.Background())
		if err != nil {
			return err
		}
		defer client.Close()
	}

	results, err := segment.RunFromFile(input, client, opt, concurrency)
	if err != nil {
		return err
	}

	if err := segment.WriteTSV(os.Stdout, results); err != nil {
		return err
	}

	if plotFolder != "" {
		for _, res := range results {
			if err := plot(plotFolder, res); err != nil {
				return err
			}
		}
	}

	log.Printf("Processed %d usable segments in %s\n", len(results), time.Since(started))

	return nil
}

func plot(folder string, res segment.Result) error {
	outFile, err := os.Create(filepath.Join(folder, fmt.Sprintf("%s.png", res.Segment)))
	if err != nil {
		return err
	}
	defer outFile.Close()

	return segment.PlotSegment(outFile, res)
}
