// vid2bp builds the multi-axis video fusion model and runs one forward pass
// over a clip, printing the per-frame signal it produces. A clip is a video
// file (decoding requires ffmpeg, see
// https://github.com/unixpickle/ffmpego#installation), a folder of frames,
// or a tar.gz of frames. Any of them may live on Google Storage.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/carbocation/vid2bp"
	"github.com/carbocation/vid2bp/compileinfo"
	"github.com/carbocation/vid2bp/model"
	"github.com/carbocation/vid2bp/nn"
	"github.com/carbocation/vid2bp/video"
)

// Safe for concurrent use by multiple goroutines so we'll make this a global
var client *storage.Client

func main() {
	compileinfo.Log()

	var input, views, configPath, policyName, gateName string
	var seed uint64
	var listPolicies bool
	flag.StringVar(&input, "input", "", "Path to a video, a folder of frames, or a .tar.gz of frames. May be a gs:// path.")
	flag.StringVar(&views, "views", "", "(Optional) Comma-separated list of clips, one per camera view, to run through the multi-view model instead of -input.")
	flag.StringVar(&configPath, "config", "", "(Optional) JSON file with the model configuration. Unset fields keep their defaults.")
	flag.StringVar(&policyName, "policy", "", "(Optional) Fusion policy, by name or index. Overrides the configuration.")
	flag.StringVar(&gateName, "gate", "", "(Optional) Gate mode: 'direct' or 'residual'. Overrides the configuration.")
	flag.Uint64Var(&seed, "seed", 0, "(Optional) Initialization seed. Overrides the configuration if nonzero.")
	flag.BoolVar(&listPolicies, "policies", false, "Print the fusion policies and exit.")
	flag.Parse()

	if listPolicies {
		for _, p := range model.Policies() {
			fmt.Printf("%d\t%s\n", int(p), p)
		}
		return
	}

	if input == "" && views == "" {
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := buildConfig(configPath, policyName, gateName, seed)
	if err != nil {
		log.Fatalln(err)
	}

	// Initialize the Google Storage client, but only if our inputs point to
	// Google Storage.
	for _, path := range append(strings.Split(views, ","), input) {
		if vid2bp.IsGoogleStoragePath(path) {
			client, err = storage.NewClient(context.Background())
			if err != nil {
				log.Fatalln(err)
			}
			break
		}
	}

	started := time.Now()
	if views != "" {
		err = runMultiView(strings.Split(views, ","), cfg)
	} else {
		err = run(input, cfg)
	}
	if err != nil {
		log.Fatalln(err)
	}

	log.Println("Completed in", time.Since(started))
}

func buildConfig(configPath, policyName, gateName string, seed uint64) (model.Config, error) {
	cfg := model.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = model.ParseConfigFromPath(configPath); err != nil {
			return cfg, err
		}
	}

	if policyName != "" {
		p, err := model.ParsePolicy(policyName)
		if err != nil {
			return cfg, err
		}
		cfg.Policy = p
	}

	if gateName != "" {
		if err := cfg.Gate.UnmarshalText([]byte(gateName)); err != nil {
			return cfg, err
		}
	}

	if seed != 0 {
		cfg.Seed = seed
	}

	return cfg, cfg.Validate()
}

func loadClips(path string, cfg model.Config) (*nn.Tensor, error) {
	frames, err := video.LoadFrames(path, client, 0)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded %d frames from %s\n", len(frames), path)

	return video.Clips(frames, cfg.Length, cfg.Height, cfg.Width)
}

func run(input string, cfg model.Config) error {
	m, err := model.New(cfg)
	if err != nil {
		return err
	}
	log.Printf("Built the %s model with %d parameters\n", cfg.Policy, nn.CountParameters(m.Parameters("")))

	x, err := loadClips(input, cfg)
	if err != nil {
		return err
	}

	y, err := m.Forward(x)
	if err != nil {
		return err
	}

	fmt.Println(strings.Join([]string{"clip", "frame", "value"}, "\t"))
	printSignal(y)

	return nil
}

func runMultiView(paths []string, cfg model.Config) error {
	cfgs := make([]model.Config, len(paths))
	for i := range cfgs {
		cfgs[i] = cfg
	}

	mv, err := model.NewMultiView(cfgs, model.DefaultTransformerConfig(), cfg.Seed)
	if err != nil {
		return err
	}
	log.Printf("Built a %d-view model with %d parameters\n", len(paths), nn.CountParameters(mv.Parameters("")))

	inputs := make([]*nn.Tensor, len(paths))
	for i, path := range paths {
		if inputs[i], err = loadClips(path, cfg); err != nil {
			return err
		}
		if i > 0 && inputs[i].Shape[0] != inputs[0].Shape[0] {
			return fmt.Errorf("%s yields %d clips but %s yields %d", path, inputs[i].Shape[0], paths[0], inputs[0].Shape[0])
		}
	}

	outputs, err := mv.Forward(inputs)
	if err != nil {
		return err
	}

	// Only the fused signal is printed.
	fmt.Println(strings.Join([]string{"clip", "frame", "value"}, "\t"))
	printSignal(outputs[len(outputs)-1])

	return nil
}

func printSignal(y *nn.Tensor) {
	n, l := y.Shape[0], y.Shape[1]
	for b := 0; b < n; b++ {
		for t := 0; t < l; t++ {
			fmt.Printf("%d\t%d\t%f\n", b, t, y.Data[b*l+t])
		}
	}
}
