package model

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/carbocation/pfx"
	"github.com/carbocation/vid2bp"
	"github.com/carbocation/vid2bp/maxvit"
)

// Config describes the input volume and every constant the fusion model
// derives its reshapes and scale factors from.
type Config struct {
	Length   int `json:"length"`
	Height   int `json:"height"`
	Width    int `json:"width"`
	Channels int `json:"channels"`

	Encoder maxvit.Config `json:"encoder"`

	// MainGrid is the (rows, cols) grid the pooled main-axis map is viewed
	// as. AxisGrid is the (rows, cols) grid the flattened ptt and bvp maps
	// are viewed as.
	MainGrid [2]int `json:"main_grid"`
	AxisGrid [2]int `json:"axis_grid"`

	Main  maxvit.Geometry `json:"main"`
	PTT   maxvit.Geometry `json:"ptt"`
	BVP   maxvit.Geometry `json:"bvp"`
	Fused maxvit.Geometry `json:"fused"`

	// ReadoutKernel is the width of the gating 1-D convolution in the head.
	ReadoutKernel int `json:"readout_kernel"`

	Policy Policy   `json:"policy"`
	Gate   GateMode `json:"gate"`
	Seed   uint64   `json:"seed"`
}

// DefaultConfig returns the 32-frame, 128x128 configuration.
func DefaultConfig() Config {
	return Config{
		Length:   32,
		Height:   128,
		Width:    128,
		Channels: 3,
		Encoder:  maxvit.DefaultConfig(),
		MainGrid: [2]int{4, 4},
		AxisGrid: [2]int{4, 4},
		Main: maxvit.Geometry{
			Kernel:   [2]int{1, 32},
			Dilation: [2]int{1, 32},
			Stride:   [2]int{1, 1},
		},
		PTT: maxvit.Geometry{
			Kernel:   [2]int{1, 8},
			Dilation: [2]int{1, 32},
			Stride:   [2]int{1, 2},
		},
		BVP: maxvit.Geometry{
			Kernel:   [2]int{1, 8},
			Dilation: [2]int{1, 32},
			Stride:   [2]int{1, 2},
		},
		Fused:         maxvit.Square(3, 1, 1),
		ReadoutKernel: 5,
		Policy:        PolicyOuterResidual,
		Gate:          GateDirect,
		Seed:          1,
	}
}

// Validate checks the configuration in isolation. Checks that depend on the
// encoders' output sizes happen when the model is built.
func (c Config) Validate() error {
	if c.Length < 1 || c.Height < 1 || c.Width < 1 || c.Channels < 1 {
		return fmt.Errorf("%w: volume dimensions must be positive, got %dx%dx%dx%d", ErrConfig, c.Channels, c.Length, c.Height, c.Width)
	}
	for _, v := range []struct {
		name string
		n    int
	}{{"length", c.Length}, {"height", c.Height}, {"width", c.Width}} {
		if v.n%stemReduction != 0 {
			return fmt.Errorf("%w: %s %d is not divisible by the stem reduction %d", ErrConfig, v.name, v.n, stemReduction)
		}
	}
	if c.MainGrid[0] < 1 || c.MainGrid[1] < 1 || c.AxisGrid[0] < 1 || c.AxisGrid[1] < 1 {
		return fmt.Errorf("%w: grids must be positive, got main %v axis %v", ErrConfig, c.MainGrid, c.AxisGrid)
	}
	if c.ReadoutKernel < 1 || c.ReadoutKernel%2 == 0 {
		return fmt.Errorf("%w: readout kernel must be odd, got %d", ErrConfig, c.ReadoutKernel)
	}
	if err := c.Encoder.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if !c.Policy.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPolicy, int(c.Policy))
	}
	if !c.Gate.Valid() {
		return fmt.Errorf("%w: unknown gate mode %d", ErrConfig, int(c.Gate))
	}
	return nil
}

// ParseConfigFromPath reads a JSON model configuration. Fields absent from
// the file keep their DefaultConfig values.
func ParseConfigFromPath(path string) (Config, error) {
	out := DefaultConfig()

	f, err := os.Open(vid2bp.ExpandHome(path))
	if err != nil {
		return out, pfx.Err(err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&out); err != nil {
		if e, ok := err.(*json.SyntaxError); ok {
			log.Printf("syntax error at byte offset %d", e.Offset)
		}
		return out, pfx.Err(err)
	}

	return out, out.Validate()
}
