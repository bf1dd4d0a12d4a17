package model

import (
	"fmt"

	"github.com/carbocation/vid2bp/nn"
	"golang.org/x/exp/rand"
)

// GateMode selects what the spatial gate hands to the next stage.
type GateMode int

const (
	// GateDirect passes the single-channel gate map itself onward.
	GateDirect GateMode = iota
	// GateResidual passes gate*x + x, keeping every feature channel.
	GateResidual
)

var gateModeNames = map[GateMode]string{GateDirect: "direct", GateResidual: "residual"}

func (g GateMode) Valid() bool {
	_, ok := gateModeNames[g]
	return ok
}

func (g GateMode) String() string {
	if name, ok := gateModeNames[g]; ok {
		return name
	}
	return fmt.Sprintf("GateMode(%d)", int(g))
}

func (g GateMode) MarshalText() ([]byte, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("%w: unknown gate mode %d", ErrConfig, int(g))
	}
	return []byte(g.String()), nil
}

func (g *GateMode) UnmarshalText(b []byte) error {
	for mode, name := range gateModeNames {
		if name == string(b) {
			*g = mode
			return nil
		}
	}
	return fmt.Errorf("%w: unknown gate mode %q", ErrConfig, b)
}

// channels returns how many channels survive the gate for a feature map of
// dim channels.
func (g GateMode) channels(dim int) int {
	if g == GateResidual {
		return dim
	}
	return 1
}

// SpatialGate derives a per-position weight in (0, 1) from the channel mean
// and max of a feature map.
type SpatialGate struct {
	Mode GateMode
	Conv *nn.Conv2D
}

func NewSpatialGate(mode GateMode) (*SpatialGate, error) {
	conv, err := nn.NewConv2D(2, 1, [2]int{3, 3}, [2]int{1, 1}, [2]int{1, 1}, [2]int{1, 1}, 1, false)
	if err != nil {
		return nil, err
	}
	return &SpatialGate{Mode: mode, Conv: conv}, nil
}

func (g *SpatialGate) Init(src rand.Source) { g.Conv.Init(src) }

func (g *SpatialGate) Parameters(prefix string) []nn.Parameter {
	return g.Conv.Parameters(nn.JoinName(prefix, "conv"))
}

// Map computes the [N, 1, H, W] gate for x [N, C, H, W] without applying it.
func (g *SpatialGate) Map(x *nn.Tensor) (*nn.Tensor, error) {
	pooled, err := nn.ChannelMeanMax(x)
	if err != nil {
		return nil, err
	}
	logits, err := g.Conv.Forward(pooled)
	if err != nil {
		return nil, err
	}
	return nn.Apply(logits, nn.Sigmoid), nil
}

// Forward computes the gate and applies it according to Mode.
func (g *SpatialGate) Forward(x *nn.Tensor) (*nn.Tensor, error) {
	gate, err := g.Map(x)
	if err != nil {
		return nil, err
	}
	if g.Mode == GateDirect {
		return gate, nil
	}
	gated, err := nn.MulBroadcastChannel(x, gate)
	if err != nil {
		return nil, err
	}
	return nn.Add(gated, x)
}
