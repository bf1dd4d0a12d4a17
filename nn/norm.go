package nn

import (
	"fmt"

	"github.com/chewxy/math32"
	"golang.org/x/exp/rand"
)

const normEpsilon = 1e-5

// LayerNorm normalizes the trailing axis and applies a learned affine map.
type LayerNorm struct {
	Dim   int
	Gamma []float32
	Beta  []float32
}

func NewLayerNorm(dim int) *LayerNorm {
	return &LayerNorm{Dim: dim, Gamma: make([]float32, dim), Beta: make([]float32, dim)}
}

func (n *LayerNorm) Init(rand.Source) {
	fillConst(n.Gamma, 1)
	fillConst(n.Beta, 0)
}

func (n *LayerNorm) Parameters(prefix string) []Parameter {
	return []Parameter{
		{Name: JoinName(prefix, "weight"), Shape: []int{n.Dim}, Data: n.Gamma},
		{Name: JoinName(prefix, "bias"), Shape: []int{n.Dim}, Data: n.Beta},
	}
}

func (n *LayerNorm) Forward(x *Tensor) (*Tensor, error) {
	if x.Rank() < 1 || x.Dim(-1) != n.Dim {
		return nil, fmt.Errorf("%w: layernorm expects [..., %d], got %v", ErrShape, n.Dim, x.Shape)
	}
	out := New(x.Shape...)
	n.apply(x.Data, out.Data)
	return out, nil
}

func (n *LayerNorm) apply(src, dst []float32) {
	d := n.Dim
	for r := 0; r < len(src)/d; r++ {
		row := src[r*d : (r+1)*d]
		var mean float32
		for _, v := range row {
			mean += v
		}
		mean /= float32(d)
		var variance float32
		for _, v := range row {
			variance += (v - mean) * (v - mean)
		}
		variance /= float32(d)
		inv := 1 / math32.Sqrt(variance+normEpsilon)

		o := dst[r*d : (r+1)*d]
		for i, v := range row {
			o[i] = (v-mean)*inv*n.Gamma[i] + n.Beta[i]
		}
	}
}

// BatchNorm2D applies per-channel inference-time normalization to
// [N, C, H, W] inputs using stored running statistics.
type BatchNorm2D struct {
	Channels    int
	Gamma       []float32
	Beta        []float32
	RunningMean []float32
	RunningVar  []float32
}

func NewBatchNorm2D(channels int) *BatchNorm2D {
	return &BatchNorm2D{
		Channels:    channels,
		Gamma:       make([]float32, channels),
		Beta:        make([]float32, channels),
		RunningMean: make([]float32, channels),
		RunningVar:  make([]float32, channels),
	}
}

func (n *BatchNorm2D) Init(rand.Source) {
	fillConst(n.Gamma, 1)
	fillConst(n.Beta, 0)
	fillConst(n.RunningMean, 0)
	fillConst(n.RunningVar, 1)
}

func (n *BatchNorm2D) Parameters(prefix string) []Parameter {
	shape := []int{n.Channels}
	return []Parameter{
		{Name: JoinName(prefix, "weight"), Shape: shape, Data: n.Gamma},
		{Name: JoinName(prefix, "bias"), Shape: shape, Data: n.Beta},
		{Name: JoinName(prefix, "running_mean"), Shape: shape, Data: n.RunningMean},
		{Name: JoinName(prefix, "running_var"), Shape: shape, Data: n.RunningVar},
	}
}

func (n *BatchNorm2D) Forward(x *Tensor) (*Tensor, error) {
	if x.Rank() != 4 || x.Shape[1] != n.Channels {
		return nil, fmt.Errorf("%w: batchnorm expects [N, %d, H, W], got %v", ErrShape, n.Channels, x.Shape)
	}
	inner := x.Shape[2] * x.Shape[3]
	out := New(x.Shape...)
	for b := 0; b < x.Shape[0]; b++ {
		for c := 0; c < n.Channels; c++ {
			scale := n.Gamma[c] / math32.Sqrt(n.RunningVar[c]+normEpsilon)
			shift := n.Beta[c] - n.RunningMean[c]*scale
			off := (b*n.Channels + c) * inner
			for i := off; i < off+inner; i++ {
				out.Data[i] = x.Data[i]*scale + shift
			}
		}
	}
	return out, nil
}
