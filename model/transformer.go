package model

import (
	"fmt"
	"math"
	"strconv"

	"github.com/carbocation/vid2bp/nn"
	"golang.org/x/exp/rand"
)

// TransformerConfig sizes the sequence transformer that fuses per-view
// signals.
type TransformerConfig struct {
	Inputs      int `json:"inputs"`
	DModel      int `json:"d_model"`
	Heads       int `json:"heads"`
	Layers      int `json:"layers"`
	FeedForward int `json:"feed_forward"`
}

func DefaultTransformerConfig() TransformerConfig {
	return TransformerConfig{Inputs: 3, DModel: 128, Heads: 8, Layers: 6, FeedForward: 512}
}

// PositionalEncoding returns the [n, d] sinusoidal table: even features are
// sin(pos * w_i), odd features cos(pos * w_i), w_i = 10000^(-2i/d).
func PositionalEncoding(n, d int) []float32 {
	pe := make([]float32, n*d)
	for pos := 0; pos < n; pos++ {
		for i := 0; i < d; i += 2 {
			angle := float64(pos) * math.Exp(float64(i)*(-math.Log(10000.0)/float64(d)))
			pe[pos*d+i] = float32(math.Sin(angle))
			if i+1 < d {
				pe[pos*d+i+1] = float32(math.Cos(angle))
			}
		}
	}
	return pe
}

// EncoderLayer is a post-norm transformer encoder layer with a ReLU
// feed-forward block.
type EncoderLayer struct {
	Attn  *nn.MultiHeadAttention
	Norm1 *nn.LayerNorm
	Up    *nn.Linear
	Down  *nn.Linear
	Norm2 *nn.LayerNorm
}

func NewEncoderLayer(d, heads, ff int) (*EncoderLayer, error) {
	attn, err := nn.NewMultiHeadAttention(d, heads)
	if err != nil {
		return nil, err
	}
	return &EncoderLayer{
		Attn:  attn,
		Norm1: nn.NewLayerNorm(d),
		Up:    nn.NewLinear(d, ff, true),
		Down:  nn.NewLinear(ff, d, true),
		Norm2: nn.NewLayerNorm(d),
	}, nil
}

func (l *EncoderLayer) modules() []nn.Module {
	return []nn.Module{l.Attn, l.Norm1, l.Up, l.Down, l.Norm2}
}

func (l *EncoderLayer) Init(src rand.Source) {
	for _, m := range l.modules() {
		m.Init(src)
	}
}

func (l *EncoderLayer) Parameters(prefix string) []nn.Parameter {
	names := []string{"self_attn", "norm1", "linear1", "linear2", "norm2"}
	var out []nn.Parameter
	for i, m := range l.modules() {
		out = append(out, m.Parameters(nn.JoinName(prefix, names[i]))...)
	}
	return out
}

// Forward maps x [N, S, d] to a tensor of the same shape.
func (l *EncoderLayer) Forward(x *nn.Tensor) (*nn.Tensor, error) {
	a, err := l.Attn.Forward(x)
	if err != nil {
		return nil, err
	}
	if a, err = nn.Add(x, a); err != nil {
		return nil, err
	}
	if x, err = l.Norm1.Forward(a); err != nil {
		return nil, err
	}

	h, err := l.Up.Forward(x)
	if err != nil {
		return nil, err
	}
	if h, err = l.Down.Forward(nn.Apply(h, nn.ReLU)); err != nil {
		return nil, err
	}
	if h, err = nn.Add(x, h); err != nil {
		return nil, err
	}
	return l.Norm2.Forward(h)
}

// SequenceTransformer fuses [batch, Inputs, time] into [batch, time]: each
// time step's inputs are embedded, position-encoded, passed through the
// encoder stack and decoded to one value.
type SequenceTransformer struct {
	Config  TransformerConfig
	Embed   *nn.Linear
	Layers  []*EncoderLayer
	Decoder *nn.Linear
}

func NewSequenceTransformer(cfg TransformerConfig) (*SequenceTransformer, error) {
	if cfg.Inputs < 1 || cfg.DModel < 1 || cfg.FeedForward < 1 || cfg.Layers < 0 {
		return nil, fmt.Errorf("%w: transformer %+v", ErrConfig, cfg)
	}
	t := &SequenceTransformer{
		Config:  cfg,
		Embed:   nn.NewLinear(cfg.Inputs, cfg.DModel, true),
		Decoder: nn.NewLinear(cfg.DModel, 1, true),
	}
	for i := 0; i < cfg.Layers; i++ {
		l, err := NewEncoderLayer(cfg.DModel, cfg.Heads, cfg.FeedForward)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		t.Layers = append(t.Layers, l)
	}
	return t, nil
}

func (t *SequenceTransformer) Init(src rand.Source) {
	t.Embed.Init(src)
	for _, l := range t.Layers {
		l.Init(src)
	}
	t.Decoder.Init(src)
}

func (t *SequenceTransformer) Parameters(prefix string) []nn.Parameter {
	out := t.Embed.Parameters(nn.JoinName(prefix, "encoder"))
	for i, l := range t.Layers {
		out = append(out, l.Parameters(nn.JoinName(prefix, "layers."+strconv.Itoa(i)))...)
	}
	return append(out, t.Decoder.Parameters(nn.JoinName(prefix, "decoder"))...)
}

func (t *SequenceTransformer) Forward(x *nn.Tensor) (*nn.Tensor, error) {
	if x.Rank() != 3 || x.Shape[1] != t.Config.Inputs {
		return nil, fmt.Errorf("%w: transformer expects [N, %d, T], got %v", ErrShape, t.Config.Inputs, x.Shape)
	}
	seq, err := x.Permute(0, 2, 1)
	if err != nil {
		return nil, err
	}
	h, err := t.Embed.Forward(seq)
	if err != nil {
		return nil, err
	}

	n, steps, d := h.Shape[0], h.Shape[1], h.Shape[2]
	pe := PositionalEncoding(steps, d)
	for b := 0; b < n; b++ {
		row := h.Data[b*steps*d : (b+1)*steps*d]
		for i := range row {
			row[i] += pe[i]
		}
	}

	for _, l := range t.Layers {
		if h, err = l.Forward(h); err != nil {
			return nil, err
		}
	}
	out, err := t.Decoder.Forward(h)
	if err != nil {
		return nil, err
	}
	return out.Reshape(n, steps)
}
