package maxvit

import (
	"fmt"
	"strconv"

	"github.com/carbocation/vid2bp/nn"
	"golang.org/x/exp/rand"
)

const feedForwardMult = 4

// Block is one MBConv followed by window attention, a feed-forward layer,
// grid attention and another feed-forward layer.
type Block struct {
	Conv       *MBConv
	WindowAttn *BlockAttention
	WindowFF   *FeedForward
	GridAttn   *BlockAttention
	GridFF     *FeedForward
}

func NewBlock(cfg Config) (*Block, error) {
	conv, err := NewMBConv(cfg.Dim, cfg.ExpansionRate, cfg.ShrinkageRate)
	if err != nil {
		return nil, err
	}
	return &Block{
		Conv:       conv,
		WindowAttn: NewBlockAttention(cfg.Dim, cfg.DimHead, cfg.Window, Window),
		WindowFF:   NewFeedForward(cfg.Dim, feedForwardMult),
		GridAttn:   NewBlockAttention(cfg.Dim, cfg.DimHead, cfg.Window, Grid),
		GridFF:     NewFeedForward(cfg.Dim, feedForwardMult),
	}, nil
}

func (b *Block) modules() []nn.Module {
	return []nn.Module{b.Conv, b.WindowAttn, b.WindowFF, b.GridAttn, b.GridFF}
}

func (b *Block) Init(src rand.Source) {
	for _, m := range b.modules() {
		m.Init(src)
	}
}

func (b *Block) Parameters(prefix string) []nn.Parameter {
	names := []string{"mbconv", "window_attn", "window_ff", "grid_attn", "grid_ff"}
	var out []nn.Parameter
	for i, m := range b.modules() {
		out = append(out, m.Parameters(nn.JoinName(prefix, names[i]))...)
	}
	return out
}

// Forward maps x [N, Dim, H, W] to a tensor of the same shape.
func (b *Block) Forward(x *nn.Tensor) (*nn.Tensor, error) {
	h, err := b.Conv.Forward(x)
	if err != nil {
		return nil, err
	}

	// Attention and feed-forward layers work channel-last.
	if h, err = h.Permute(0, 2, 3, 1); err != nil {
		return nil, err
	}
	for _, step := range []func(*nn.Tensor) (*nn.Tensor, error){
		b.WindowAttn.Forward,
		b.WindowFF.Forward,
		b.GridAttn.Forward,
		b.GridFF.Forward,
	} {
		if h, err = step(h); err != nil {
			return nil, err
		}
	}
	return h.Permute(0, 3, 1, 2)
}

// Encoder projects an [N, In, H, W] map to Dim features with the entry
// convolution and refines it with Depth blocks.
type Encoder struct {
	In       int
	Config   Config
	Geometry Geometry

	Entry  *nn.Conv2D
	Blocks []*Block
}

func NewEncoder(in int, geom Geometry, cfg Config) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	entry, err := nn.NewConv2D(in, cfg.Dim, geom.Kernel, geom.Stride, geom.Padding, geom.Dilation, 1, true)
	if err != nil {
		return nil, err
	}

	e := &Encoder{In: in, Config: cfg, Geometry: geom, Entry: entry}
	for i := 0; i < cfg.Depth; i++ {
		b, err := NewBlock(cfg)
		if err != nil {
			return nil, err
		}
		e.Blocks = append(e.Blocks, b)
	}
	return e, nil
}

// OutputShape returns the spatial size the encoder produces for an h x w
// input. Both output dimensions must be positive multiples of the window.
func (e *Encoder) OutputShape(h, w int) (int, int, error) {
	oh, ow := e.Entry.OutputSize(h, w)
	if oh < 1 || ow < 1 {
		return 0, 0, fmt.Errorf("%w: %dx%d input is too small for entry geometry %+v", nn.ErrShape, h, w, e.Geometry)
	}
	if e.Config.Depth > 0 && (oh%e.Config.Window != 0 || ow%e.Config.Window != 0) {
		return 0, 0, fmt.Errorf("%w: encoder output %dx%d is not divisible by window %d", nn.ErrShape, oh, ow, e.Config.Window)
	}
	return oh, ow, nil
}

func (e *Encoder) Init(src rand.Source) {
	e.Entry.Init(src)
	for _, b := range e.Blocks {
		b.Init(src)
	}
}

func (e *Encoder) Parameters(prefix string) []nn.Parameter {
	out := e.Entry.Parameters(nn.JoinName(prefix, "entry"))
	for i, b := range e.Blocks {
		out = append(out, b.Parameters(nn.JoinName(prefix, "blocks."+strconv.Itoa(i)))...)
	}
	return out
}

// Forward maps x [N, In, H, W] to [N, Dim, H', W'].
func (e *Encoder) Forward(x *nn.Tensor) (*nn.Tensor, error) {
	if x.Rank() != 4 || x.Shape[1] != e.In {
		return nil, fmt.Errorf("%w: encoder expects [N, %d, H, W], got %v", nn.ErrShape, e.In, x.Shape)
	}
	if _, _, err := e.OutputShape(x.Shape[2], x.Shape[3]); err != nil {
		return nil, err
	}

	h, err := e.Entry.Forward(x)
	if err != nil {
		return nil, err
	}
	for _, b := range e.Blocks {
		if h, err = b.Forward(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}
