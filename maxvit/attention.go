package maxvit

import (
	"fmt"

	"github.com/carbocation/vid2bp/nn"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Partition selects which tokens attend to each other.
type Partition int

const (
	// Window groups each contiguous w x w block.
	Window Partition = iota
	// Grid groups tokens spaced H/w and W/w apart, so every group spans the
	// whole map.
	Grid
)

func (p Partition) String() string {
	if p == Grid {
		return "grid"
	}
	return "window"
}

// BlockAttention is pre-norm residual self-attention restricted to w x w
// token groups, with a learned relative position bias shared by all groups.
// It operates on channel-last [N, H, W, Dim] tensors.
type BlockAttention struct {
	Dim, Heads, Window int
	Partition          Partition

	Norm  *nn.LayerNorm
	QKV   *nn.Linear
	Out   *nn.Linear
	Table []float32 // [(2w-1)^2, Heads]

	relIndex []int
}

func NewBlockAttention(dim, dimHead, window int, partition Partition) *BlockAttention {
	a := &BlockAttention{
		Dim:       dim,
		Heads:     dim / dimHead,
		Window:    window,
		Partition: partition,
		Norm:      nn.NewLayerNorm(dim),
		QKV:       nn.NewLinear(dim, 3*dim, false),
		Out:       nn.NewLinear(dim, dim, false),
	}
	span := 2*window - 1
	a.Table = make([]float32, span*span*a.Heads)

	s := window * window
	a.relIndex = make([]int, s*s)
	for i := 0; i < s; i++ {
		ri, ci := i/window, i%window
		for j := 0; j < s; j++ {
			rj, cj := j/window, j%window
			a.relIndex[i*s+j] = (ri-rj+window-1)*span + (ci - cj + window - 1)
		}
	}
	return a
}

func (a *BlockAttention) Init(src rand.Source) {
	a.Norm.Init(src)
	a.QKV.Init(src)
	a.Out.Init(src)
	d := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	for i := range a.Table {
		a.Table[i] = float32(d.Rand())
	}
}

func (a *BlockAttention) Parameters(prefix string) []nn.Parameter {
	out := a.Norm.Parameters(nn.JoinName(prefix, "norm"))
	out = append(out, a.QKV.Parameters(nn.JoinName(prefix, "to_qkv"))...)
	out = append(out, a.Out.Parameters(nn.JoinName(prefix, "to_out"))...)
	span := 2*a.Window - 1
	return append(out, nn.Parameter{Name: nn.JoinName(prefix, "rel_pos_bias"), Shape: []int{span * span, a.Heads}, Data: a.Table})
}

// tokenIndex lists, group by group, the flat [N, H, W] position of every
// token. Within a group tokens are ordered row-major over the w x w block.
func (a *BlockAttention) tokenIndex(n, h, w int) []int {
	win := a.Window
	gh, gw := h/win, w/win
	idx := make([]int, 0, n*h*w)
	for b := 0; b < n; b++ {
		for gx := 0; gx < gh; gx++ {
			for gy := 0; gy < gw; gy++ {
				for w1 := 0; w1 < win; w1++ {
					for w2 := 0; w2 < win; w2++ {
						var r, c int
						if a.Partition == Grid {
							r, c = w1*gh+gx, w2*gw+gy
						} else {
							r, c = gx*win+w1, gy*win+w2
						}
						idx = append(idx, (b*h+r)*w+c)
					}
				}
			}
		}
	}
	return idx
}

// Forward returns x + attention(norm(x)) for x [N, H, W, Dim].
func (a *BlockAttention) Forward(x *nn.Tensor) (*nn.Tensor, error) {
	if x.Rank() != 4 || x.Shape[3] != a.Dim {
		return nil, fmt.Errorf("%w: %s attention expects [N, H, W, %d], got %v", nn.ErrShape, a.Partition, a.Dim, x.Shape)
	}
	n, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	if h%a.Window != 0 || w%a.Window != 0 {
		return nil, fmt.Errorf("%w: %dx%d map is not divisible into %dx%d windows", nn.ErrShape, h, w, a.Window, a.Window)
	}

	normed, err := a.Norm.Forward(x)
	if err != nil {
		return nil, err
	}

	d := a.Dim
	s := a.Window * a.Window
	groups := n * h * w / s
	idx := a.tokenIndex(n, h, w)

	tokens := nn.New(groups, s, d)
	for t, p := range idx {
		copy(tokens.Data[t*d:(t+1)*d], normed.Data[p*d:(p+1)*d])
	}

	qkv, err := a.QKV.Forward(tokens)
	if err != nil {
		return nil, err
	}

	biases := make([][]float32, a.Heads)
	for hd := range biases {
		biases[hd] = make([]float32, s*s)
		for i, r := range a.relIndex {
			biases[hd][i] = a.Table[r*a.Heads+hd]
		}
	}
	bias := func(head int) []float32 { return biases[head] }

	ctx := nn.New(groups, s, d)
	for g := 0; g < groups; g++ {
		nn.SelfAttend(qkv.Data[g*s*3*d:(g+1)*s*3*d], s, a.Heads, d/a.Heads, bias, ctx.Data[g*s*d:(g+1)*s*d])
	}

	att, err := a.Out.Forward(ctx)
	if err != nil {
		return nil, err
	}

	out := x.Clone()
	for t, p := range idx {
		dst := out.Data[p*d : (p+1)*d]
		for i, v := range att.Data[t*d : (t+1)*d] {
			dst[i] += v
		}
	}
	return out, nil
}

// FeedForward is the pre-norm residual MLP applied to every token.
type FeedForward struct {
	Norm *nn.LayerNorm
	Up   *nn.Linear
	Down *nn.Linear
}

func NewFeedForward(dim, mult int) *FeedForward {
	return &FeedForward{
		Norm: nn.NewLayerNorm(dim),
		Up:   nn.NewLinear(dim, dim*mult, true),
		Down: nn.NewLinear(dim*mult, dim, true),
	}
}

func (f *FeedForward) Init(src rand.Source) {
	f.Norm.Init(src)
	f.Up.Init(src)
	f.Down.Init(src)
}

func (f *FeedForward) Parameters(prefix string) []nn.Parameter {
	out := f.Norm.Parameters(nn.JoinName(prefix, "norm"))
	out = append(out, f.Up.Parameters(nn.JoinName(prefix, "up"))...)
	return append(out, f.Down.Parameters(nn.JoinName(prefix, "down"))...)
}

// Forward returns x + mlp(norm(x)) for x [..., Dim].
func (f *FeedForward) Forward(x *nn.Tensor) (*nn.Tensor, error) {
	h, err := f.Norm.Forward(x)
	if err != nil {
		return nil, err
	}
	if h, err = f.Up.Forward(h); err != nil {
		return nil, err
	}
	if h, err = f.Down.Forward(nn.Apply(h, nn.GELU)); err != nil {
		return nil, err
	}
	return nn.Add(x, h)
}
