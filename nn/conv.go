package nn

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Conv2D is a 2-D convolution over [N, C, H, W] inputs. Weight is laid out as
// [Out, In/Groups, KH, KW].
type Conv2D struct {
	In, Out  int
	Kernel   [2]int
	Stride   [2]int
	Padding  [2]int
	Dilation [2]int
	Groups   int

	Weight []float32
	Bias   []float32 // nil when the layer has no bias
}

// NewConv2D validates the geometry and allocates zeroed weights.
func NewConv2D(in, out int, kernel, stride, padding, dilation [2]int, groups int, bias bool) (*Conv2D, error) {
	if groups < 1 {
		groups = 1
	}
	if in < 1 || out < 1 || in%groups != 0 || out%groups != 0 {
		return nil, fmt.Errorf("conv2d: channels %d->%d not divisible into %d groups", in, out, groups)
	}
	for i := 0; i < 2; i++ {
		if kernel[i] < 1 || stride[i] < 1 || dilation[i] < 1 || padding[i] < 0 {
			return nil, fmt.Errorf("conv2d: invalid geometry kernel=%v stride=%v padding=%v dilation=%v", kernel, stride, padding, dilation)
		}
	}

	c := &Conv2D{
		In: in, Out: out,
		Kernel: kernel, Stride: stride, Padding: padding, Dilation: dilation,
		Groups: groups,
		Weight: make([]float32, out*(in/groups)*kernel[0]*kernel[1]),
	}
	if bias {
		c.Bias = make([]float32, out)
	}
	return c, nil
}

// OutputSize returns the spatial size produced for an h x w input. Either
// value is <= 0 when the input is too small for the kernel.
func (c *Conv2D) OutputSize(h, w int) (int, int) {
	oh := (h+2*c.Padding[0]-c.Dilation[0]*(c.Kernel[0]-1)-1)/c.Stride[0] + 1
	ow := (w+2*c.Padding[1]-c.Dilation[1]*(c.Kernel[1]-1)-1)/c.Stride[1] + 1
	return oh, ow
}

func (c *Conv2D) fanIn() int { return (c.In / c.Groups) * c.Kernel[0] * c.Kernel[1] }

// Init draws weights and biases from U(-1/sqrt(fanIn), 1/sqrt(fanIn)).
func (c *Conv2D) Init(src rand.Source) {
	bound := 1 / math.Sqrt(float64(c.fanIn()))
	fillUniform(c.Weight, bound, src)
	if c.Bias != nil {
		fillUniform(c.Bias, bound, src)
	}
}

func (c *Conv2D) Parameters(prefix string) []Parameter {
	out := []Parameter{{Name: JoinName(prefix, "weight"), Shape: []int{c.Out, c.In / c.Groups, c.Kernel[0], c.Kernel[1]}, Data: c.Weight}}
	if c.Bias != nil {
		out = append(out, Parameter{Name: JoinName(prefix, "bias"), Shape: []int{c.Out}, Data: c.Bias})
	}
	return out
}

// Forward convolves x [N, In, H, W] into [N, Out, OH, OW].
func (c *Conv2D) Forward(x *Tensor) (*Tensor, error) {
	if x.Rank() != 4 || x.Shape[1] != c.In {
		return nil, fmt.Errorf("%w: conv2d expects [N, %d, H, W], got %v", ErrShape, c.In, x.Shape)
	}
	n, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	oh, ow := c.OutputSize(h, w)
	if oh < 1 || ow < 1 {
		return nil, fmt.Errorf("%w: conv2d input %dx%d too small for kernel %v dilation %v", ErrShape, h, w, c.Kernel, c.Dilation)
	}

	cg, og := c.In/c.Groups, c.Out/c.Groups
	k := cg * c.Kernel[0] * c.Kernel[1]
	p := oh * ow

	out := New(n, c.Out, oh, ow)
	col := make([]float32, k*p)

	for b := 0; b < n; b++ {
		for g := 0; g < c.Groups; g++ {
			c.im2col(x.Data[(b*c.In+g*cg)*h*w:(b*c.In+(g+1)*cg)*h*w], cg, h, w, oh, ow, col)

			a := blas32.General{Rows: og, Cols: k, Stride: k, Data: c.Weight[g*og*k : (g+1)*og*k]}
			bm := blas32.General{Rows: k, Cols: p, Stride: p, Data: col}
			dst := blas32.General{Rows: og, Cols: p, Stride: p, Data: out.Data[(b*c.Out+g*og)*p : (b*c.Out+(g+1)*og)*p]}
			blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a, bm, 0, dst)
		}
	}

	if c.Bias != nil {
		for b := 0; b < n; b++ {
			for o := 0; o < c.Out; o++ {
				row := out.Data[(b*c.Out+o)*p : (b*c.Out+o+1)*p]
				for i := range row {
					row[i] += c.Bias[o]
				}
			}
		}
	}

	return out, nil
}

// im2col unrolls the receptive fields of one channel group into col, a
// [cg*KH*KW, oh*ow] matrix.
func (c *Conv2D) im2col(src []float32, cg, h, w, oh, ow int, col []float32) {
	kh, kw := c.Kernel[0], c.Kernel[1]
	p := oh * ow
	for ch := 0; ch < cg; ch++ {
		plane := src[ch*h*w : (ch+1)*h*w]
		for ki := 0; ki < kh; ki++ {
			for kj := 0; kj < kw; kj++ {
				row := col[((ch*kh+ki)*kw+kj)*p : ((ch*kh+ki)*kw+kj+1)*p]
				for y := 0; y < oh; y++ {
					iy := y*c.Stride[0] - c.Padding[0] + ki*c.Dilation[0]
					for x := 0; x < ow; x++ {
						ix := x*c.Stride[1] - c.Padding[1] + kj*c.Dilation[1]
						if iy < 0 || iy >= h || ix < 0 || ix >= w {
							row[y*ow+x] = 0
							continue
						}
						row[y*ow+x] = plane[iy*w+ix]
					}
				}
			}
		}
	}
}

// Conv1D is a 1-D convolution over [N, C, L] inputs with "same" padding.
type Conv1D struct {
	*Conv2D
}

// NewConv1D builds a stride-1 convolution that preserves the sequence length.
// The kernel size must be odd.
func NewConv1D(in, out, kernel int, bias bool) (*Conv1D, error) {
	if kernel%2 == 0 {
		return nil, fmt.Errorf("conv1d: same padding needs an odd kernel, got %d", kernel)
	}
	c, err := NewConv2D(in, out, [2]int{1, kernel}, [2]int{1, 1}, [2]int{0, kernel / 2}, [2]int{1, 1}, 1, bias)
	if err != nil {
		return nil, err
	}
	return &Conv1D{c}, nil
}

func (c *Conv1D) Parameters(prefix string) []Parameter {
	out := []Parameter{{Name: JoinName(prefix, "weight"), Shape: []int{c.Out, c.In, c.Kernel[1]}, Data: c.Weight}}
	if c.Bias != nil {
		out = append(out, Parameter{Name: JoinName(prefix, "bias"), Shape: []int{c.Out}, Data: c.Bias})
	}
	return out
}

// Forward convolves x [N, In, L] into [N, Out, L].
func (c *Conv1D) Forward(x *Tensor) (*Tensor, error) {
	if x.Rank() != 3 {
		return nil, fmt.Errorf("%w: conv1d expects [N, C, L], got %v", ErrShape, x.Shape)
	}
	x4, err := x.Reshape(x.Shape[0], x.Shape[1], 1, x.Shape[2])
	if err != nil {
		return nil, err
	}
	y, err := c.Conv2D.Forward(x4)
	if err != nil {
		return nil, err
	}
	return y.Reshape(y.Shape[0], y.Shape[1], y.Shape[3])
}
