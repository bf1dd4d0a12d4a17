package model

import (
	"fmt"

	"github.com/carbocation/vid2bp/nn"
	"golang.org/x/exp/rand"
)

// stemReduction is the spatial downsampling of the two stride-2 stem
// convolutions.
const stemReduction = 4

// Axis names the volume axis that is folded into the batch for an
// orientation. The two remaining volume axes become the 2-D plane the stem
// convolves.
type Axis int

const (
	// AxisMain folds length: each frame is a height x width image.
	AxisMain Axis = iota
	// AxisPTT folds height: each row is a length x width image.
	AxisPTT
	// AxisBVP folds width: each column is a length x height image.
	AxisBVP
)

func (a Axis) String() string {
	switch a {
	case AxisMain:
		return "main"
	case AxisPTT:
		return "ptt"
	case AxisBVP:
		return "bvp"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

// volumeAxis is the position of the folded axis in [batch, channel, length,
// height, width].
func (a Axis) volumeAxis() int { return int(a) + 2 }

// foldOrder moves the folded axis next to the batch axis.
func (a Axis) foldOrder() []int {
	switch a {
	case AxisPTT:
		return []int{0, 3, 1, 2, 4}
	case AxisBVP:
		return []int{0, 4, 1, 2, 3}
	}
	return []int{0, 2, 1, 3, 4}
}

// Fold merges axis a of a [batch, channel, length, height, width] volume into
// the batch, returning [batch*A, channel, P, Q] where P, Q are the remaining
// volume axes in their original order.
func Fold(x *nn.Tensor, a Axis) (*nn.Tensor, error) {
	if x.Rank() != 5 {
		return nil, fmt.Errorf("%w: fold expects a 5-D volume, got %v", ErrShape, x.Shape)
	}
	p, err := x.Permute(a.foldOrder()...)
	if err != nil {
		return nil, err
	}
	return p.Reshape(p.Shape[0]*p.Shape[1], p.Shape[2], p.Shape[3], p.Shape[4])
}

// Unfold is the inverse of Fold: it splits [batch*n, channel, P, Q] back into
// [batch, channel, n, P, Q], restoring the folded axis next to the channels.
// n must be the same axis length the volume was folded with.
func Unfold(y *nn.Tensor, n int) (*nn.Tensor, error) {
	if y.Rank() != 4 || n < 1 || y.Shape[0]%n != 0 {
		return nil, fmt.Errorf("%w: cannot unfold %v with axis length %d", ErrShape, y.Shape, n)
	}
	r, err := y.Reshape(y.Shape[0]/n, n, y.Shape[1], y.Shape[2], y.Shape[3])
	if err != nil {
		return nil, err
	}
	return r.Permute(0, 2, 1, 3, 4)
}

// AxisStem downsamples one orientation of the volume with two
// channel-preserving stride-2 convolutions applied to every slice along the
// folded axis.
type AxisStem struct {
	Axis    Axis
	AxisLen int
	Conv1   *nn.Conv2D
	Conv2   *nn.Conv2D
}

// NewAxisStem builds the stem for axis a, whose configured length is
// axisLen.
func NewAxisStem(a Axis, channels, axisLen int) (*AxisStem, error) {
	s := &AxisStem{Axis: a, AxisLen: axisLen}
	var err error
	k, st, pad, dil := [2]int{3, 3}, [2]int{2, 2}, [2]int{1, 1}, [2]int{1, 1}
	if s.Conv1, err = nn.NewConv2D(channels, channels, k, st, pad, dil, 1, true); err != nil {
		return nil, err
	}
	if s.Conv2, err = nn.NewConv2D(channels, channels, k, st, pad, dil, 1, true); err != nil {
		return nil, err
	}
	return s, nil
}

// OutputShape returns the [axis, flattened plane] size for a plane of
// p x q.
func (s *AxisStem) OutputShape(p, q int) (int, int) {
	p, q = s.Conv1.OutputSize(p, q)
	p, q = s.Conv2.OutputSize(p, q)
	return s.AxisLen, p * q
}

func (s *AxisStem) Init(src rand.Source) {
	s.Conv1.Init(src)
	s.Conv2.Init(src)
}

func (s *AxisStem) Parameters(prefix string) []nn.Parameter {
	return append(s.Conv1.Parameters(nn.JoinName(prefix, "conv1")), s.Conv2.Parameters(nn.JoinName(prefix, "conv2"))...)
}

// Forward maps a [batch, channel, length, height, width] volume to
// [batch, channel, axisLen, P'*Q'].
func (s *AxisStem) Forward(x *nn.Tensor) (*nn.Tensor, error) {
	if x.Rank() != 5 || x.Shape[s.Axis.volumeAxis()] != s.AxisLen {
		return nil, fmt.Errorf("%w: %s stem expects axis length %d, got volume %v", ErrShape, s.Axis, s.AxisLen, x.Shape)
	}

	h, err := Fold(x, s.Axis)
	if err != nil {
		return nil, err
	}
	if h, err = s.Conv1.Forward(h); err != nil {
		return nil, err
	}
	if h, err = s.Conv2.Forward(h); err != nil {
		return nil, err
	}
	if h, err = Unfold(h, s.AxisLen); err != nil {
		return nil, err
	}
	return h.Reshape(h.Shape[0], h.Shape[1], h.Shape[2], -1)
}
