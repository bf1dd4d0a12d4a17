package maxvit

import (
	"fmt"

	"github.com/carbocation/vid2bp/nn"
	"golang.org/x/exp/rand"
)

// SqueezeExcitation rescales each channel by a gate computed from the
// globally pooled features.
type SqueezeExcitation struct {
	Reduce *nn.Linear
	Expand *nn.Linear
}

func NewSqueezeExcitation(dim int, shrinkage float64) *SqueezeExcitation {
	hidden := int(float64(dim) * shrinkage)
	if hidden < 1 {
		hidden = 1
	}
	return &SqueezeExcitation{
		Reduce: nn.NewLinear(dim, hidden, false),
		Expand: nn.NewLinear(hidden, dim, false),
	}
}

func (s *SqueezeExcitation) Init(src rand.Source) {
	s.Reduce.Init(src)
	s.Expand.Init(src)
}

func (s *SqueezeExcitation) Parameters(prefix string) []nn.Parameter {
	return append(s.Reduce.Parameters(nn.JoinName(prefix, "reduce")), s.Expand.Parameters(nn.JoinName(prefix, "expand"))...)
}

// Forward gates x [N, C, H, W].
func (s *SqueezeExcitation) Forward(x *nn.Tensor) (*nn.Tensor, error) {
	n, c := x.Shape[0], x.Shape[1]
	flat, err := x.Reshape(n, c, -1)
	if err != nil {
		return nil, err
	}
	pooled, err := nn.MeanLastAxis(flat)
	if err != nil {
		return nil, err
	}
	hidden, err := s.Reduce.Forward(pooled)
	if err != nil {
		return nil, err
	}
	gate, err := s.Expand.Forward(nn.Apply(hidden, nn.SiLU))
	if err != nil {
		return nil, err
	}
	gate = nn.Apply(gate, nn.Sigmoid)

	inner := flat.Shape[2]
	out := nn.New(x.Shape...)
	for i, g := range gate.Data {
		for j := i * inner; j < (i+1)*inner; j++ {
			out.Data[j] = x.Data[j] * g
		}
	}
	return out, nil
}

// MBConv is the inverted bottleneck: pointwise expansion, depthwise 3x3,
// squeeze-excitation and pointwise projection, with a residual connection.
type MBConv struct {
	Dim, Hidden int

	Expand     *nn.Conv2D
	ExpandNorm *nn.BatchNorm2D
	Depthwise  *nn.Conv2D
	DepthNorm  *nn.BatchNorm2D
	SE         *SqueezeExcitation
	Project    *nn.Conv2D
	OutNorm    *nn.BatchNorm2D
}

func NewMBConv(dim, expansion int, shrinkage float64) (*MBConv, error) {
	hidden := dim * expansion
	one, zero := [2]int{1, 1}, [2]int{0, 0}

	expand, err := nn.NewConv2D(dim, hidden, one, one, zero, one, 1, true)
	if err != nil {
		return nil, err
	}
	depthwise, err := nn.NewConv2D(hidden, hidden, [2]int{3, 3}, one, one, one, hidden, true)
	if err != nil {
		return nil, err
	}
	project, err := nn.NewConv2D(hidden, dim, one, one, zero, one, 1, true)
	if err != nil {
		return nil, err
	}

	return &MBConv{
		Dim:        dim,
		Hidden:     hidden,
		Expand:     expand,
		ExpandNorm: nn.NewBatchNorm2D(hidden),
		Depthwise:  depthwise,
		DepthNorm:  nn.NewBatchNorm2D(hidden),
		SE:         NewSqueezeExcitation(hidden, shrinkage),
		Project:    project,
		OutNorm:    nn.NewBatchNorm2D(dim),
	}, nil
}

func (m *MBConv) Init(src rand.Source) {
	for _, sub := range m.modules() {
		sub.Init(src)
	}
}

func (m *MBConv) Parameters(prefix string) []nn.Parameter {
	names := []string{"expand", "expand_norm", "depthwise", "depthwise_norm", "se", "project", "project_norm"}
	var out []nn.Parameter
	for i, sub := range m.modules() {
		out = append(out, sub.Parameters(nn.JoinName(prefix, names[i]))...)
	}
	return out
}

func (m *MBConv) modules() []nn.Module {
	return []nn.Module{m.Expand, m.ExpandNorm, m.Depthwise, m.DepthNorm, m.SE, m.Project, m.OutNorm}
}

// Forward maps x [N, Dim, H, W] to a tensor of the same shape.
func (m *MBConv) Forward(x *nn.Tensor) (*nn.Tensor, error) {
	if x.Rank() != 4 || x.Shape[1] != m.Dim {
		return nil, fmt.Errorf("%w: mbconv expects [N, %d, H, W], got %v", nn.ErrShape, m.Dim, x.Shape)
	}

	h, err := m.Expand.Forward(x)
	if err != nil {
		return nil, err
	}
	if h, err = m.ExpandNorm.Forward(h); err != nil {
		return nil, err
	}
	h = nn.Apply(h, nn.GELU)

	if h, err = m.Depthwise.Forward(h); err != nil {
		return nil, err
	}
	if h, err = m.DepthNorm.Forward(h); err != nil {
		return nil, err
	}
	h = nn.Apply(h, nn.GELU)

	if h, err = m.SE.Forward(h); err != nil {
		return nil, err
	}
	if h, err = m.Project.Forward(h); err != nil {
		return nil, err
	}
	if h, err = m.OutNorm.Forward(h); err != nil {
		return nil, err
	}
	return nn.Add(h, x)
}
