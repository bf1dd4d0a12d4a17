package model

import (
	"fmt"
	"strconv"

	"github.com/carbocation/vid2bp/nn"
	"golang.org/x/exp/rand"
)

// MultiView runs one main-axis backbone per camera view and fuses their
// signals with a SequenceTransformer.
type MultiView struct {
	Views  []*Model
	Fusion *SequenceTransformer
}

// NewMultiView builds len(views) backbones. Each backbone configuration is
// forced to PolicyMainOnly, so only its main axis is built. The transformer
// input width is set to the number of views.
func NewMultiView(views []Config, tcfg TransformerConfig, seed uint64) (*MultiView, error) {
	if len(views) == 0 {
		return nil, fmt.Errorf("%w: multi-view model needs at least one view", ErrConfig)
	}
	mv := &MultiView{}
	for i, cfg := range views {
		cfg.Policy = PolicyMainOnly
		if i > 0 && cfg.Length != views[0].Length {
			return nil, fmt.Errorf("%w: view %d length %d differs from %d", ErrConfig, i, cfg.Length, views[0].Length)
		}
		m, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("view %d: %w", i, err)
		}
		mv.Views = append(mv.Views, m)
	}

	tcfg.Inputs = len(views)
	var err error
	if mv.Fusion, err = NewSequenceTransformer(tcfg); err != nil {
		return nil, err
	}

	nn.Initialize(seed, mv)
	return mv, nil
}

func (mv *MultiView) Init(src rand.Source) {
	for _, v := range mv.Views {
		v.Init(src)
	}
	mv.Fusion.Init(src)
}

func (mv *MultiView) Parameters(prefix string) []nn.Parameter {
	var out []nn.Parameter
	for i, v := range mv.Views {
		out = append(out, v.Parameters(nn.JoinName(prefix, "view"+strconv.Itoa(i)))...)
	}
	return append(out, mv.Fusion.Parameters(nn.JoinName(prefix, "fusion"))...)
}

// Forward takes one volume per view and returns each view's [batch, Length]
// signal followed by the fused [batch, Length] signal.
func (mv *MultiView) Forward(views []*nn.Tensor) ([]*nn.Tensor, error) {
	if len(views) != len(mv.Views) {
		return nil, fmt.Errorf("%w: got %d views, model has %d", ErrShape, len(views), len(mv.Views))
	}

	out := make([]*nn.Tensor, 0, len(views)+1)
	for i, x := range views {
		y, err := mv.Views[i].Forward(x)
		if err != nil {
			return nil, fmt.Errorf("view %d: %w", i, err)
		}
		out = append(out, y)
	}

	stacked, err := nn.Stack(out...)
	if err != nil {
		return nil, err
	}
	fused, err := mv.Fusion.Forward(stacked)
	if err != nil {
		return nil, err
	}
	return append(out, fused), nil
}
