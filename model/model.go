// Package model implements the multi-axis video-to-signal fusion network:
// three axis stems and attention encoders, spatial gating, cross-axis fusion
// and the readout head that emits one z-normalized value per frame.
package model

import (
	"errors"
	"fmt"

	"github.com/carbocation/vid2bp/maxvit"
	"github.com/carbocation/vid2bp/nn"
	"golang.org/x/exp/rand"
)

var (
	// ErrShape aliases nn.ErrShape so callers only need this package.
	ErrShape = nn.ErrShape

	ErrConfig        = errors.New("invalid model configuration")
	ErrInvalidPolicy = errors.New("unsupported fusion policy")
)

// branch is one orientation of the volume: stem, encoder and gate.
type branch struct {
	axis    Axis
	stem    *AxisStem
	encoder *maxvit.Encoder
	gate    *SpatialGate

	// encoder output size (axis, flattened plane)
	outAxis, outPlane int
}

func newBranch(cfg Config, a Axis, axisLen, p, q int, geom maxvit.Geometry) (*branch, error) {
	stem, err := NewAxisStem(a, cfg.Channels, axisLen)
	if err != nil {
		return nil, err
	}
	enc, err := maxvit.NewEncoder(cfg.Channels, geom, cfg.Encoder)
	if err != nil {
		return nil, err
	}
	gate, err := NewSpatialGate(cfg.Gate)
	if err != nil {
		return nil, err
	}

	b := &branch{axis: a, stem: stem, encoder: enc, gate: gate}
	sa, sp := stem.OutputShape(p, q)
	if b.outAxis, b.outPlane, err = enc.OutputShape(sa, sp); err != nil {
		return nil, fmt.Errorf("%s encoder: %w", a, err)
	}
	return b, nil
}

func (b *branch) modules() []nn.Module { return []nn.Module{b.stem, b.encoder, b.gate} }

func (b *branch) Init(src rand.Source) {
	for _, m := range b.modules() {
		m.Init(src)
	}
}

func (b *branch) Parameters(prefix string) []nn.Parameter {
	var out []nn.Parameter
	for i, m := range b.modules() {
		out = append(out, m.Parameters(nn.JoinName(prefix, []string{"stem", "encoder", "gate"}[i]))...)
	}
	return out
}

// forward returns the gated [batch, C, outAxis, outPlane] map.
func (b *branch) forward(x *nn.Tensor) (*nn.Tensor, error) {
	h, err := b.stem.Forward(x)
	if err != nil {
		return nil, err
	}
	if h, err = b.encoder.Forward(h); err != nil {
		return nil, err
	}
	return b.gate.Forward(h)
}

// Model is the fusion network. It is safe for concurrent use once built:
// Forward never mutates the weights.
type Model struct {
	Config Config

	main, ptt, bvp *branch
	fusedEncoder   *maxvit.Encoder
	head           *ReadoutHead
	fuse           fuser
}

// New validates cfg, builds every component, runs the one-time weight
// initialization seeded with cfg.Seed and fixes the fusion policy.
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Model{Config: cfg}

	var err error
	if m.main, err = newBranch(cfg, AxisMain, cfg.Length, cfg.Height, cfg.Width, cfg.Main); err != nil {
		return nil, err
	}
	if cfg.Policy.uses(AxisPTT) {
		if m.ptt, err = newBranch(cfg, AxisPTT, cfg.Height, cfg.Length, cfg.Width, cfg.PTT); err != nil {
			return nil, err
		}
	}
	if cfg.Policy.uses(AxisBVP) {
		if m.bvp, err = newBranch(cfg, AxisBVP, cfg.Width, cfg.Length, cfg.Height, cfg.BVP); err != nil {
			return nil, err
		}
	}
	if err := m.checkGrids(); err != nil {
		return nil, err
	}

	gated := cfg.Gate.channels(cfg.Encoder.Dim)
	if m.fusedEncoder, err = maxvit.NewEncoder(gated, cfg.Fused, cfg.Encoder); err != nil {
		return nil, err
	}
	fl, _, err := m.fusedEncoder.OutputShape(cfg.Length, cfg.MainGrid[0]*cfg.MainGrid[1])
	if err != nil {
		return nil, fmt.Errorf("fused encoder: %w", err)
	}
	if fl != cfg.Length {
		return nil, fmt.Errorf("%w: fused encoder maps length %d to %d", ErrConfig, cfg.Length, fl)
	}

	if m.head, err = NewReadoutHead(cfg.Encoder.Dim, cfg.ReadoutKernel); err != nil {
		return nil, err
	}
	if m.fuse, err = cfg.Policy.fuser(); err != nil {
		return nil, err
	}

	nn.Initialize(cfg.Seed, m)
	return m, nil
}

// checkGrids verifies that the ptt and bvp encoder outputs can be viewed on
// AxisGrid and resampled onto the main grid by whole-number factors.
func (m *Model) checkGrids() error {
	cfg := m.Config
	target := [3]int{cfg.Length, cfg.MainGrid[0], cfg.MainGrid[1]}
	cells := cfg.AxisGrid[0] * cfg.AxisGrid[1]

	check := func(b *branch, native [3]int) error {
		if b.outPlane != cells {
			return fmt.Errorf("%w: %s encoder emits %d positions per slice, axis grid %v holds %d", ErrConfig, b.axis, b.outPlane, cfg.AxisGrid, cells)
		}
		for i := range native {
			if err := nn.CheckRatio(native[i], target[i]); err != nil {
				return fmt.Errorf("%s map %v onto %v: %w", b.axis, native, target, err)
			}
		}
		return nil
	}

	if m.ptt != nil {
		if err := check(m.ptt, [3]int{cfg.AxisGrid[0], m.ptt.outAxis, cfg.AxisGrid[1]}); err != nil {
			return err
		}
	}
	if m.bvp != nil {
		if err := check(m.bvp, [3]int{cfg.AxisGrid[0], cfg.AxisGrid[1], m.bvp.outAxis}); err != nil {
			return err
		}
	}
	if cfg.Policy.needsOuterProduct() && m.ptt.outAxis != m.bvp.outAxis {
		return fmt.Errorf("%w: policy %s needs equal ptt and bvp extents, got %d and %d", ErrConfig, cfg.Policy, m.ptt.outAxis, m.bvp.outAxis)
	}
	return nil
}

func (m *Model) modules() ([]nn.Module, []string) {
	mods := []nn.Module{m.main}
	names := []string{"main"}
	if m.ptt != nil {
		mods, names = append(mods, m.ptt), append(names, "ptt")
	}
	if m.bvp != nil {
		mods, names = append(mods, m.bvp), append(names, "bvp")
	}
	return append(mods, m.fusedEncoder, m.head), append(names, "fused", "head")
}

func (m *Model) Init(src rand.Source) {
	mods, _ := m.modules()
	for _, mod := range mods {
		mod.Init(src)
	}
}

func (m *Model) Parameters(prefix string) []nn.Parameter {
	mods, names := m.modules()
	var out []nn.Parameter
	for i, mod := range mods {
		out = append(out, mod.Parameters(nn.JoinName(prefix, names[i]))...)
	}
	return out
}

// Forward maps a [batch, Channels, Length, Height, Width] volume to a
// [batch, Length] signal, z-normalized over the whole batch.
func (m *Model) Forward(x *nn.Tensor) (*nn.Tensor, error) {
	raw, err := m.Features(x)
	if err != nil {
		return nil, err
	}
	return ZNormalize(raw), nil
}

// Features runs the network up to, but not including, the final
// normalization.
func (m *Model) Features(x *nn.Tensor) (*nn.Tensor, error) {
	cfg := m.Config
	want := []int{cfg.Channels, cfg.Length, cfg.Height, cfg.Width}
	if x.Rank() != 5 || x.Shape[1] != want[0] || x.Shape[2] != want[1] || x.Shape[3] != want[2] || x.Shape[4] != want[3] {
		return nil, fmt.Errorf("%w: expected [batch %v], got %v", ErrShape, want, x.Shape)
	}

	maps, err := m.axisMaps(x)
	if err != nil {
		return nil, err
	}
	fused, err := m.fuse(maps)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", cfg.Policy, err)
	}

	n, c := fused.Shape[0], fused.Shape[1]
	if fused, err = fused.Reshape(n, c, cfg.Length, -1); err != nil {
		return nil, err
	}
	if fused, err = m.fusedEncoder.Forward(fused); err != nil {
		return nil, err
	}
	return m.head.Forward(fused)
}

// axisMaps computes the gated maps of every branch the policy reads and
// arranges each as [batch, C, length, height, width].
func (m *Model) axisMaps(x *nn.Tensor) (axisMaps, error) {
	cfg := m.Config
	var out axisMaps

	h, err := m.main.forward(x)
	if err != nil {
		return out, err
	}
	if h, err = nn.AdaptiveAvgPool2D(h, cfg.Length, cfg.MainGrid[0]*cfg.MainGrid[1]); err != nil {
		return out, err
	}
	if out.main, err = h.Reshape(h.Shape[0], h.Shape[1], cfg.Length, cfg.MainGrid[0], cfg.MainGrid[1]); err != nil {
		return out, err
	}

	if m.ptt != nil {
		// [b, c, height, (l w)] -> [b, c, l, height, w]
		if out.ptt, err = m.regrid(m.ptt, x, 0, 1, 3, 2, 4); err != nil {
			return out, err
		}
	}
	if m.bvp != nil {
		// [b, c, width, (l h)] -> [b, c, l, h, width]
		if out.bvp, err = m.regrid(m.bvp, x, 0, 1, 3, 4, 2); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (m *Model) regrid(b *branch, x *nn.Tensor, order ...int) (*nn.Tensor, error) {
	h, err := b.forward(x)
	if err != nil {
		return nil, err
	}
	g := m.Config.AxisGrid
	if h, err = h.Reshape(h.Shape[0], h.Shape[1], h.Shape[2], g[0], g[1]); err != nil {
		return nil, err
	}
	return h.Permute(order...)
}
