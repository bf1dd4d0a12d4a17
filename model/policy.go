package model

import (
	"fmt"
	"strconv"

	"github.com/carbocation/vid2bp/nn"
)

// Policy selects how the ptt and bvp maps modulate the main-axis map.
type Policy int

const (
	// PolicyOuterResidual: main * (bvp @ ptt) + main.
	PolicyOuterResidual Policy = iota
	// PolicySumResidual: main * (bvp + ptt) + main.
	PolicySumResidual
	// PolicyBVPResidual: main * bvp + main.
	PolicyBVPResidual
	// PolicyPTTResidual: main * ptt + main.
	PolicyPTTResidual
	// PolicyMainOnly passes the main map through unchanged.
	PolicyMainOnly
	// PolicyGatedSum: main * bvp + main * ptt.
	PolicyGatedSum
	// PolicyBVPGated: main * bvp.
	PolicyBVPGated
	// PolicyPTTGated: main * ptt.
	PolicyPTTGated
	// PolicyPTTOnly ignores the main map.
	PolicyPTTOnly
	// PolicyBVPOnly ignores the main map.
	PolicyBVPOnly
)

var policyNames = [...]string{
	"outer-residual",
	"sum-residual",
	"bvp-residual",
	"ptt-residual",
	"main-only",
	"gated-sum",
	"bvp-gated",
	"ptt-gated",
	"ptt-only",
	"bvp-only",
}

// Policies lists every supported policy in index order.
func Policies() []Policy {
	out := make([]Policy, len(policyNames))
	for i := range out {
		out[i] = Policy(i)
	}
	return out
}

func (p Policy) Valid() bool { return p >= 0 && int(p) < len(policyNames) }

func (p Policy) String() string {
	if p.Valid() {
		return policyNames[p]
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy accepts either a policy name or its index.
func ParsePolicy(s string) (Policy, error) {
	for i, name := range policyNames {
		if s == name {
			return Policy(i), nil
		}
	}
	if i, err := strconv.Atoi(s); err == nil && Policy(i).Valid() {
		return Policy(i), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
}

// needsOuterProduct reports whether the policy multiplies the bvp and ptt
// maps before resampling, which requires their native height and width
// extents to agree.
func (p Policy) needsOuterProduct() bool { return p == PolicyOuterResidual }

// axisMaps holds the three gated maps in (length, height, width) order.
// main is already on the target grid; ptt and bvp are at their native
// resolution and are resampled onto main's grid.
type axisMaps struct {
	main, ptt, bvp *nn.Tensor
}

// fuser combines the three maps into one with the shape of main.
type fuser func(m axisMaps) (*nn.Tensor, error)

// fuser returns the fusion function for p. It is called once when a model is
// built.
func (p Policy) fuser() (fuser, error) {
	switch p {
	case PolicyOuterResidual:
		return func(m axisMaps) (*nn.Tensor, error) {
			att, err := nn.BatchMatMul(m.bvp, m.ptt)
			if err != nil {
				return nil, err
			}
			return modulate(m.main, att, true)
		}, nil
	case PolicySumResidual:
		return func(m axisMaps) (*nn.Tensor, error) {
			b, p, err := m.resampled()
			if err != nil {
				return nil, err
			}
			att, err := nn.Add(b, p)
			if err != nil {
				return nil, err
			}
			return modulate(m.main, att, true)
		}, nil
	case PolicyBVPResidual:
		return func(m axisMaps) (*nn.Tensor, error) { return modulate(m.main, m.bvp, true) }, nil
	case PolicyPTTResidual:
		return func(m axisMaps) (*nn.Tensor, error) { return modulate(m.main, m.ptt, true) }, nil
	case PolicyMainOnly:
		return func(m axisMaps) (*nn.Tensor, error) { return m.main.Clone(), nil }, nil
	case PolicyGatedSum:
		return func(m axisMaps) (*nn.Tensor, error) {
			b, err := modulate(m.main, m.bvp, false)
			if err != nil {
				return nil, err
			}
			p, err := modulate(m.main, m.ptt, false)
			if err != nil {
				return nil, err
			}
			return nn.Add(b, p)
		}, nil
	case PolicyBVPGated:
		return func(m axisMaps) (*nn.Tensor, error) { return modulate(m.main, m.bvp, false) }, nil
	case PolicyPTTGated:
		return func(m axisMaps) (*nn.Tensor, error) { return modulate(m.main, m.ptt, false) }, nil
	case PolicyPTTOnly:
		return func(m axisMaps) (*nn.Tensor, error) { return resampleTo(m.ptt, m.main) }, nil
	case PolicyBVPOnly:
		return func(m axisMaps) (*nn.Tensor, error) { return resampleTo(m.bvp, m.main) }, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrInvalidPolicy, int(p))
}

func (m axisMaps) resampled() (bvp, ptt *nn.Tensor, err error) {
	if bvp, err = resampleTo(m.bvp, m.main); err != nil {
		return nil, nil, err
	}
	if ptt, err = resampleTo(m.ptt, m.main); err != nil {
		return nil, nil, err
	}
	return bvp, ptt, nil
}

// resampleTo resizes the trailing (length, height, width) axes of x to those
// of target.
func resampleTo(x, target *nn.Tensor) (*nn.Tensor, error) {
	return nn.ResampleNearest(x, target.Shape[2:]...)
}

// modulate returns main * resample(att), plus main when residual is set.
func modulate(main, att *nn.Tensor, residual bool) (*nn.Tensor, error) {
	a, err := resampleTo(att, main)
	if err != nil {
		return nil, err
	}
	out, err := nn.Mul(main, a)
	if err != nil {
		return nil, err
	}
	if !residual {
		return out, nil
	}
	return nn.Add(out, main)
}

// uses reports whether the policy reads the map of axis a. The main map is
// always computed since it fixes the output grid.
func (p Policy) uses(a Axis) bool {
	switch a {
	case AxisPTT:
		return p != PolicyMainOnly && p != PolicyBVPResidual && p != PolicyBVPGated && p != PolicyBVPOnly
	case AxisBVP:
		return p != PolicyMainOnly && p != PolicyPTTResidual && p != PolicyPTTGated && p != PolicyPTTOnly
	}
	return true
}
