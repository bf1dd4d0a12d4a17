// Package maxvit implements the hierarchical block-attention encoder used on
// every axis projection and on the fused volume: an entry convolution followed
// by stacked MBConv / window-attention / grid-attention blocks.
package maxvit

import "fmt"

// Geometry describes the entry convolution of an encoder. The folded axis
// projections are long and thin, so each orientation gets its own kernel,
// dilation and stride.
type Geometry struct {
	Kernel   [2]int `json:"kernel"`
	Dilation [2]int `json:"dilation"`
	Padding  [2]int `json:"padding"`
	Stride   [2]int `json:"stride"`
}

// Square returns a geometry with the same kernel, dilation and padding on
// both axes and unit stride.
func Square(kernel, dilation, padding int) Geometry {
	return Geometry{
		Kernel:   [2]int{kernel, kernel},
		Dilation: [2]int{dilation, dilation},
		Padding:  [2]int{padding, padding},
		Stride:   [2]int{1, 1},
	}
}

// Config holds the block hyperparameters shared by every encoder in a model.
type Config struct {
	Dim           int     `json:"dim"`
	Depth         int     `json:"depth"`
	Window        int     `json:"window"`
	DimHead       int     `json:"dim_head"`
	ExpansionRate int     `json:"expansion_rate"`
	ShrinkageRate float64 `json:"shrinkage_rate"`
}

// DefaultConfig returns 32 features, two blocks and 4x4 attention windows.
func DefaultConfig() Config {
	return Config{
		Dim:           32,
		Depth:         2,
		Window:        4,
		DimHead:       32,
		ExpansionRate: 4,
		ShrinkageRate: 0.25,
	}
}

// Heads returns the number of attention heads per block.
func (c Config) Heads() int { return c.Dim / c.DimHead }

func (c Config) Validate() error {
	switch {
	case c.Dim < 1:
		return fmt.Errorf("maxvit: dim must be positive, got %d", c.Dim)
	case c.Depth < 0:
		return fmt.Errorf("maxvit: depth must not be negative, got %d", c.Depth)
	case c.Window < 1:
		return fmt.Errorf("maxvit: window must be positive, got %d", c.Window)
	case c.DimHead < 1 || c.Dim%c.DimHead != 0:
		return fmt.Errorf("maxvit: dim %d is not a multiple of dim_head %d", c.Dim, c.DimHead)
	case c.ExpansionRate < 1:
		return fmt.Errorf("maxvit: expansion rate must be at least 1, got %d", c.ExpansionRate)
	case c.ShrinkageRate <= 0 || c.ShrinkageRate > 1:
		return fmt.Errorf("maxvit: shrinkage rate must be in (0, 1], got %g", c.ShrinkageRate)
	}
	return nil
}
