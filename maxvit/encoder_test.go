package maxvit

import (
	"errors"
	"testing"

	"github.com/carbocation/vid2bp/nn"
	"github.com/stretchr/testify/require"
)

func smallConfig() Config {
	return Config{Dim: 8, Depth: 1, Window: 2, DimHead: 4, ExpansionRate: 2, ShrinkageRate: 0.25}
}

func ramp(shape ...int) *nn.Tensor {
	x := nn.New(shape...)
	for i := range x.Data {
		x.Data[i] = float32(i%11)/11 - 0.5
	}
	return x
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	for _, mutate := range []func(*Config){
		func(c *Config) { c.Dim = 0 },
		func(c *Config) { c.DimHead = 3 },
		func(c *Config) { c.Window = 0 },
		func(c *Config) { c.ShrinkageRate = 0 },
		func(c *Config) { c.ExpansionRate = 0 },
	} {
		c := DefaultConfig()
		mutate(&c)
		require.Error(t, c.Validate())
	}
}

func TestEncoderShape(t *testing.T) {
	for _, v := range []struct {
		name         string
		geom         Geometry
		h, w         int
		wantH, wantW int
	}{
		{"square", Square(3, 1, 1), 8, 4, 8, 4},
		{"strided", Geometry{Kernel: [2]int{1, 1}, Dilation: [2]int{1, 1}, Stride: [2]int{1, 2}}, 4, 8, 4, 4},
		{"dilated", Geometry{Kernel: [2]int{1, 2}, Dilation: [2]int{1, 4}, Stride: [2]int{1, 1}}, 2, 8, 2, 4},
	} {
		t.Run(v.name, func(t *testing.T) {
			e, err := NewEncoder(3, v.geom, smallConfig())
			require.NoError(t, err)
			nn.Initialize(7, e)

			oh, ow, err := e.OutputShape(v.h, v.w)
			require.NoError(t, err)
			require.Equal(t, v.wantH, oh)
			require.Equal(t, v.wantW, ow)

			y, err := e.Forward(ramp(2, 3, v.h, v.w))
			require.NoError(t, err)
			require.Equal(t, []int{2, 8, v.wantH, v.wantW}, y.Shape)
		})
	}
}

func TestEncoderRejectsIndivisibleMaps(t *testing.T) {
	e, err := NewEncoder(1, Square(3, 1, 1), smallConfig())
	require.NoError(t, err)

	_, _, err = e.OutputShape(5, 4)
	require.True(t, errors.Is(err, nn.ErrShape))

	_, err = e.Forward(nn.New(1, 2, 4, 4))
	require.True(t, errors.Is(err, nn.ErrShape))
}

func TestEncoderIsDeterministic(t *testing.T) {
	build := func() *Encoder {
		e, err := NewEncoder(1, Square(3, 1, 1), smallConfig())
		require.NoError(t, err)
		nn.Initialize(11, e)
		return e
	}
	x := ramp(1, 1, 4, 4)

	a, err := build().Forward(x)
	require.NoError(t, err)
	b, err := build().Forward(x)
	require.NoError(t, err)
	require.Equal(t, a.Data, b.Data)
}

func TestPartitionsCoverEveryToken(t *testing.T) {
	for _, p := range []Partition{Window, Grid} {
		a := NewBlockAttention(4, 4, 2, p)
		idx := a.tokenIndex(2, 4, 6)
		require.Len(t, idx, 48)

		seen := make(map[int]bool)
		for _, i := range idx {
			require.False(t, seen[i], "%s partition repeats token %d", p, i)
			seen[i] = true
		}
	}

	// The first window group is the top-left 2x2 block; the first grid group
	// samples every other row and every third column.
	require.Equal(t, []int{0, 1, 6, 7}, NewBlockAttention(4, 4, 2, Window).tokenIndex(1, 4, 6)[:4])
	require.Equal(t, []int{0, 3, 12, 15}, NewBlockAttention(4, 4, 2, Grid).tokenIndex(1, 4, 6)[:4])
}

func TestParametersAreNamed(t *testing.T) {
	e, err := NewEncoder(3, Square(3, 1, 1), smallConfig())
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, p := range e.Parameters("enc") {
		require.False(t, names[p.Name], "duplicate parameter %s", p.Name)
		names[p.Name] = true
	}
	require.True(t, names["enc.entry.weight"])
	require.True(t, names["enc.blocks.0.grid_attn.rel_pos_bias"])
	require.True(t, names["enc.blocks.0.mbconv.se.reduce.weight"])
}
