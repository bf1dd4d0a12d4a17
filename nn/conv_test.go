package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConv2DCenterTapIsIdentity(t *testing.T) {
	c, err := NewConv2D(1, 1, [2]int{3, 3}, [2]int{1, 1}, [2]int{1, 1}, [2]int{1, 1}, 1, false)
	require.NoError(t, err)
	c.Weight[4] = 1

	x, _ := FromData(seq(25), 1, 1, 5, 5)
	y, err := c.Forward(x)
	require.NoError(t, err)
	require.Equal(t, x.Shape, y.Shape)
	require.Equal(t, x.Data, y.Data)
}

func TestConv2DOutputSize(t *testing.T) {
	for _, v := range []struct {
		kernel, stride, padding, dilation [2]int
		h, w, oh, ow                      int
	}{
		{[2]int{3, 3}, [2]int{2, 2}, [2]int{1, 1}, [2]int{1, 1}, 128, 128, 64, 64},
		{[2]int{3, 3}, [2]int{2, 2}, [2]int{1, 1}, [2]int{1, 1}, 7, 5, 4, 3},
		{[2]int{1, 32}, [2]int{1, 1}, [2]int{0, 0}, [2]int{1, 32}, 32, 1024, 32, 32},
		{[2]int{1, 8}, [2]int{1, 2}, [2]int{0, 0}, [2]int{1, 32}, 128, 256, 128, 16},
	} {
		c, err := NewConv2D(3, 3, v.kernel, v.stride, v.padding, v.dilation, 1, true)
		require.NoError(t, err)
		oh, ow := c.OutputSize(v.h, v.w)
		require.Equal(t, v.oh, oh, "%+v", v)
		require.Equal(t, v.ow, ow, "%+v", v)
	}
}

func TestConv2DDepthwiseAndBias(t *testing.T) {
	c, err := NewConv2D(2, 2, [2]int{1, 1}, [2]int{1, 1}, [2]int{0, 0}, [2]int{1, 1}, 2, true)
	require.NoError(t, err)
	c.Weight[0], c.Weight[1] = 2, -1
	c.Bias[0], c.Bias[1] = 1, 0

	x, _ := FromData([]float32{1, 2, 3, 4}, 1, 2, 1, 2)
	y, err := c.Forward(x)
	require.NoError(t, err)
	require.Equal(t, []float32{3, 5, -3, -4}, y.Data)
}

func TestConv1DKeepsLength(t *testing.T) {
	c, err := NewConv1D(2, 3, 5, true)
	require.NoError(t, err)
	Initialize(1, c)

	x := New(4, 2, 17)
	y, err := c.Forward(x)
	require.NoError(t, err)
	require.Equal(t, []int{4, 3, 17}, y.Shape)

	// A zero input yields the bias in every position.
	for b := 0; b < 4; b++ {
		for o := 0; o < 3; o++ {
			for i := 0; i < 17; i++ {
				require.Equal(t, c.Bias[o], y.Data[(b*3+o)*17+i])
			}
		}
	}

	_, err = NewConv1D(1, 1, 4, false)
	require.Error(t, err)
}
