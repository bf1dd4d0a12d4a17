package nn

import (
	"errors"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/require"
)

func TestAdaptiveAvgPool(t *testing.T) {
	x, _ := FromData(seq(16), 1, 1, 4, 4)
	y, err := AdaptiveAvgPool2D(x, 2, 2)
	require.NoError(t, err)
	require.Equal(t, []float32{2.5, 4.5, 10.5, 12.5}, y.Data)

	// Uneven bins overlap.
	z, err := AdaptiveAvgPool2D(x, 1, 3)
	require.NoError(t, err)
	require.Equal(t, []int{1, 1, 1, 3}, z.Shape)
	require.InDelta(t, 6.5, z.Data[0], 1e-6)
	require.InDelta(t, 7.5, z.Data[1], 1e-6)
	require.InDelta(t, 8.5, z.Data[2], 1e-6)
}

func TestResampleNearest(t *testing.T) {
	x, _ := FromData([]float32{1, 2, 3, 4}, 1, 2, 2)

	up, err := ResampleNearest(x, 4, 2)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 1, 2, 3, 4, 3, 4}, up.Data)

	down, err := ResampleNearest(x, 1, 1)
	require.NoError(t, err)
	require.Equal(t, []float32{1}, down.Data)

	_, err = ResampleNearest(x, 3, 2)
	require.True(t, errors.Is(err, ErrShape))
}

func TestBatchMatMul(t *testing.T) {
	a, _ := FromData([]float32{1, 2, 3, 4, 1, 0, 0, 1}, 2, 2, 2)
	b, _ := FromData([]float32{5, 6, 7, 8, 9, 8, 7, 6}, 2, 2, 2)
	c, err := BatchMatMul(a, b)
	require.NoError(t, err)
	require.Equal(t, []float32{19, 22, 43, 50, 9, 8, 7, 6}, c.Data)
}

func TestLinearAndLayerNorm(t *testing.T) {
	l := NewLinear(2, 1, true)
	l.Weight[0], l.Weight[1], l.Bias[0] = 1, -1, 0.5
	x, _ := FromData([]float32{3, 1, 0, 2}, 2, 2)
	y, err := l.Forward(x)
	require.NoError(t, err)
	require.Equal(t, []float32{2.5, -1.5}, y.Data)

	n := NewLayerNorm(4)
	Initialize(0, n)
	z, err := n.Forward(&Tensor{Shape: []int{1, 4}, Data: []float32{1, 2, 3, 4}})
	require.NoError(t, err)
	var mean float32
	for _, v := range z.Data {
		mean += v
	}
	require.InDelta(t, 0, mean/4, 1e-5)
}

func TestSoftmaxRows(t *testing.T) {
	x := []float32{0, 0, 1000, 1000, 1, 2}
	SoftmaxRows(x, 2)
	require.InDelta(t, 0.5, x[0], 1e-6)
	require.InDelta(t, 0.5, x[2], 1e-6)
	require.InDelta(t, 1/(1+math32.Exp(1)), x[4], 1e-6)
}

func TestMultiHeadAttentionShape(t *testing.T) {
	m, err := NewMultiHeadAttention(8, 2)
	require.NoError(t, err)
	Initialize(3, m)

	x := New(2, 5, 8)
	for i := range x.Data {
		x.Data[i] = float32(i%7) / 7
	}
	y, err := m.Forward(x)
	require.NoError(t, err)
	require.Equal(t, []int{2, 5, 8}, y.Shape)

	_, err = NewMultiHeadAttention(8, 3)
	require.Error(t, err)
}

func TestInitializeIsDeterministic(t *testing.T) {
	a, b := NewLinear(4, 4, true), NewLinear(4, 4, true)
	Initialize(42, a)
	Initialize(42, b)
	require.Equal(t, a.Weight, b.Weight)
	require.Equal(t, 20, CountParameters(a.Parameters("x")))
	require.Equal(t, "x.weight", a.Parameters("x")[0].Name)
}
