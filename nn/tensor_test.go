package nn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

func TestReshapeInfersDimension(t *testing.T) {
	x, err := FromData(seq(24), 2, 3, 4)
	require.NoError(t, err)

	y, err := x.Reshape(6, -1)
	require.NoError(t, err)
	require.Equal(t, []int{6, 4}, y.Shape)

	_, err = x.Reshape(5, -1)
	require.True(t, errors.Is(err, ErrShape))

	_, err = x.Reshape(2, 2, 2)
	require.True(t, errors.Is(err, ErrShape))
}

func TestPermuteMovesData(t *testing.T) {
	x, err := FromData(seq(24), 2, 3, 4)
	require.NoError(t, err)

	y, err := x.Permute(2, 0, 1)
	require.NoError(t, err)
	require.Equal(t, []int{4, 2, 3}, y.Shape)

	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 4; k++ {
				require.Equal(t, x.Data[(i*3+j)*4+k], y.Data[(k*2+i)*3+j])
			}
		}
	}

	// The source must be untouched.
	require.Equal(t, seq(24), x.Data)
}

func TestPermuteRoundTrip(t *testing.T) {
	x, err := FromData(seq(2*3*4*5*2), 2, 3, 4, 5, 2)
	require.NoError(t, err)

	y, err := x.Permute(0, 3, 1, 2, 4)
	require.NoError(t, err)
	z, err := y.Permute(0, 2, 3, 1, 4)
	require.NoError(t, err)

	require.Equal(t, x.Shape, z.Shape)
	require.Equal(t, x.Data, z.Data)
}

func TestStackAndChannelPooling(t *testing.T) {
	a, _ := FromData([]float32{1, 2, 3, 4}, 2, 2)
	b, _ := FromData([]float32{5, 6, 7, 8}, 2, 2)
	s, err := Stack(a, b)
	require.NoError(t, err)
	require.Equal(t, []int{2, 2, 2}, s.Shape)
	require.Equal(t, []float32{1, 2, 5, 6, 3, 4, 7, 8}, s.Data)

	pooled, err := ChannelMeanMax(s)
	require.NoError(t, err)
	require.Equal(t, []int{2, 2, 2}, pooled.Shape)
	require.Equal(t, []float32{3, 4, 5, 6, 5, 6, 7, 8}, pooled.Data)
}
