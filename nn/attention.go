package nn

import (
	"fmt"

	"github.com/chewxy/math32"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// matmul computes c = a*b (or a*b^T when transB) for row-major a [m, k].
func matmul(a, b, c []float32, m, k, n int, transB bool) {
	ga := blas32.General{Rows: m, Cols: k, Stride: k, Data: a}
	gb := blas32.General{Rows: k, Cols: n, Stride: n, Data: b}
	tb := blas.NoTrans
	if transB {
		gb = blas32.General{Rows: n, Cols: k, Stride: k, Data: b}
		tb = blas.Trans
	}
	gc := blas32.General{Rows: m, Cols: n, Stride: n, Data: c}
	blas32.Gemm(blas.NoTrans, tb, 1, ga, gb, 0, gc)
}

// SoftmaxRows normalizes each row of length n in place.
func SoftmaxRows(x []float32, n int) {
	for r := 0; r < len(x)/n; r++ {
		row := x[r*n : (r+1)*n]
		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		var sum float32
		for i, v := range row {
			row[i] = math32.Exp(v - max)
			sum += row[i]
		}
		for i := range row {
			row[i] /= sum
		}
	}
}

// SelfAttend runs multi-head scaled dot-product attention for one sequence.
// qkv holds s rows of [q | k | v], each of width heads*dh. bias, when not
// nil, returns an additive [s, s] score bias for a head. The concatenated
// head outputs are written to dst as s rows of width heads*dh.
func SelfAttend(qkv []float32, s, heads, dh int, bias func(head int) []float32, dst []float32) {
	d := heads * dh
	scale := 1 / math32.Sqrt(float32(dh))

	q := make([]float32, s*dh)
	k := make([]float32, s*dh)
	v := make([]float32, s*dh)
	scores := make([]float32, s*s)
	o := make([]float32, s*dh)

	for h := 0; h < heads; h++ {
		for i := 0; i < s; i++ {
			row := qkv[i*3*d : (i+1)*3*d]
			copy(q[i*dh:(i+1)*dh], row[h*dh:(h+1)*dh])
			copy(k[i*dh:(i+1)*dh], row[d+h*dh:d+(h+1)*dh])
			copy(v[i*dh:(i+1)*dh], row[2*d+h*dh:2*d+(h+1)*dh])
		}

		matmul(q, k, scores, s, dh, s, true)
		var b []float32
		if bias != nil {
			b = bias(h)
		}
		for i := range scores {
			scores[i] *= scale
			if b != nil {
				scores[i] += b[i]
			}
		}
		SoftmaxRows(scores, s)
		matmul(scores, v, o, s, s, dh, false)

		for i := 0; i < s; i++ {
			copy(dst[i*d+h*dh:i*d+(h+1)*dh], o[i*dh:(i+1)*dh])
		}
	}
}

// MultiHeadAttention is standard self-attention over [N, S, D] sequences
// with biased input and output projections.
type MultiHeadAttention struct {
	Dim, Heads int
	InProj     *Linear
	OutProj    *Linear
}

func NewMultiHeadAttention(dim, heads int) (*MultiHeadAttention, error) {
	if heads < 1 || dim%heads != 0 {
		return nil, fmt.Errorf("attention: dim %d not divisible by %d heads", dim, heads)
	}
	return &MultiHeadAttention{
		Dim:     dim,
		Heads:   heads,
		InProj:  NewLinear(dim, 3*dim, true),
		OutProj: NewLinear(dim, dim, true),
	}, nil
}

func (m *MultiHeadAttention) Init(src rand.Source) {
	m.InProj.Init(src)
	m.OutProj.Init(src)
}

func (m *MultiHeadAttention) Parameters(prefix string) []Parameter {
	return append(m.InProj.Parameters(JoinName(prefix, "in_proj")), m.OutProj.Parameters(JoinName(prefix, "out_proj"))...)
}

func (m *MultiHeadAttention) Forward(x *Tensor) (*Tensor, error) {
	if x.Rank() != 3 || x.Shape[2] != m.Dim {
		return nil, fmt.Errorf("%w: attention expects [N, S, %d], got %v", ErrShape, m.Dim, x.Shape)
	}
	n, s := x.Shape[0], x.Shape[1]

	qkv, err := m.InProj.Forward(x)
	if err != nil {
		return nil, err
	}
	ctx := New(n, s, m.Dim)
	for b := 0; b < n; b++ {
		SelfAttend(qkv.Data[b*s*3*m.Dim:(b+1)*s*3*m.Dim], s, m.Heads, m.Dim/m.Heads, nil, ctx.Data[b*s*m.Dim:(b+1)*s*m.Dim])
	}
	return m.OutProj.Forward(ctx)
}
