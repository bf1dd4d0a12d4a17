package nn

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Linear projects the trailing axis from In to Out features. Weight is laid
// out as [Out, In].
type Linear struct {
	In, Out int
	Weight  []float32
	Bias    []float32 // nil when the layer has no bias
}

func NewLinear(in, out int, bias bool) *Linear {
	l := &Linear{In: in, Out: out, Weight: make([]float32, in*out)}
	if bias {
		l.Bias = make([]float32, out)
	}
	return l
}

// Init applies Xavier-uniform weights and near-zero normal biases.
func (l *Linear) Init(src rand.Source) {
	xavierUniform(l.Weight, l.In, l.Out, src)
	if l.Bias != nil {
		fillNormal(l.Bias, 1e-6, src)
	}
}

func (l *Linear) Parameters(prefix string) []Parameter {
	out := []Parameter{{Name: JoinName(prefix, "weight"), Shape: []int{l.Out, l.In}, Data: l.Weight}}
	if l.Bias != nil {
		out = append(out, Parameter{Name: JoinName(prefix, "bias"), Shape: []int{l.Out}, Data: l.Bias})
	}
	return out
}

// Forward maps x [..., In] to [..., Out].
func (l *Linear) Forward(x *Tensor) (*Tensor, error) {
	if x.Rank() < 1 || x.Dim(-1) != l.In {
		return nil, fmt.Errorf("%w: linear expects [..., %d], got %v", ErrShape, l.In, x.Shape)
	}
	shape := append(append([]int(nil), x.Shape[:x.Rank()-1]...), l.Out)
	out := New(shape...)
	l.apply(x.Data, out.Data, x.Len()/l.In)
	return out, nil
}

// apply computes dst = src * W^T + b for rows of length In.
func (l *Linear) apply(src, dst []float32, rows int) {
	a := blas32.General{Rows: rows, Cols: l.In, Stride: l.In, Data: src}
	w := blas32.General{Rows: l.Out, Cols: l.In, Stride: l.In, Data: l.Weight}
	c := blas32.General{Rows: rows, Cols: l.Out, Stride: l.Out, Data: dst}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1, a, w, 0, c)

	if l.Bias == nil {
		return
	}
	for r := 0; r < rows; r++ {
		row := dst[r*l.Out : (r+1)*l.Out]
		for i := range row {
			row[i] += l.Bias[i]
		}
	}
}
