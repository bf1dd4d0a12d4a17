package nn

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
)

// Add returns a + b for tensors of identical shape.
func Add(a, b *Tensor) (*Tensor, error) {
	if !a.SameShape(b) {
		return nil, fmt.Errorf("%w: add %v and %v", ErrShape, a.Shape, b.Shape)
	}
	out := New(a.Shape...)
	for i := range out.Data {
		out.Data[i] = a.Data[i] + b.Data[i]
	}
	return out, nil
}

// Mul returns the elementwise product of tensors of identical shape.
func Mul(a, b *Tensor) (*Tensor, error) {
	if !a.SameShape(b) {
		return nil, fmt.Errorf("%w: multiply %v and %v", ErrShape, a.Shape, b.Shape)
	}
	out := New(a.Shape...)
	for i := range out.Data {
		out.Data[i] = a.Data[i] * b.Data[i]
	}
	return out, nil
}

// MulBroadcastChannel multiplies x [N, C, ...] by a single-channel gate
// [N, 1, ...], broadcasting the gate over C.
func MulBroadcastChannel(x, gate *Tensor) (*Tensor, error) {
	if x.Rank() < 2 || gate.Rank() != x.Rank() || gate.Shape[0] != x.Shape[0] || gate.Shape[1] != 1 {
		return nil, fmt.Errorf("%w: gate %v cannot broadcast over %v", ErrShape, gate.Shape, x.Shape)
	}
	for i := 2; i < x.Rank(); i++ {
		if gate.Shape[i] != x.Shape[i] {
			return nil, fmt.Errorf("%w: gate %v cannot broadcast over %v", ErrShape, gate.Shape, x.Shape)
		}
	}

	n, c := x.Shape[0], x.Shape[1]
	inner := volume(x.Shape[2:])
	out := New(x.Shape...)
	for b := 0; b < n; b++ {
		g := gate.Data[b*inner : (b+1)*inner]
		for ch := 0; ch < c; ch++ {
			off := (b*c + ch) * inner
			for i := 0; i < inner; i++ {
				out.Data[off+i] = x.Data[off+i] * g[i]
			}
		}
	}
	return out, nil
}

// Apply returns f applied to every element of x.
func Apply(x *Tensor, f func(float32) float32) *Tensor {
	out := New(x.Shape...)
	for i, v := range x.Data {
		out.Data[i] = f(v)
	}
	return out
}

// Sigmoid is the logistic function.
func Sigmoid(v float32) float32 { return 1 / (1 + math32.Exp(-v)) }

// SiLU is v * sigmoid(v).
func SiLU(v float32) float32 { return v * Sigmoid(v) }

// ReLU clamps negative values to zero.
func ReLU(v float32) float32 {
	if v < 0 {
		return 0
	}
	return v
}

// GELU uses the tanh approximation.
func GELU(v float32) float32 {
	const c = 0.7978845608028654 // sqrt(2/pi)
	return 0.5 * v * (1 + math32.Tanh(c*(v+0.044715*v*v*v)))
}

// MeanLastAxis averages over the trailing axis, dropping it.
func MeanLastAxis(x *Tensor) (*Tensor, error) {
	if x.Rank() < 2 {
		return nil, fmt.Errorf("%w: mean over last axis of %v", ErrShape, x.Shape)
	}
	last := x.Dim(-1)
	out := New(x.Shape[:x.Rank()-1]...)
	for i := range out.Data {
		var s float32
		for _, v := range x.Data[i*last : (i+1)*last] {
			s += v
		}
		out.Data[i] = s / float32(last)
	}
	return out, nil
}

// ChannelMeanMax computes the per-position mean and max over axis 1 of an
// [N, C, ...] tensor and concatenates them into [N, 2, ...].
func ChannelMeanMax(x *Tensor) (*Tensor, error) {
	if x.Rank() < 3 {
		return nil, fmt.Errorf("%w: channel pooling of %v", ErrShape, x.Shape)
	}
	n, c := x.Shape[0], x.Shape[1]
	inner := volume(x.Shape[2:])

	shape := append([]int{n, 2}, x.Shape[2:]...)
	out := New(shape...)
	for b := 0; b < n; b++ {
		mean := out.Data[(2*b)*inner : (2*b+1)*inner]
		max := out.Data[(2*b+1)*inner : (2*b+2)*inner]
		for i := 0; i < inner; i++ {
			max[i] = -math.MaxFloat32
		}
		for ch := 0; ch < c; ch++ {
			src := x.Data[(b*c+ch)*inner : (b*c+ch+1)*inner]
			for i, v := range src {
				mean[i] += v
				if v > max[i] {
					max[i] = v
				}
			}
		}
		for i := range mean {
			mean[i] /= float32(c)
		}
	}
	return out, nil
}

// Stack joins tensors of identical shape along a new axis 1.
func Stack(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: nothing to stack", ErrShape)
	}
	for _, t := range ts[1:] {
		if !t.SameShape(ts[0]) {
			return nil, fmt.Errorf("%w: stack %v with %v", ErrShape, ts[0].Shape, t.Shape)
		}
	}

	n := ts[0].Shape[0]
	inner := volume(ts[0].Shape[1:])
	shape := append([]int{n, len(ts)}, ts[0].Shape[1:]...)
	out := New(shape...)
	for b := 0; b < n; b++ {
		for k, t := range ts {
			copy(out.Data[(b*len(ts)+k)*inner:], t.Data[b*inner:(b+1)*inner])
		}
	}
	return out, nil
}
