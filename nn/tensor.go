// Package nn holds the dense float32 tensor type and the small set of neural
// network layers needed to run the video-to-signal models on the CPU.
package nn

import (
	"errors"
	"fmt"

	"github.com/pdevine/tensor"
)

// ErrShape is returned whenever an operation receives a tensor whose shape is
// incompatible with what it was configured for.
var ErrShape = errors.New("shape mismatch")

// Tensor is a dense, row-major float32 tensor.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zero-valued tensor with the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, volume(shape))}
}

// FromData wraps data with the given shape. The slice is not copied.
func FromData(data []float32, shape ...int) (*Tensor, error) {
	if volume(shape) != len(data) {
		return nil, fmt.Errorf("%w: %d values cannot fill shape %v", ErrShape, len(data), shape)
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

func volume(shape []int) int {
	n := 1
	for _, v := range shape {
		n *= v
	}
	return n
}

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Rank returns the number of axes.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Dim returns the length of axis i. Negative values count from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: append([]int(nil), t.Shape...), Data: append([]float32(nil), t.Data...)}
}

// SameShape reports whether t and o have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// Reshape returns a view of t with a new shape sharing the same backing data.
// At most one dimension may be -1, in which case it is inferred.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	out := append([]int(nil), shape...)
	infer := -1
	known := 1
	for i, v := range out {
		if v == -1 {
			if infer >= 0 {
				return nil, fmt.Errorf("%w: more than one inferred dimension in %v", ErrShape, shape)
			}
			infer = i
			continue
		}
		known *= v
	}
	if infer >= 0 {
		if known == 0 || len(t.Data)%known != 0 {
			return nil, fmt.Errorf("%w: cannot infer dimension of %v from %d values", ErrShape, shape, len(t.Data))
		}
		out[infer] = len(t.Data) / known
	}
	if volume(out) != len(t.Data) {
		return nil, fmt.Errorf("%w: cannot reshape %v into %v", ErrShape, t.Shape, shape)
	}
	return &Tensor{Shape: out, Data: t.Data}, nil
}

// Permute returns a new tensor whose axes are reordered so that output axis i
// is input axis axes[i]. The data is physically moved.
func (t *Tensor) Permute(axes ...int) (*Tensor, error) {
	if len(axes) != len(t.Shape) {
		return nil, fmt.Errorf("%w: permutation %v for rank %d", ErrShape, axes, len(t.Shape))
	}

	identity := true
	for i, a := range axes {
		if a != i {
			identity = false
			break
		}
	}
	if identity {
		return t.Clone(), nil
	}

	backing := append([]float32(nil), t.Data...)
	n := tensor.New(tensor.WithShape(t.Shape...), tensor.WithBacking(backing))
	if err := n.T(axes...); err != nil {
		return nil, err
	}
	if err := n.Transpose(); err != nil {
		return nil, err
	}

	data, ok := n.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("unexpected backing type %T after transpose", n.Data())
	}

	shape := make([]int, len(axes))
	for i, a := range axes {
		shape[i] = t.Shape[a]
	}

	return &Tensor{Shape: shape, Data: data}, nil
}

// strides returns the row-major strides for shape.
func strides(shape []int) []int {
	out := make([]int, len(shape))
	s := 1
	for i := len(shape) - 1; i >= 0; i-- {
		out[i] = s
		s *= shape[i]
	}
	return out
}
