package nn

import "fmt"

// CheckRatio verifies that resizing an axis from in to out is an exact
// integer up- or down-sampling, so nearest-neighbour resampling neither
// truncates nor drifts.
func CheckRatio(in, out int) error {
	if in < 1 || out < 1 {
		return fmt.Errorf("%w: cannot resample %d to %d", ErrShape, in, out)
	}
	if in%out != 0 && out%in != 0 {
		return fmt.Errorf("%w: resampling %d to %d is not an integer scale factor", ErrShape, in, out)
	}
	return nil
}

// ResampleNearest resizes the trailing len(size) axes of x to size using
// nearest-neighbour sampling: output index i reads input index
// floor(i*in/out), which matches scale-factor interpolation for integer
// ratios.
func ResampleNearest(x *Tensor, size ...int) (*Tensor, error) {
	k := len(size)
	if k == 0 || k > x.Rank() {
		return nil, fmt.Errorf("%w: resample %v to %v", ErrShape, x.Shape, size)
	}
	lead := x.Rank() - k
	for i, s := range size {
		if err := CheckRatio(x.Shape[lead+i], s); err != nil {
			return nil, err
		}
	}

	outShape := append(append([]int(nil), x.Shape[:lead]...), size...)
	out := New(outShape...)

	inStrides := strides(x.Shape[lead:])
	inInner := volume(x.Shape[lead:])
	outInner := volume(size)

	// Per-axis source index lookup tables.
	maps := make([][]int, k)
	for a, s := range size {
		in := x.Shape[lead+a]
		maps[a] = make([]int, s)
		for i := range maps[a] {
			maps[a][i] = (i * in) / s
		}
	}

	idx := make([]int, k)
	for o := 0; o < outInner; o++ {
		rem := o
		for a := k - 1; a >= 0; a-- {
			idx[a] = rem % size[a]
			rem /= size[a]
		}
		src := 0
		for a := 0; a < k; a++ {
			src += maps[a][idx[a]] * inStrides[a]
		}
		for b := 0; b < len(out.Data)/outInner; b++ {
			out.Data[b*outInner+o] = x.Data[b*inInner+src]
		}
	}
	return out, nil
}

// BatchMatMul multiplies the trailing two axes of a [..., M, K] and
// b [..., K, N], which must share their leading axes.
func BatchMatMul(a, b *Tensor) (*Tensor, error) {
	if a.Rank() < 2 || a.Rank() != b.Rank() {
		return nil, fmt.Errorf("%w: matmul %v @ %v", ErrShape, a.Shape, b.Shape)
	}
	r := a.Rank()
	for i := 0; i < r-2; i++ {
		if a.Shape[i] != b.Shape[i] {
			return nil, fmt.Errorf("%w: matmul %v @ %v", ErrShape, a.Shape, b.Shape)
		}
	}
	m, k, n := a.Shape[r-2], a.Shape[r-1], b.Shape[r-1]
	if b.Shape[r-2] != k {
		return nil, fmt.Errorf("%w: matmul %v @ %v", ErrShape, a.Shape, b.Shape)
	}

	outShape := append(append([]int(nil), a.Shape[:r-2]...), m, n)
	out := New(outShape...)
	for batch := 0; batch < volume(a.Shape[:r-2]); batch++ {
		matmul(a.Data[batch*m*k:(batch+1)*m*k], b.Data[batch*k*n:(batch+1)*k*n], out.Data[batch*m*n:(batch+1)*m*n], m, k, n, false)
	}
	return out, nil
}
