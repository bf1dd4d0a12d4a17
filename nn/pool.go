package nn

import "fmt"

// AdaptiveAvgPool2D averages [N, C, H, W] into [N, C, oh, ow]. Bin i covers
// [floor(i*H/oh), ceil((i+1)*H/oh)).
func AdaptiveAvgPool2D(x *Tensor, oh, ow int) (*Tensor, error) {
	if x.Rank() != 4 || oh < 1 || ow < 1 {
		return nil, fmt.Errorf("%w: adaptive pool of %v to %dx%d", ErrShape, x.Shape, oh, ow)
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	out := New(n, c, oh, ow)
	for p := 0; p < n*c; p++ {
		plane := x.Data[p*h*w : (p+1)*h*w]
		dst := out.Data[p*oh*ow : (p+1)*oh*ow]
		for i := 0; i < oh; i++ {
			y0, y1 := (i*h)/oh, ((i+1)*h+oh-1)/oh
			for j := 0; j < ow; j++ {
				x0, x1 := (j*w)/ow, ((j+1)*w+ow-1)/ow
				var s float32
				for y := y0; y < y1; y++ {
					for xx := x0; xx < x1; xx++ {
						s += plane[y*w+xx]
					}
				}
				dst[i*ow+j] = s / float32((y1-y0)*(x1-x0))
			}
		}
	}
	return out, nil
}
