package video

import (
	"fmt"
	"image"

	"github.com/carbocation/vid2bp/nn"
	"github.com/disintegration/imaging"
)

// Volume resizes frames to height x width and packs them, in order, into a
// [1, 3, len(frames), height, width] tensor of RGB intensities in [0, 1].
func Volume(frames []image.Image, height, width int) (*nn.Tensor, error) {
	if len(frames) == 0 || height <= 0 || width <= 0 {
		return nil, fmt.Errorf("%w: %d frames at %dx%d", nn.ErrShape, len(frames), height, width)
	}

	n := len(frames)
	out := nn.New(1, 3, n, height, width)
	plane := height * width
	for t, frame := range frames {
		fill(out.Data, frame, t, n, height, width, plane)
	}

	return out, nil
}

// Clips splits frames into consecutive, non-overlapping clips of length
// frames and stacks them as [clips, 3, length, height, width]. Trailing
// frames that do not fill a clip are dropped.
func Clips(frames []image.Image, length, height, width int) (*nn.Tensor, error) {
	if length <= 0 || len(frames) < length {
		return nil, fmt.Errorf("%w: %d frames cannot fill a clip of %d", nn.ErrShape, len(frames), length)
	}

	count := len(frames) / length
	out := nn.New(count, 3, length, height, width)
	size := 3 * length * height * width
	for c := 0; c < count; c++ {
		v, err := Volume(frames[c*length:(c+1)*length], height, width)
		if err != nil {
			return nil, err
		}
		copy(out.Data[c*size:], v.Data)
	}

	return out, nil
}

func fill(dst []float32, frame image.Image, t, n, height, width, plane int) {
	resized := imaging.Resize(frame, width, height, imaging.Linear)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := resized.NRGBAAt(x, y)
			off := y*width + x
			dst[(0*n+t)*plane+off] = float32(c.R) / 255
			dst[(1*n+t)*plane+off] = float32(c.G) / 255
			dst[(2*n+t)*plane+off] = float32(c.B) / 255
		}
	}
}
