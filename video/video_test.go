package video

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestVolume(t *testing.T) {
	frames := []image.Image{
		solid(20, 10, color.NRGBA{255, 0, 0, 255}),
		solid(20, 10, color.NRGBA{0, 51, 255, 255}),
	}

	v, err := Volume(frames, 4, 6)
	require.NoError(t, err)
	require.Equal(t, []int{1, 3, 2, 4, 6}, v.Shape)

	at := func(c, f, y, x int) float32 {
		return v.Data[((c*2+f)*4+y)*6+x]
	}
	require.InDelta(t, 1, at(0, 0, 2, 3), 1e-6)
	require.InDelta(t, 0, at(1, 0, 0, 0), 1e-6)
	require.InDelta(t, 0, at(0, 1, 3, 5), 1e-6)
	require.InDelta(t, 0.2, at(1, 1, 1, 1), 1e-6)
	require.InDelta(t, 1, at(2, 1, 0, 0), 1e-6)

	_, err = Volume(nil, 4, 4)
	require.Error(t, err)
}

func TestClips(t *testing.T) {
	var frames []image.Image
	for i := 0; i < 7; i++ {
		frames = append(frames, solid(8, 8, color.NRGBA{uint8(i * 10), 0, 0, 255}))
	}

	v, err := Clips(frames, 3, 2, 2)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3, 3, 2, 2}, v.Shape)

	// Red channel of the first frame of the second clip.
	size := 3 * 3 * 2 * 2
	require.InDelta(t, float32(30)/255, v.Data[size], 1e-6)

	_, err = Clips(frames, 8, 2, 2)
	require.Error(t, err)
}

func TestFramesFromFolder(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"b.png", "a.png", "c.png"} {
		img := solid(4, 4, color.NRGBA{uint8(i + 1), 0, 0, 255})
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), encodePNG(t, img), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	frames, err := LoadFrames(dir, nil, 2)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	// a.png was written second.
	r, _, _, _ := frames[0].At(0, 0).RGBA()
	require.Equal(t, uint32(2), r>>8)

	_, err = FramesFromFolder(t.TempDir(), 0)
	require.Error(t, err)
}

func TestFramesFromArchive(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, i := range []int{2, 0, 1} {
		data := encodePNG(t, solid(3, 3, color.NRGBA{0, uint8(100 + i), 0, 255}))
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     fmt.Sprintf("frames/%03d.png", i),
			Mode:     0644,
			Size:     int64(len(data)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	path := filepath.Join(t.TempDir(), "clip.tar.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	frames, err := LoadFrames(path, nil, 0)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	for i, f := range frames {
		_, g, _, _ := f.At(1, 1).RGBA()
		require.Equal(t, uint32(100+i), g>>8)
	}
}

func TestIsImage(t *testing.T) {
	require.True(t, IsImage("x/001.PNG"))
	require.True(t, IsImage("f.bmp"))
	require.False(t, IsImage("clip.mp4"))
}
