// Package video turns a clip into the [batch, 3, length, height, width]
// volume the fusion model consumes. A clip is a video file, a folder of
// still frames, or a tar.gz of still frames, local or on Google Storage.
package video

import (
	"archive/tar"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"github.com/carbocation/vid2bp"
	"github.com/unixpickle/ffmpego"
	_ "golang.org/x/image/bmp"
)

var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".bmp":  {},
}

// IsImage reports whether name carries a still-image extension.
func IsImage(name string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func isArchive(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz") || strings.HasSuffix(name, ".tar")
}

// LoadFrames reads up to limit frames (all of them when limit <= 0) from
// path. Frames from a folder or archive are ordered by file name.
func LoadFrames(path string, client *storage.Client, limit int) ([]image.Image, error) {
	if !vid2bp.IsGoogleStoragePath(path) {
		if fi, err := os.Stat(vid2bp.ExpandHome(path)); err == nil && fi.IsDir() {
			return FramesFromFolder(vid2bp.ExpandHome(path), limit)
		}
	}

	if isArchive(path) {
		f, _, err := vid2bp.MaybeOpenFromGoogleStorage(path, client)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		return FramesFromArchive(f, limit)
	}

	return FramesFromVideo(path, client, limit)
}

// FramesFromFolder decodes the still images directly inside dir.
func FramesFromFolder(dir string, limit int) ([]image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, pfx.Err(err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !IsImage(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	out := make([]image.Image, 0, len(names))
	for _, name := range names {
		img, err := decodeFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no image frames found", dir)
	}

	return out, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", path, err))
	}

	return img, nil
}

// FramesFromArchive decodes every still image in a (possibly compressed) tar
// stream.
func FramesFromArchive(r io.Reader, limit int) ([]image.Image, error) {
	rc, err := vid2bp.MaybeDecompress(r)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer rc.Close()

	type namedFrame struct {
		name string
		img  image.Image
	}
	var frames []namedFrame

	tarReader := tar.NewReader(rc)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, pfx.Err(err)
		}

		if header.Typeflag != tar.TypeReg || !IsImage(header.Name) {
			continue
		}

		img, _, err := image.Decode(tarReader)
		if err != nil {
			return nil, pfx.Err(fmt.Errorf("%s: %w", header.Name, err))
		}
		frames = append(frames, namedFrame{name: header.Name, img: img})
	}

	sort.Slice(frames, func(i, j int) bool { return frames[i].name < frames[j].name })
	if limit > 0 && len(frames) > limit {
		frames = frames[:limit]
	}

	if len(frames) == 0 {
		return nil, fmt.Errorf("no image frames found in archive")
	}

	out := make([]image.Image, len(frames))
	for i, v := range frames {
		out[i] = v.img
	}

	return out, nil
}

// FramesFromVideo decodes frames with ffmpeg, which must be installed. A
// gs:// video is first copied to a temporary file.
func FramesFromVideo(path string, client *storage.Client, limit int) ([]image.Image, error) {
	local := vid2bp.ExpandHome(path)
	if vid2bp.IsGoogleStoragePath(path) {
		tmp, err := fetchToTemp(path, client)
		if err != nil {
			return nil, err
		}
		defer os.Remove(tmp)
		local = tmp
	}

	vr, err := ffmpego.NewVideoReader(local)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer vr.Close()

	var out []image.Image
	for limit <= 0 || len(out) < limit {
		frame, err := vr.ReadFrame()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, pfx.Err(err)
		}
		out = append(out, frame)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no frames decoded", path)
	}

	return out, nil
}

func fetchToTemp(path string, client *storage.Client) (string, error) {
	src, _, err := vid2bp.MaybeOpenFromGoogleStorage(path, client)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "vid2bp-*"+filepath.Ext(path))
	if err != nil {
		return "", pfx.Err(err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dst.Name())
		return "", pfx.Err(err)
	}

	return dst.Name(), nil
}
