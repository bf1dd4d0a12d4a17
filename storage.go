package vid2bp

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
)

type ReaderAtCloser interface {
	io.Reader
	io.ReaderAt
	io.Closer
}

// GSReaderAtCloser decorates a Google Storage object handle with Read,
// ReadAt and Close.
type GSReaderAtCloser struct {
	*storage.ObjectHandle
	Context context.Context

	r *storage.Reader
}

// Read streams the object from the start.
func (o *GSReaderAtCloser) Read(p []byte) (int, error) {
	if o.r == nil {
		var err error
		if o.r, err = o.NewReader(o.Context); err != nil {
			return 0, err
		}
	}
	return o.r.Read(p)
}

// ReadAt satisfies io.ReaderAt. It issues one ranged request of len(p)
// bytes.
func (o *GSReaderAtCloser) ReadAt(p []byte, offset int64) (int, error) {
	rdr, err := o.NewRangeReader(o.Context, offset, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer rdr.Close()

	return io.ReadFull(rdr, p)
}

func (o *GSReaderAtCloser) Close() error {
	if o.r != nil {
		return o.r.Close()
	}
	return nil
}

// IsGoogleStoragePath reports whether path names a gs:// object.
func IsGoogleStoragePath(path string) bool {
	return strings.HasPrefix(path, "gs://")
}

// MaybeOpenFromGoogleStorage opens path from Google Storage when it starts
// with gs:// and from the local filesystem otherwise. It also returns the
// size in bytes.
func MaybeOpenFromGoogleStorage(path string, client *storage.Client) (ReaderAtCloser, int64, error) {
	if IsGoogleStoragePath(path) {
		if client == nil {
			return nil, 0, fmt.Errorf("%s: a storage client is required for gs:// paths", path)
		}

		// Detect the bucket and the path to the actual file
		pathParts := strings.SplitN(strings.TrimPrefix(path, "gs://"), "/", 2)
		if len(pathParts) != 2 {
			return nil, 0, fmt.Errorf("Tried to split your google storage path into 2 parts, but got %d: %v", len(pathParts), pathParts)
		}

		handle := client.Bucket(pathParts[0]).Object(pathParts[1])
		wrapped := &GSReaderAtCloser{
			ObjectHandle: handle,
			Context:      context.Background(),
		}

		// Make a hard call to get the filesize
		attrs, err := handle.Attrs(wrapped.Context)
		if err != nil {
			return nil, 0, pfx.Err(fmt.Errorf("%s: %s", path, err))
		}

		return wrapped, attrs.Size, nil
	}

	f, err := os.Open(ExpandHome(path))
	if err != nil {
		return nil, 0, err
	}
	fstat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fstat.Size(), nil
}
