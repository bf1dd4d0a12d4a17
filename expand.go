package vid2bp

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/carbocation/pfx"
)

// ExpandHome resolves a leading ~ in a local path (as in "~/clips/a.mp4" or
// a bare "~") to the current user's home directory. Any other path, gs://
// paths included, is returned untouched, as is the input when the home
// directory cannot be determined.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		log.Println(pfx.Err(err))
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
