package frame

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// maxAddressLen is the portable sun_path limit.
const maxAddressLen = 104

// NewAddress returns a fresh socket path under dir for one renderer
// session. An empty dir means the system temporary directory.
func NewAddress(dir string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}

	path := filepath.Join(dir, uuid.NewString()+".sock")
	if len(path) > maxAddressLen {
		return "", fmt.Errorf("%w: socket path too long (%d bytes): %s", ErrChannelUnavailable, len(path), path)
	}

	return path, nil
}
