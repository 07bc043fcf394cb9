package runner

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a script path escapes the runner's root.
var ErrOutsideRoot = errors.New("script outside runner root")

func confinedUnderRoot(root, candidate string) (bool, string) {
	if root == "" {
		return false, "root not set"
	}
	base, err := filepath.Abs(root)
	if err != nil {
		return false, "invalid root"
	}
	cand, err := filepath.Abs(candidate)
	if err != nil {
		return false, "invalid path"
	}
	if cand == base {
		return false, "script path is the root itself"
	}
	if strings.HasPrefix(cand, base+string(filepath.Separator)) {
		return true, ""
	}
	return false, "path escapes root"
}
