package runner

import "path/filepath"

// resolvePath roots a playbook-relative path at baseDir unless it is
// already absolute.
func resolvePath(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
