//go:build windows

package journal

import "os"

// openFileNoFollow opens path for writing. Windows has no O_NOFOLLOW;
// Export checks the destination for a symlink before renaming.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}
