package utils

import (
	"os"
	"path"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func ChangeExt(filename string, newExt string) string {
	ext := path.Ext(filename)
	return filename[0:len(filename)-len(ext)] + "." + newExt
}

// ExpandPath resolves a leading ~ and cleans the result. Paths that cannot be
// expanded are returned cleaned but otherwise untouched.
func ExpandPath(p string) string {
	expanded, err := homedir.Expand(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return filepath.Clean(expanded)
}
