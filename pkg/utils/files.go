package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolveSource makes relPath absolute and checks that it names a regular
// file. It also returns the directory holding the file, where config
// discovery starts.
func ResolveSource(relPath string) (fullPath string, parentDir string, err error) {
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return "", "", err
	}
	if !info.Mode().IsRegular() {
		return "", "", fmt.Errorf("%s is not a regular file", fullPath)
	}

	return fullPath, filepath.Dir(fullPath), nil
}
