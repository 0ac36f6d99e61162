package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GetFileExtension extracts the file extension from a path, or empty string if none
func GetFileExtension(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	return strings.TrimPrefix(ext, ".")
}

// EnsureDir checks if a given directory plus the following path exists, then creates it if not
func EnsureDir(dir string, path ...string) error {
	targetPath := []string{dir}
	targetPath = append(targetPath, path...)

	target := filepath.Join(targetPath...)
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("ensure dir %s: %w", target, err)
	}
	return nil
}
