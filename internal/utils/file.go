package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultImageExtensions lists the extensions treated as images when no
// explicit list is configured
var DefaultImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".webp"}

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

// GetFileExtension returns the lowercase file extension including the dot
func GetFileExtension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// NormalizeExtensions lowercases extensions and makes sure each starts with a dot
func NormalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

// IsImageFile checks if a file has one of the given image extensions.
// A nil list falls back to DefaultImageExtensions.
func IsImageFile(filename string, exts []string) bool {
	if exts == nil {
		exts = DefaultImageExtensions
	}
	ext := GetFileExtension(filename)
	if ext == "" {
		return false
	}

	for _, imgExt := range exts {
		if ext == imgExt {
			return true
		}
	}
	return false
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// DirExists checks if a directory exists
func DirExists(dirname string) bool {
	info, err := os.Stat(dirname)
	if err != nil {
		return false
	}
	return info.IsDir()
}
