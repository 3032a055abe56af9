package storage

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// supportedExtensions is the allow-list of raw note file extensions.
var supportedExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".text": true,
}

// ValidateFilename checks a client-supplied filename before any filesystem
// access. It rejects empty names, anything containing path separators or
// parent references, and extensions outside the allow-list.
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidFilename)
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q contains path separators or parent references", ErrInvalidFilename, name)
	}
	if !supportedExtensions[strings.ToLower(filepath.Ext(name))] {
		return fmt.Errorf("%w: %q has an unsupported extension", ErrInvalidFilename, name)
	}
	return nil
}

// SupportedExtensions returns the allow-listed extensions in sorted order.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(supportedExtensions))
	for ext := range supportedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
