package filestore

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// namePattern validates project IDs and path segments.
// Allows alphanumeric, hyphens, underscores, and dots.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidateName checks if a name is safe for filesystem paths.
func ValidateName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	if len(name) > 255 {
		return fmt.Errorf("%w: name too long (max 255)", ErrInvalidName)
	}

	if name == "." || name == ".." {
		return ErrPathTraversal
	}

	// Path separators are never valid inside a single segment.
	for _, c := range name {
		if c == '/' || c == '\\' || c == '\x00' {
			return ErrPathTraversal
		}
	}

	if !namePattern.MatchString(name) {
		return ErrInvalidName
	}

	// Verify Clean doesn't modify the name (catches edge cases).
	if filepath.Clean(name) != name {
		return ErrPathTraversal
	}

	return nil
}

// ValidatePath checks a slash-separated relative path, segment by segment.
// Temp-file suffixes are rejected so callers cannot collide with the
// write protocol's transient files.
func ValidatePath(relPath string) error {
	if relPath == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidName)
	}
	if strings.HasSuffix(relPath, tmpSuffix) {
		return fmt.Errorf("%w: reserved suffix %q", ErrInvalidName, tmpSuffix)
	}
	for _, segment := range strings.Split(relPath, "/") {
		if err := ValidateName(segment); err != nil {
			return fmt.Errorf("path %q: %w", relPath, err)
		}
	}
	return nil
}
