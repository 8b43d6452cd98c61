package upload

import (
	"errors"
	"slices"
	"strings"
)

// Validation failures. Their text is shown to the user as-is.
var (
	ErrNoImage     = errors.New("No image uploaded")
	ErrNoSelection = errors.New("No image selected")
	ErrInvalidType = errors.New("Invalid file type. Only png/jpg/jpeg allowed.")
)

// Validate checks the shape of an upload before anything touches disk.
// present reports whether the request carried the upload field at all.
func Validate(present bool, filename string, allowed []string) error {
	if !present {
		return ErrNoImage
	}
	if filename == "" {
		return ErrNoSelection
	}
	ext, ok := Extension(filename)
	if !ok || !slices.Contains(allowed, ext) {
		return ErrInvalidType
	}
	return nil
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNoImage) || errors.Is(err, ErrNoSelection) || errors.Is(err, ErrInvalidType)
}

// Extension returns the lowercased text after the last dot. ok is false
// when the name has no dot.
func Extension(filename string) (ext string, ok bool) {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return "", false
	}
	return strings.ToLower(filename[i+1:]), true
}
