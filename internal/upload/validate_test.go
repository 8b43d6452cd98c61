package upload

import (
	"errors"
	"testing"
)

var defaultAllowed = []string{"png", "jpg", "jpeg"}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		present  bool
		filename string
		want     error
	}{
		{"missing field", false, "", ErrNoImage},
		{"missing field ignores name", false, "leaf.jpg", ErrNoImage},
		{"empty filename", true, "", ErrNoSelection},
		{"jpg", true, "leaf.jpg", nil},
		{"jpeg", true, "leaf.jpeg", nil},
		{"png", true, "leaf.png", nil},
		{"uppercase", true, "LEAF.JPG", nil},
		{"mixed case", true, "leaf.JpEg", nil},
		{"multiple dots", true, "archive.tar.png", nil},
		{"path in name", true, "photos/leaf.jpg", nil},
		{"no extension", true, "leaf", ErrInvalidType},
		{"trailing dot", true, "leaf.", ErrInvalidType},
		{"gif", true, "leaf.gif", ErrInvalidType},
		{"webp", true, "leaf.webp", ErrInvalidType},
		{"extension only in stem", true, "jpg.exe", ErrInvalidType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.present, tt.filename, defaultAllowed)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Validate(%v, %q) = %v, want %v", tt.present, tt.filename, err, tt.want)
			}
		})
	}
}

func TestValidate_Messages(t *testing.T) {
	if got := Validate(false, "", defaultAllowed).Error(); got != "No image uploaded" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := Validate(true, "", defaultAllowed).Error(); got != "No image selected" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := Validate(true, "a.bmp", defaultAllowed).Error(); got != "Invalid file type. Only png/jpg/jpeg allowed." {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestIsValidationError(t *testing.T) {
	if !IsValidationError(ErrInvalidType) {
		t.Fatal("expected ErrInvalidType to be a validation error")
	}
	if IsValidationError(ErrStorage) {
		t.Fatal("storage errors are not validation errors")
	}
	if IsValidationError(nil) {
		t.Fatal("nil is not a validation error")
	}
}
