package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrStorage wraps any filesystem failure while persisting an upload.
var ErrStorage = errors.New("storing upload")

// StoredImage is an upload persisted under the store's directory.
type StoredImage struct {
	Name string // final sanitized filename
	Path string // filesystem location, handed to the classifier
	URL  string // where the HTTP server exposes the file
}

// Store writes uploads into a single directory.
type Store struct {
	dir       string
	urlPrefix string
	newID     func() string
}

// NewStore creates a Store rooted at dir whose files are served under urlPrefix.
func NewStore(dir, urlPrefix string) *Store {
	return &Store{
		dir:       dir,
		urlPrefix: urlPrefix,
		newID:     func() string { return uuid.NewString()[:8] },
	}
}

// Dir returns the upload directory.
func (s *Store) Dir() string { return s.dir }

// URLPrefix returns the URL path files are served under.
func (s *Store) URLPrefix() string { return s.urlPrefix }

// Save sanitizes filename, gives it a random suffix so concurrent uploads of
// the same name cannot overwrite each other, and copies r into the upload
// directory. The directory is created on demand.
func (s *Store) Save(filename string, r io.Reader) (StoredImage, error) {
	name := s.storedName(filename)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return StoredImage{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	dst := filepath.Join(s.dir, name)
	f, err := os.Create(dst)
	if err != nil {
		return StoredImage{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(dst)
		return StoredImage{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if err := f.Close(); err != nil {
		return StoredImage{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	return StoredImage{
		Name: name,
		Path: dst,
		URL:  path.Join(s.urlPrefix, name),
	}, nil
}

func (s *Store) storedName(filename string) string {
	stem, ext := filename, ""
	if i := strings.LastIndex(filename, "."); i >= 0 {
		stem, ext = filename[:i], SecureFilename(strings.ToLower(filename[i+1:]))
	}
	stem = SecureFilename(stem)
	if stem == "" {
		stem = "image"
	}

	name := stem + "-" + s.newID()
	if ext != "" {
		name += "." + ext
	}
	return name
}
