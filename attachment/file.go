package attachment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

const defaultMimeType = "application/octet-stream"

// ErrNotRegularFile is returned when a selected path is a directory or device.
var ErrNotRegularFile = errors.New("attachment: not a regular file")

// File is a locally selected file awaiting transmission.
type File struct {
	Path     string
	Name     string
	MimeType string
	Size     int64
}

// Stat describes the file at path. The declared type comes from the
// extension, falling back to content sniffing.
func Stat(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat attachment: %w", err)
	}
	if !info.Mode().IsRegular() {
		return File{}, fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}

	mimeType := TypeForName(path)
	if mimeType == "" {
		if detected, err := mimetype.DetectFile(path); err == nil {
			mimeType = detected.String()
		}
	}
	if mimeType == "" {
		mimeType = defaultMimeType
	}

	return File{
		Path:     path,
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Size:     info.Size(),
	}, nil
}
