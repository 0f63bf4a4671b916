package main

import (
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

const UploadDir = "static/uploads"

var allowedPhotoExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

// SavePhoto persists an uploaded photo and returns the relative path to
// store as the memory's photo_url. A nil header or a disallowed extension
// is not an error; the photo is simply skipped and "" is returned.
func SavePhoto(fh *multipart.FileHeader) (string, error) {
	if fh == nil || fh.Filename == "" {
		return "", nil
	}

	name := sanitizeFilename(fh.Filename)
	if !allowedPhotoExtensions[strings.ToLower(filepath.Ext(name))] {
		slog.Debug("Skipping upload with disallowed extension", "filename", fh.Filename)
		return "", nil
	}

	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}

	// Prefixing with a fresh uuid keeps two uploads of the same filename
	// from overwriting each other.
	relpath := path.Join(UploadDir, id.String()+"_"+name)

	dst, err := createFile(relpath)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}

	slog.Debug("Saved a photo", "path", relpath)

	return relpath, nil
}

// sanitizeFilename strips directory components and collapses anything
// outside [A-Za-z0-9._-] so the name is safe to join onto the upload dir.
func sanitizeFilename(name string) string {
	name = filepath.Base(filepath.Clean(name))
	name = strings.ReplaceAll(name, "\\", "_")

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	return strings.TrimLeft(b.String(), ".")
}

func createFile(p string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(p), 0o770); err != nil {
		return nil, err
	}

	return os.Create(p)
}
