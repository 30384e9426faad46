package validation

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/templui/mediapipe/internal/model"
)

var (
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
	ErrFileTooLarge        = errors.New("file too large")
)

// FileConstraints defines validation rules for one family of uploads
type FileConstraints struct {
	Kind              model.FileKind
	AllowedExtensions map[string]bool
}

var (
	// ImageConstraints covers raster and vector images
	ImageConstraints = FileConstraints{
		Kind: model.FileKindImage,
		AllowedExtensions: map[string]bool{
			".jpg":  true,
			".jpeg": true,
			".png":  true,
			".gif":  true,
			".webp": true,
			".svg":  true,
		},
	}

	// DocumentConstraints covers office documents, PDFs and plain text
	DocumentConstraints = FileConstraints{
		Kind: model.FileKindDocument,
		AllowedExtensions: map[string]bool{
			".pdf":  true,
			".doc":  true,
			".docx": true,
			".xls":  true,
			".xlsx": true,
			".ppt":  true,
			".pptx": true,
			".txt":  true,
		},
	}

	// VideoConstraints covers video containers (stored as-is, never derived)
	VideoConstraints = FileConstraints{
		Kind: model.FileKindVideo,
		AllowedExtensions: map[string]bool{
			".mp4": true,
			".avi": true,
			".mov": true,
			".wmv": true,
		},
	}

	// UploadConstraints is the allow-list enforced by the ingest path
	UploadConstraints = []FileConstraints{ImageConstraints, DocumentConstraints, VideoConstraints}
)

// classification for extensions outside the allow-list, used for reporting only
var otherKinds = map[string]model.FileKind{
	".mp3":  model.FileKindAudio,
	".wav":  model.FileKindAudio,
	".ogg":  model.FileKindAudio,
	".flac": model.FileKindAudio,
	".zip":  model.FileKindArchive,
	".rar":  model.FileKindArchive,
	".7z":   model.FileKindArchive,
	".tar":  model.FileKindArchive,
	".gz":   model.FileKindArchive,
}

// Extension returns the lower-cased extension of filename including the dot.
func Extension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// ClassifyKind maps an extension to its file kind.
func ClassifyKind(ext string) model.FileKind {
	ext = strings.ToLower(ext)
	for _, c := range UploadConstraints {
		if c.AllowedExtensions[ext] {
			return c.Kind
		}
	}
	if kind, ok := otherKinds[ext]; ok {
		return kind
	}
	return model.FileKindOther
}

// ValidateExtension checks filename against the upload allow-list and returns its kind.
// It never looks at content, so it can run before the request body is read.
func ValidateExtension(filename string, constraints ...FileConstraints) (model.FileKind, error) {
	if len(constraints) == 0 {
		constraints = UploadConstraints
	}

	ext := Extension(filename)
	for _, c := range constraints {
		if c.AllowedExtensions[ext] {
			return c.Kind, nil
		}
	}
	if ext == "" {
		return "", fmt.Errorf("%w: missing extension", ErrExtensionNotAllowed)
	}
	return "", fmt.Errorf("%w: %s", ErrExtensionNotAllowed, ext)
}

// ValidateSize rejects a declared or observed size above max.
func ValidateSize(size, max int64) error {
	if size > max {
		return fmt.Errorf("%w: maximum size is %d MB", ErrFileTooLarge, max/(1<<20))
	}
	return nil
}

// DetectMimeType sniffs the first bytes of a file and falls back to the
// extension when sniffing yields nothing specific.
func DetectMimeType(head []byte, ext string) string {
	byExt := mime.TypeByExtension(strings.ToLower(ext))
	if len(head) == 0 {
		if byExt != "" {
			return byExt
		}
		return "application/octet-stream"
	}

	// http.DetectContentType reads max 512 bytes to determine MIME type
	detected := http.DetectContentType(head)
	switch {
	case detected == "application/octet-stream", strings.HasPrefix(detected, "text/plain"):
		// Office formats are zip containers and svg sniffs as text; prefer the extension.
		if byExt != "" {
			return byExt
		}
	case detected == "application/zip" && byExt != "":
		return byExt
	}
	return detected
}
