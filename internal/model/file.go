package model

import (
	"time"
)

// FileKind classifies an upload by extension.
type FileKind string

const (
	FileKindImage    FileKind = "image"
	FileKindVideo    FileKind = "video"
	FileKindAudio    FileKind = "audio"
	FileKindDocument FileKind = "document"
	FileKindArchive  FileKind = "archive"
	FileKindOther    FileKind = "other"
)

// Category is the first path segment under the upload root for this kind.
func (k FileKind) Category() string {
	switch k {
	case FileKindImage:
		return "images"
	case FileKindVideo:
		return "videos"
	case FileKindAudio:
		return "audio"
	case FileKindDocument:
		return "documents"
	case FileKindArchive:
		return "archives"
	default:
		return "files"
	}
}

// File is the durable record of one uploaded original.
type File struct {
	ID               string           `db:"id"`
	UploaderID       string           `db:"uploader_id"`
	OriginalName     string           `db:"original_name"`
	StoredName       string           `db:"stored_name"`
	FilePath         string           `db:"file_path"` // Storage key relative to the upload root
	FileSize         int64            `db:"file_size"`
	MimeType         string           `db:"mime_type"`
	FileKind         FileKind         `db:"file_kind"`
	ProcessingStatus ProcessingStatus `db:"processing_status"`
	HasDerivatives   bool             `db:"has_derivatives"`
	CreatedAt        time.Time        `db:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at"`
}

func (f *File) IsImage() bool {
	return f.FileKind == FileKindImage
}
