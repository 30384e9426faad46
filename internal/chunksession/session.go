// Package chunksession keeps the metadata of chunked uploads between requests.
package chunksession

import (
	"context"
	"errors"
	"regexp"
	"time"
)

var (
	ErrSessionNotFound = errors.New("chunk session not found")
	ErrInvalidID       = errors.New("invalid chunk session id")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id is safe to use as a file name and a redis key.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Session is one chunked upload in progress. Chunks are appended to PartPath
// in arrival order.
type Session struct {
	ID             string    `json:"id"`
	UploaderID     string    `json:"uploader_id"`
	OriginalName   string    `json:"original_name"`
	StoredName     string    `json:"stored_name"`
	StorageKey     string    `json:"storage_key"`
	PartPath       string    `json:"part_path"`
	DeclaredSize   int64     `json:"declared_size"`
	TotalChunks    int       `json:"total_chunks"`
	ReceivedChunks int       `json:"received_chunks"`
	BytesWritten   int64     `json:"bytes_written"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store persists sessions. Get returns ErrSessionNotFound for unknown ids.
type Store interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Session, error)
}
