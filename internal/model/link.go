package model

import "time"

// FileLink attaches a file to an entity owned by the CRUD layer. EntityKind and
// EntityID are opaque here.
type FileLink struct {
	FileID       string    `db:"file_id"`
	EntityKind   string    `db:"entity_kind"`
	EntityID     string    `db:"entity_id"`
	Purpose      string    `db:"purpose"`
	DisplayOrder int       `db:"display_order"`
	CreatedAt    time.Time `db:"created_at"`
}
