package repository

import (
	"github.com/jmoiron/sqlx"
	"github.com/templui/mediapipe/internal/model"
)

type LinkRepository interface {
	Link(link *model.FileLink) error
	Unlink(fileID, entityKind, entityID, purpose string) error
	LinksForFile(fileID string) ([]*model.FileLink, error)
	FilesForEntity(entityKind, entityID string) ([]*model.File, error)
	CountLinks(fileID string) (int, error)
}

type linkRepository struct {
	db *sqlx.DB
}

func NewLinkRepository(db *sqlx.DB) *linkRepository {
	return &linkRepository{db: db}
}

// Link inserts the link or updates its display order when it already exists.
func (r *linkRepository) Link(link *model.FileLink) error {
	query := `INSERT INTO file_links (file_id, entity_kind, entity_id, purpose, display_order, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (file_id, entity_kind, entity_id, purpose)
	          DO UPDATE SET display_order = excluded.display_order`

	_, err := r.db.Exec(query,
		link.FileID,
		link.EntityKind,
		link.EntityID,
		link.Purpose,
		link.DisplayOrder,
		link.CreatedAt,
	)

	return err
}

func (r *linkRepository) Unlink(fileID, entityKind, entityID, purpose string) error {
	query := `DELETE FROM file_links WHERE file_id = $1 AND entity_kind = $2 AND entity_id = $3 AND purpose = $4`
	_, err := r.db.Exec(query, fileID, entityKind, entityID, purpose)
	return err
}

func (r *linkRepository) LinksForFile(fileID string) ([]*model.FileLink, error) {
	var links []*model.FileLink
	query := `SELECT * FROM file_links WHERE file_id = $1 ORDER BY entity_kind, entity_id, display_order`

	err := r.db.Select(&links, query, fileID)
	if err != nil {
		return nil, err
	}

	return links, nil
}

func (r *linkRepository) FilesForEntity(entityKind, entityID string) ([]*model.File, error) {
	var files []*model.File
	query := `SELECT f.* FROM files f
	          JOIN file_links l ON l.file_id = f.id
	          WHERE l.entity_kind = $1 AND l.entity_id = $2
	          ORDER BY l.display_order, f.created_at`

	err := r.db.Select(&files, query, entityKind, entityID)
	if err != nil {
		return nil, err
	}

	return files, nil
}

func (r *linkRepository) CountLinks(fileID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM file_links WHERE file_id = $1`

	err := r.db.Get(&count, query, fileID)
	return count, err
}
