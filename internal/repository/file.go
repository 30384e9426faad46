package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/templui/mediapipe/internal/model"
)

var (
	ErrFileNotFound      = errors.New("file not found")
	ErrInvalidTransition = errors.New("invalid processing status transition")
)

type FileRepository interface {
	Create(file *model.File) error
	ByID(id string) (*model.File, error)
	ByUploader(uploaderID string) ([]*model.File, error)
	DerivableByStatus(status model.ProcessingStatus, exts []string, limit int) ([]*model.File, error)
	UpdateStatus(id string, next model.ProcessingStatus) error
	SetHasDerivatives(id string, has bool) error
	Delete(id string) error
}

type fileRepository struct {
	db *sqlx.DB
}

func NewFileRepository(db *sqlx.DB) *fileRepository {
	return &fileRepository{db: db}
}

func (r *fileRepository) Create(file *model.File) error {
	query := `INSERT INTO files (id, uploader_id, original_name, stored_name, file_path, file_size, mime_type, file_kind, processing_status, has_derivatives, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.Exec(query,
		file.ID,
		file.UploaderID,
		file.OriginalName,
		file.StoredName,
		file.FilePath,
		file.FileSize,
		file.MimeType,
		file.FileKind,
		file.ProcessingStatus,
		file.HasDerivatives,
		file.CreatedAt,
		file.UpdatedAt,
	)

	return err
}

func (r *fileRepository) ByID(id string) (*model.File, error) {
	file := &model.File{}
	query := `SELECT * FROM files WHERE id = $1`

	err := r.db.Get(file, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}

	return file, nil
}

func (r *fileRepository) ByUploader(uploaderID string) ([]*model.File, error) {
	var files []*model.File
	query := `SELECT * FROM files WHERE uploader_id = $1 ORDER BY created_at DESC`

	err := r.db.Select(&files, query, uploaderID)
	if err != nil {
		return nil, err
	}

	return files, nil
}

// DerivableByStatus returns the oldest images in status whose storage key
// ends in one of exts, at most limit of them. Files that never leave pending
// (documents, vector images) are filtered out here so they cannot fill the page.
func (r *fileRepository) DerivableByStatus(status model.ProcessingStatus, exts []string, limit int) ([]*model.File, error) {
	if len(exts) == 0 {
		return nil, nil
	}

	conds := make([]string, len(exts))
	args := []any{status, model.FileKindImage}
	for i, ext := range exts {
		conds[i] = "LOWER(file_path) LIKE ?"
		args = append(args, "%"+strings.ToLower(ext))
	}
	args = append(args, limit)

	query := `SELECT * FROM files WHERE processing_status = ? AND file_kind = ? AND (` +
		strings.Join(conds, " OR ") + `) ORDER BY created_at ASC LIMIT ?`

	var files []*model.File
	err := r.db.Select(&files, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}

	return files, nil
}

// UpdateStatus moves a file to next. The allowed source states are part of the
// UPDATE itself, so two racing writers can never move a record backwards.
func (r *fileRepository) UpdateStatus(id string, next model.ProcessingStatus) error {
	from := model.SourcesFor(next)
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing moves to %s", ErrInvalidTransition, next)
	}

	query, args, err := sqlx.In(
		`UPDATE files SET processing_status = ?, updated_at = ? WHERE id = ? AND processing_status IN (?)`,
		next, time.Now().UTC(), id, from,
	)
	if err != nil {
		return err
	}

	res, err := r.db.Exec(r.db.Rebind(query), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	current, err := r.ByID(id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.ProcessingStatus, next)
}

func (r *fileRepository) SetHasDerivatives(id string, has bool) error {
	query := `UPDATE files SET has_derivatives = $1, updated_at = $2 WHERE id = $3`

	res, err := r.db.Exec(query, has, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrFileNotFound
	}
	return nil
}

func (r *fileRepository) Delete(id string) error {
	query := `DELETE FROM files WHERE id = $1`
	_, err := r.db.Exec(query, id)
	return err
}
