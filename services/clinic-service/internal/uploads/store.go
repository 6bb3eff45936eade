package uploads

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/SamuelAtedla/heartcare/libs/db"
)

var (
	ErrNotFound           = errors.New("document not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
)

// MaxFileSize caps a single document upload (20 MB).
const MaxFileSize = 20 * 1024 * 1024

// allowedContentTypes lists the MIME types patients and doctors may upload:
// referral letters, scans and lab reports.
var allowedContentTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"application/pdf": true,
	"text/plain":      true,
}

type Document struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store writes document bytes to a local directory and metadata to Postgres.
// Files on disk are named by document id, never by the client's file name.
type Store struct {
	pool *db.Pool
	dir  string
}

func NewStore(pool *db.Pool, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &Store{pool: pool, dir: dir}, nil
}

func (s *Store) Save(ctx context.Context, ownerID, fileName, contentType string, content io.Reader) (Document, error) {
	if !allowedContentTypes[contentType] {
		return Document{}, ErrInvalidContentType
	}

	doc := Document{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		FileName:    filepath.Base(fileName),
		ContentType: contentType,
	}

	path := filepath.Join(s.dir, doc.ID)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return Document{}, err
	}

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(f, hasher), io.LimitReader(content, MaxFileSize+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return Document{}, err
	}
	if written > MaxFileSize {
		_ = os.Remove(path)
		return Document{}, ErrFileTooLarge
	}

	doc.SizeBytes = written
	doc.SHA256 = hex.EncodeToString(hasher.Sum(nil))

	err = s.pool.QueryRow(ctx, `
		INSERT INTO documents (id, owner_id, file_name, content_type, size_bytes, sha256)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, doc.ID, doc.OwnerID, doc.FileName, doc.ContentType, doc.SizeBytes, doc.SHA256).Scan(&doc.CreatedAt)
	if err != nil {
		_ = os.Remove(path)
		return Document{}, err
	}
	return doc, nil
}

func (s *Store) Get(ctx context.Context, ownerID, id string) (Document, error) {
	var doc Document
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, owner_id::text, file_name, content_type, size_bytes, sha256, created_at
		FROM documents
		WHERE id = $1 AND owner_id = $2
	`, id, ownerID).Scan(&doc.ID, &doc.OwnerID, &doc.FileName, &doc.ContentType, &doc.SizeBytes, &doc.SHA256, &doc.CreatedAt)
	if err == pgx.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Open returns the document content for streaming to the client.
func (s *Store) Open(ctx context.Context, ownerID, id string) (io.ReadCloser, Document, error) {
	doc, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, Document{}, err
	}
	f, err := os.Open(filepath.Join(s.dir, doc.ID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Document{}, ErrNotFound
		}
		return nil, Document{}, err
	}
	return f, doc, nil
}

func (s *Store) List(ctx context.Context, ownerID string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, owner_id::text, file_name, content_type, size_bytes, sha256, created_at
		FROM documents
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.OwnerID, &doc.FileName, &doc.ContentType, &doc.SizeBytes, &doc.SHA256, &doc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, ownerID, id string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM documents
		WHERE id = $1 AND owner_id = $2
	`, id, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	_ = os.Remove(filepath.Join(s.dir, id))
	return nil
}
