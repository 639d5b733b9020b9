package documents

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Upload validation and extraction failures surfaced to handlers.
var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrExtractionFailed  = errors.New("text extraction failed")
)

const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

type Document struct {
	ID               int       `json:"id"`
	UserID           int       `json:"user_id"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	FileSize         int       `json:"file_size"`
	FileExtension    string    `json:"file_extension"`
	ExtractedText    string    `json:"extracted_text,omitempty"`
	ExtractionStatus string    `json:"extraction_status"`
	ExtractionError  string    `json:"extraction_error,omitempty"`
	WordCount        int       `json:"word_count"`
	CharacterCount   int       `json:"character_count"`
	CreatedAt        time.Time `json:"created_at"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(d *Document) error {
	res, err := r.db.Exec(`INSERT INTO files (user_id, filename, original_filename, file_size, file_extension, extraction_status)
		VALUES (?,?,?,?,?,?)`,
		d.UserID, d.Filename, d.OriginalFilename, d.FileSize, d.FileExtension, StatusPending)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	d.ID = int(id)
	d.ExtractionStatus = StatusPending
	return nil
}

// MarkExtracted stores the extraction result. Extracted documents are
// immutable afterwards, so this is the only text mutation.
func (r *Repository) MarkExtracted(id int, text string) error {
	words := len(strings.Fields(text))
	_, err := r.db.Exec(`UPDATE files SET extracted_text=?, extraction_status=?, extraction_error='', word_count=?, character_count=? WHERE id=?`,
		text, StatusSuccess, words, len(text), id)
	return err
}

func (r *Repository) MarkFailed(id int, reason string) error {
	_, err := r.db.Exec(`UPDATE files SET extraction_status=?, extraction_error=? WHERE id=?`, StatusFailed, reason, id)
	return err
}

func (r *Repository) GetByID(id int) (*Document, error) {
	row := r.db.QueryRow(`SELECT id, user_id, filename, original_filename, file_size, file_extension,
		IFNULL(extracted_text,''), extraction_status, IFNULL(extraction_error,''), word_count, character_count, created_at
		FROM files WHERE id=? LIMIT 1`, id)
	var d Document
	if err := row.Scan(&d.ID, &d.UserID, &d.Filename, &d.OriginalFilename, &d.FileSize, &d.FileExtension,
		&d.ExtractedText, &d.ExtractionStatus, &d.ExtractionError, &d.WordCount, &d.CharacterCount, &d.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func (r *Repository) ListForUser(userID int) ([]Document, error) {
	rows, err := r.db.Query(`SELECT id, user_id, filename, original_filename, file_size, file_extension,
		extraction_status, IFNULL(extraction_error,''), word_count, character_count, created_at
		FROM files WHERE user_id=? ORDER BY id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := []Document{}
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.UserID, &d.Filename, &d.OriginalFilename, &d.FileSize, &d.FileExtension,
			&d.ExtractionStatus, &d.ExtractionError, &d.WordCount, &d.CharacterCount, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// IsReferenced reports whether any quiz still points at the document.
func (r *Repository) IsReferenced(id int) (bool, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(1) FROM quizzes WHERE source_file_id=?`, id).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Repository) Delete(id int) error {
	_, err := r.db.Exec(`DELETE FROM files WHERE id=?`, id)
	return err
}
