package documents

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"quizforge-backend/files"
	"quizforge-backend/login"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var allowedExtensions = map[string]bool{
	".txt": true,
	".md":  true,
	".pdf": true,
}

// Store is the persistence surface the handler works against. *Repository
// is the MySQL implementation.
type Store interface {
	Create(d *Document) error
	MarkExtracted(id int, text string) error
	MarkFailed(id int, reason string) error
	GetByID(id int) (*Document, error)
	ListForUser(userID int) ([]Document, error)
	IsReferenced(id int) (bool, error)
	Delete(id int) error
}

type Handler struct {
	repo Store
}

func NewHandler(repo Store) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	grp := r.Group("/api/files", login.AuthRequired())
	grp.POST("", h.upload)
	grp.GET("", h.list)
	grp.GET("/:id", h.get)
	grp.DELETE("/:id", h.delete)
}

func uploadDir() string {
	dir := os.Getenv("UPLOAD_DIR")
	if dir == "" {
		dir = "uploads"
	}
	return dir
}

func maxUploadBytes() int64 {
	mb := 10
	if v := os.Getenv("MAX_UPLOAD_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			mb = n
		}
	}
	return int64(mb) * 1024 * 1024
}

// upload stores the file, records it and extracts its text in one request.
// Extraction failure keeps the row with status=failed so the client can
// see what went wrong; the upload itself still succeeds.
func (h *Handler) upload(c *gin.Context) {
	userID, _ := login.UserID(c)
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "file field required"})
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unsupported_format", "message": fmt.Sprintf("unsupported file type %q; allowed: txt, md, pdf", ext)})
		return
	}
	if file.Size > maxUploadBytes() {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "validation_error", "message": "file too large"})
		return
	}

	if err := os.MkdirAll(uploadDir(), 0o755); err != nil {
		log.Printf("[files][upload] mkdir failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not store file"})
		return
	}
	storedName := uuid.NewString() + ext
	storedPath := filepath.Join(uploadDir(), storedName)
	if err := c.SaveUploadedFile(file, storedPath); err != nil {
		log.Printf("[files][upload] save failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not store file"})
		return
	}

	doc := &Document{
		UserID:           userID,
		Filename:         storedName,
		OriginalFilename: file.Filename,
		FileSize:         int(file.Size),
		FileExtension:    strings.TrimPrefix(ext, "."),
	}
	if err := h.repo.Create(doc); err != nil {
		log.Printf("[files][upload] insert failed: %v", err)
		// Without a row nothing references the stored file again.
		if rmErr := os.Remove(storedPath); rmErr != nil {
			log.Printf("[files][upload] orphan cleanup failed: %v", rmErr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not store file"})
		return
	}

	text, err := extractText(storedPath, ext)
	if err != nil {
		log.Printf("[files][extract] id=%d file=%s err=%v", doc.ID, file.Filename, err)
		_ = h.repo.MarkFailed(doc.ID, err.Error())
		doc.ExtractionStatus = StatusFailed
		doc.ExtractionError = err.Error()
	} else {
		if err := h.repo.MarkExtracted(doc.ID, text); err != nil {
			log.Printf("[files][extract] id=%d persist err=%v", doc.ID, err)
		}
		doc.ExtractionStatus = StatusSuccess
		doc.WordCount = len(strings.Fields(text))
		doc.CharacterCount = len(text)
	}
	doc.ExtractedText = ""
	c.JSON(http.StatusCreated, gin.H{"file": doc})
}

// extractText delegates to the format-specific extractor.
func extractText(path, ext string) (string, error) {
	switch ext {
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return "", fmt.Errorf("%w: file is empty", ErrExtractionFailed)
		}
		return text, nil
	case ".pdf":
		text, err := files.ExtractPDFText(path, 0)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		return text, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

func (h *Handler) list(c *gin.Context) {
	userID, _ := login.UserID(c)
	docs, err := h.repo.ListForUser(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not list files"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": docs})
}

func (h *Handler) get(c *gin.Context) {
	userID, _ := login.UserID(c)
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid id"})
		return
	}
	doc, err := h.repo.GetByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not load file"})
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "file not found"})
		return
	}
	if doc.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "not your file"})
		return
	}
	if c.Query("include_text") != "1" {
		doc.ExtractedText = ""
	}
	c.JSON(http.StatusOK, gin.H{"file": doc})
}

func (h *Handler) delete(c *gin.Context) {
	userID, _ := login.UserID(c)
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid id"})
		return
	}
	doc, err := h.repo.GetByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not load file"})
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "file not found"})
		return
	}
	if doc.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "not your file"})
		return
	}
	referenced, err := h.repo.IsReferenced(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not check references"})
		return
	}
	if referenced {
		c.JSON(http.StatusConflict, gin.H{"error": "validation_error", "message": "file is referenced by a quiz"})
		return
	}
	if err := os.Remove(filepath.Join(uploadDir(), doc.Filename)); err != nil && !os.IsNotExist(err) {
		log.Printf("[files][delete] id=%d disk remove failed: %v", id, err)
	}
	if err := h.repo.Delete(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not delete file"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "file deleted"})
}
