package documents

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// failingStore rejects every insert; the other methods are never reached in
// the upload path.
type failingStore struct{}

func (failingStore) Create(*Document) error              { return fmt.Errorf("insert failed") }
func (failingStore) MarkExtracted(int, string) error     { return nil }
func (failingStore) MarkFailed(int, string) error        { return nil }
func (failingStore) GetByID(int) (*Document, error)      { return nil, nil }
func (failingStore) ListForUser(int) ([]Document, error) { return nil, nil }
func (failingStore) IsReferenced(int) (bool, error)      { return false, nil }
func (failingStore) Delete(int) error                    { return nil }

func uploadRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(nil) // rejection paths never reach the repository
	r := gin.New()
	r.POST("/api/files", func(c *gin.Context) { c.Set("user_id", 1) }, h.upload)
	return r
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	r := uploadRouter()
	for _, name := range []string{"notes.docx", "slides.pptx", "image.png", "archive"} {
		body, ct := multipartUpload(t, name, []byte("whatever"))
		req := httptest.NewRequest(http.MethodPost, "/api/files", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusUnprocessableEntity, w.Code, "file %s", name)
		require.Contains(t, w.Body.String(), "unsupported_format")
	}
}

func TestUploadRequiresFileField(t *testing.T) {
	r := uploadRouter()
	req := httptest.NewRequest(http.MethodPost, "/api/files", bytes.NewReader(nil))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	t.Setenv("MAX_UPLOAD_MB", "1")
	r := uploadRouter()

	big := bytes.Repeat([]byte("a"), 2*1024*1024)
	body, ct := multipartUpload(t, "big.txt", big)
	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestUploadCleansUpFileWhenInsertFails(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("UPLOAD_DIR", dir)

	gin.SetMode(gin.TestMode)
	h := NewHandler(failingStore{})
	r := gin.New()
	r.POST("/api/files", func(c *gin.Context) { c.Set("user_id", 1) }, h.upload)

	body, ct := multipartUpload(t, "notes.txt", []byte("Cells are the unit of life."))
	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries) // the stored file does not outlive the failed row
}

func TestExtractTextPlain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("  Cells are the unit of life.  \n"), 0o644))

	text, err := extractText(path, ".txt")
	require.NoError(t, err)
	require.Equal(t, "Cells are the unit of life.", text)
}

func TestExtractTextEmptyFileFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.md")
	require.NoError(t, os.WriteFile(path, []byte("   \n\t"), 0o644))

	_, err := extractText(path, ".md")
	require.ErrorIs(t, err, ErrExtractionFailed)
}

func TestExtractTextBrokenPDFFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("this is not a pdf"), 0o644))

	_, err := extractText(path, ".pdf")
	require.ErrorIs(t, err, ErrExtractionFailed)
}

func TestExtractTextUnknownExtension(t *testing.T) {
	_, err := extractText("whatever.bin", ".bin")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}
