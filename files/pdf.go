package files

import (
	"bytes"
	"errors"

	pdf "rsc.io/pdf"
)

// ErrNoTextLayer is returned for PDFs that contain no extractable text
// (scanned documents, image-only exports).
var ErrNoTextLayer = errors.New("pdf has no text layer")

// ExtractPDFText opens a PDF at filePath and returns extracted text up to
// maxChars. If maxChars <= 0, a sane default is used.
func ExtractPDFText(filePath string, maxChars int) (string, error) {
	if maxChars <= 0 {
		maxChars = 50000 // plenty for quiz generation without blowing prompts
	}

	r, err := pdf.Open(filePath)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	total := r.NumPage()
	for pageIndex := 1; pageIndex <= total; pageIndex++ {
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}
		content := p.Content()
		for _, t := range content.Text {
			buf.WriteString(t.S)
		}
		buf.WriteString("\n\n")
		if buf.Len() >= maxChars {
			break
		}
	}

	text := buf.String()
	if len(bytes.TrimSpace([]byte(text))) == 0 {
		return "", ErrNoTextLayer
	}
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	return text, nil
}
