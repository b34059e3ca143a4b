package fetch

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"prospector/internal/logging"
)

// pdfMagic is the file signature every PDF starts with.
const pdfMagic = "%PDF-"

// IsPDF detects PDF content by URL suffix or file signature.
func IsPDF(rawURL string, body []byte) bool {
	trimmed := strings.ToLower(strings.TrimSpace(rawURL))
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if strings.HasSuffix(trimmed, ".pdf") {
		return true
	}
	return bytes.HasPrefix(body, []byte(pdfMagic))
}

// ExtractPDFText writes the body to a temp file, pulls the plain text
// out, and removes the temp file before returning.
func ExtractPDFText(body []byte) (string, error) {
	tmp, err := os.CreateTemp("", "prospector-*.pdf")
	if err != nil {
		return "", fmt.Errorf("pdf temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("pdf temp write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("pdf temp close: %w", err)
	}

	f, reader, err := pdf.Open(tmpPath)
	if err != nil {
		return "", fmt.Errorf("pdf open: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			logging.FetchDebug("pdf page %d/%d unreadable: %v", i, total, err)
			continue
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), nil
}
