package classifier

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

var errEmptyPDF = errors.New("pdf content is empty")

// ExtractText reads the text of the first maxPages pages of the PDF at path.
// The markers appear on page one of compliant documents, so reading past the
// first few pages only costs time on the large plan booklets that dominate
// these sites.
func ExtractText(path string, maxPages int) (text string, err error) {
	defer recoverExtract(&err)

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	return extractPages(r, maxPages)
}

// ExtractTextBytes is ExtractText over an in-memory document, for callers
// that classify straight off an HTTP response.
func ExtractTextBytes(data []byte, maxPages int) (text string, err error) {
	defer recoverExtract(&err)

	if len(data) == 0 {
		return "", errEmptyPDF
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	return extractPages(r, maxPages)
}

// The pdf package panics on some malformed files; a corrupt upload must
// surface as an error, not take down the worker.
func recoverExtract(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("pdf extraction panic: %v", r)
	}
}

func extractPages(r *pdf.Reader, maxPages int) (string, error) {
	n := r.NumPage()
	if maxPages > 0 && n > maxPages {
		n = maxPages
	}

	var sb strings.Builder
	for i := 1; i <= n; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
	}
	// Image-only scans yield no text. That is a valid non-SBC result, not an
	// extraction failure.
	return sb.String(), nil
}
