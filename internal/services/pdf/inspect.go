// Package pdf reads uploaded template PDFs before they are stamped.
//
// We use the ledongthuc/pdf library for text extraction. It is a pure Go
// implementation — no CGO or external dependencies required. Stamping
// itself lives in services/stamp; this package only looks.
package pdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// previewRunes caps the text preview returned per page.
const previewRunes = 200

// PageText is the plain text found on one page.
type PageText struct {
	Page      int    `json:"page"`
	Preview   string `json:"preview"`
	WordCount int    `json:"word_count"`
}

// TextSummary is what ledongthuc/pdf sees in a template.
type TextSummary struct {
	PageCount int        `json:"page_count"`
	WordCount int        `json:"word_count"`
	Pages     []PageText `json:"pages"`
}

// Summarize extracts a short text preview of every page.
//
// Go Pattern: The pdf library requires io.ReaderAt for random access, and
// the upload is already in memory, so a bytes.Reader does the job.
func Summarize(data []byte) (*TextSummary, error) {
	pdfReader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	summary := &TextSummary{PageCount: pdfReader.NumPage()}
	for i := 1; i <= summary.PageCount; i++ {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}

		// Some pages are images only; an error here is not fatal.
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		words := countWords(text)
		summary.WordCount += words
		summary.Pages = append(summary.Pages, PageText{
			Page:      i,
			Preview:   preview(text),
			WordCount: words,
		})
	}
	return summary, nil
}

// countWords counts the number of words in a text string.
func countWords(text string) int {
	return len(strings.Fields(text))
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= previewRunes {
		return text
	}
	return string(r[:previewRunes]) + "…"
}

// ValidatePDF checks if the data looks like a PDF by checking the magic bytes.
func ValidatePDF(data []byte) bool {
	// PDF files start with "%PDF-"
	return len(data) >= 5 && string(data[:5]) == "%PDF-"
}
