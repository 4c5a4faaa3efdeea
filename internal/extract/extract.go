// Package extract converts uploaded exam documents into plain text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	docx "github.com/fumiama/go-docx"
	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedFormat means the file extension names no known extractor.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ErrExtraction wraps parser failures on an otherwise accepted document.
var ErrExtraction = errors.New("document text extraction failed")

// PageSeparator joins per-page PDF text in page order.
const PageSeparator = "\n\n"

// Extractor turns an uploaded binary document into plain text.
type Extractor interface {
	Extract(filename string, data []byte) (string, error)
}

// Supported reports whether the filename has an extractable extension.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".docx":
		return true
	}
	return false
}

// DocExtractor extracts text from PDF and DOCX files.
type DocExtractor struct{}

func NewDocExtractor() *DocExtractor {
	return &DocExtractor{}
}

// Extract returns the document's text in source order: page by page for
// PDF, paragraph by paragraph for DOCX. The PDF parser panics on some
// malformed files, so panics are caught here and reported as ErrExtraction.
func (e *DocExtractor) Extract(filename string, data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrExtraction, r)
		}
	}()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return extractPDF(data)
	case ".docx":
		return extractDOCX(data)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", ErrExtraction, i, err)
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, PageSeparator), nil
}

func extractDOCX(data []byte) (string, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	var sb strings.Builder
	for _, item := range doc.Document.Body.Items {
		switch it := item.(type) {
		case *docx.Paragraph:
			sb.WriteString(fmt.Sprint(it))
			sb.WriteString("\n")
		case *docx.Table:
			sb.WriteString(fmt.Sprint(it))
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}
