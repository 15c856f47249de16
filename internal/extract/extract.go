// Package extract turns uploaded documents into plain text.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"resumealign/internal/errors"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// Document formats
const (
	FormatPDF         = "pdf"
	FormatDOCX        = "docx"
	FormatText        = "text"
	FormatUnsupported = "unsupported"
)

var errNoText = stderrors.New("no extractable text")

// DecodeError reports a document that could not be turned into text
type DecodeError struct {
	Name   string
	Format string
	Cause  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s (%s): %v", e.Name, e.Format, e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// AppError converts the failure into a validation error for callers
func (e *DecodeError) AppError() *errors.AppError {
	return errors.NewValidationError(errors.ErrCodeDecodeFailed,
		fmt.Sprintf("Could not read %s: %v", e.Name, e.Cause), e).
		WithContext("format", e.Format)
}

// AsDecodeError unwraps a DecodeError from err
func AsDecodeError(err error) (*DecodeError, bool) {
	var decodeErr *DecodeError
	if stderrors.As(err, &decodeErr) {
		return decodeErr, true
	}
	return nil, false
}

// DetectFormat picks a format from the file extension, falling back to
// sniffing the content.
func DetectFormat(name string, data []byte) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FormatPDF
	case ".docx":
		return FormatDOCX
	case ".txt", ".text", ".md", ".markdown":
		return FormatText
	}

	contentType := http.DetectContentType(data)
	switch {
	case strings.HasPrefix(contentType, "application/pdf"):
		return FormatPDF
	case strings.HasPrefix(contentType, "application/zip") && isWordArchive(data):
		return FormatDOCX
	case strings.HasPrefix(contentType, "text/"):
		return FormatText
	default:
		return FormatUnsupported
	}
}

// Text extracts the text of one document. The text is returned as decoded,
// without truncation or cleanup.
func Text(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	format := DetectFormat(name, data)
	var (
		text string
		err  error
	)
	switch format {
	case FormatPDF:
		text, err = pdfText(data)
	case FormatDOCX:
		text, err = docxText(data)
	case FormatText:
		text = string(data)
	default:
		err = fmt.Errorf("unsupported document type %q", http.DetectContentType(data))
	}
	if err == nil && strings.TrimSpace(text) == "" {
		err = errNoText
	}
	if err != nil {
		return "", &DecodeError{Name: name, Format: format, Cause: err}
	}
	return text, nil
}

// pdfText reads every page. The pdf package panics on some malformed
// files, so panics are returned as errors.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func docxText(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	defer func() { _ = doc.Close() }()

	return stripDocxXML(doc.Editable().GetContent())
}

// stripDocxXML keeps character data and turns paragraph, break and tab
// elements into whitespace.
func stripDocxXML(raw string) (string, error) {
	decoder := xml.NewDecoder(strings.NewReader(raw))
	var buf strings.Builder
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("malformed document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			buf.Write(t)
		case xml.StartElement:
			if t.Name.Local == "tab" {
				buf.WriteByte('\t')
			}
		case xml.EndElement:
			if (t.Name.Local == "p" || t.Name.Local == "br") && buf.Len() > 0 {
				buf.WriteByte('\n')
			}
		}
	}
	return strings.TrimSpace(buf.String()), nil
}

func isWordArchive(data []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == "word/document.xml" {
			return true
		}
	}
	return false
}
