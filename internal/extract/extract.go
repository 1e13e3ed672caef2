// Package extract converts uploaded study material into plain text for
// chunking and indexing. Supported formats: PDF and DOCX (the legacy .doc
// extension is routed to the DOCX parser and fails with a clear error when
// the file is the old binary format).
package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedType is returned when the filename extension is not in the
// supported set. Callers reject such files before any storage side effect.
var ErrUnsupportedType = errors.New("extract: unsupported file type")

// supportedExtensions is the upload allow-list.
var supportedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".doc":  true,
}

// SupportedExtension reports whether the filename has an extension the
// extractor can handle.
func SupportedExtension(filename string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Text extracts the plain text content of the file, dispatching on the
// filename extension. Returns ErrUnsupportedType for anything outside the
// allow-list.
func Text(filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return pdfText(data)
	case ".docx", ".doc":
		return docxText(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
}
