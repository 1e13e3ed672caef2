package ingestion

import (
	"path/filepath"
	"strings"
)

// FileType returns the lowercase extension of the filename without the dot,
// used as the file_type metadata on every chunk.
func FileType(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

// DefaultTopic derives a topic label from the filename when the uploader did
// not provide one: the base name without extension, lowercased, with spaces
// collapsed to underscores, prefixed with "uploaded_content_".
func DefaultTopic(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ToLower(strings.TrimSpace(base))
	base = strings.Join(strings.Fields(base), "_")
	if base == "" {
		base = "file"
	}
	return "uploaded_content_" + base
}

// ClampDifficulty normalizes a difficulty level to the 1-10 scale, defaulting
// to 5 when unset.
func ClampDifficulty(level int) int {
	switch {
	case level == 0:
		return 5
	case level < 1:
		return 1
	case level > 10:
		return 10
	default:
		return level
	}
}
