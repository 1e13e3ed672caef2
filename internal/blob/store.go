// Package blob provides owner-scoped file storage for uploaded study
// material. Files live under a path of the form
//
//	{student_id}/{subject}/{timestamp}_{filename}
//
// so listing a student's files is a prefix scan and nothing outside the
// student's own prefix is ever returned. Two backends exist: Azure Blob
// Storage for production and a local directory for development and tests.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when a blob path does not exist.
var ErrNotFound = errors.New("blob: not found")

// timestampLayout is the upload-time prefix on stored filenames.
const timestampLayout = "20060102_150405"

// UploadInput describes a file to store together with its owner scope.
type UploadInput struct {
	// StudentID is the owner. Required.
	StudentID string
	// Subject is the subject folder under the owner's prefix. Required.
	Subject string
	// Filename is the original filename as uploaded.
	Filename string
	// Data is the raw file content.
	Data []byte
	// Metadata holds extra key-value pairs stored alongside the blob.
	Metadata map[string]string
}

// UploadResult reports where an upload landed.
type UploadResult struct {
	// Path is the full blob path, usable with Download and Delete.
	Path string
	// UploadedAt is the timestamp baked into the stored filename.
	UploadedAt time.Time
}

// FileInfo describes one stored blob.
type FileInfo struct {
	// Path is the full blob path.
	Path string
	// Name is the stored filename (timestamp prefix included).
	Name string
	// Size is the content length in bytes.
	Size int64
	// LastModified is the backend's modification time.
	LastModified time.Time
	// Metadata holds the key-value pairs stored with the blob.
	Metadata map[string]string
}

// Store is the interface for owner-scoped blob storage.
// Implementations must be safe to call from multiple goroutines.
type Store interface {
	// Upload stores the file under the owner-scoped path and returns it.
	Upload(ctx context.Context, in UploadInput) (*UploadResult, error)

	// Download returns the content of the blob at the given path.
	// Returns ErrNotFound when the path does not exist.
	Download(ctx context.Context, blobPath string) ([]byte, error)

	// List returns the owner's blobs, optionally narrowed to one subject.
	List(ctx context.Context, studentID, subject string) ([]FileInfo, error)

	// Delete removes the blob at the given path.
	// Returns ErrNotFound when the path does not exist.
	Delete(ctx context.Context, blobPath string) error
}

// buildPath constructs the owner-scoped blob path for an upload.
func buildPath(studentID, subject, filename string, now time.Time) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	return fmt.Sprintf("%s/%s/%s_%s", studentID, subject, now.UTC().Format(timestampLayout), name)
}

// listPrefix returns the prefix that scopes a List call to one owner,
// optionally narrowed to one subject.
func listPrefix(studentID, subject string) string {
	if subject == "" {
		return studentID + "/"
	}
	return studentID + "/" + subject + "/"
}

// baseName returns the final path segment of a blob path.
func baseName(blobPath string) string {
	return path.Base(blobPath)
}

// validateUpload rejects inputs that would escape the owner's prefix or
// produce an unusable path.
func validateUpload(in UploadInput) error {
	if in.StudentID == "" {
		return fmt.Errorf("blob: upload requires a student_id")
	}
	if in.Subject == "" {
		return fmt.Errorf("blob: upload requires a subject")
	}
	if in.Filename == "" {
		return fmt.Errorf("blob: upload requires a filename")
	}
	for _, part := range []string{in.StudentID, in.Subject} {
		if strings.ContainsAny(part, "/\\") || part == "." || part == ".." {
			return fmt.Errorf("blob: invalid path segment %q", part)
		}
	}
	return nil
}
