package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// metaSuffix marks the sidecar file that carries a local blob's metadata.
const metaSuffix = ".meta.json"

// LocalStore implements Store on a local directory. It mirrors the Azure
// backend's path scheme and keeps each blob's metadata in a JSON sidecar so
// List can return the same information. Intended for development and tests.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed and returns a store
// rooted there.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blob: local store requires a root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob: failed to create root %q: %w", root, err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) fullPath(blobPath string) string {
	return filepath.Join(s.root, filepath.FromSlash(blobPath))
}

// Upload stores the file under the owner-scoped path with a metadata sidecar.
func (s *LocalStore) Upload(_ context.Context, in UploadInput) (*UploadResult, error) {
	if err := validateUpload(in); err != nil {
		return nil, err
	}

	now := time.Now()
	blobPath := buildPath(in.StudentID, in.Subject, in.Filename, now)
	full := s.fullPath(blobPath)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("blob: failed to create directory for %q: %w", blobPath, err)
	}
	if err := os.WriteFile(full, in.Data, 0o644); err != nil {
		return nil, fmt.Errorf("blob: failed to write %q: %w", blobPath, err)
	}

	metadata := map[string]string{
		"student_id":        in.StudentID,
		"subject":           in.Subject,
		"original_filename": in.Filename,
		"upload_timestamp":  now.UTC().Format(time.RFC3339),
	}
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("blob: failed to encode metadata for %q: %w", blobPath, err)
	}
	if err := os.WriteFile(full+metaSuffix, meta, 0o644); err != nil {
		return nil, fmt.Errorf("blob: failed to write metadata for %q: %w", blobPath, err)
	}

	return &UploadResult{Path: blobPath, UploadedAt: now}, nil
}

// Download returns the content of the blob at the given path.
func (s *LocalStore) Download(_ context.Context, blobPath string) ([]byte, error) {
	data, err := os.ReadFile(s.fullPath(blobPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob: %q: %w", blobPath, ErrNotFound)
		}
		return nil, fmt.Errorf("blob: reading %q failed: %w", blobPath, err)
	}
	return data, nil
}

// List walks the owner's directory and returns each blob with its sidecar
// metadata.
func (s *LocalStore) List(_ context.Context, studentID, subject string) ([]FileInfo, error) {
	if studentID == "" {
		return nil, fmt.Errorf("blob: list requires a student_id")
	}

	prefix := listPrefix(studentID, subject)
	dir := filepath.Join(s.root, filepath.FromSlash(strings.TrimSuffix(prefix, "/")))

	var files []FileInfo
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, metaSuffix) {
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}

		info := FileInfo{
			Path:         filepath.ToSlash(rel),
			Name:         d.Name(),
			Size:         fi.Size(),
			LastModified: fi.ModTime(),
			Metadata:     make(map[string]string),
		}
		if meta, err := os.ReadFile(p + metaSuffix); err == nil {
			_ = json.Unmarshal(meta, &info.Metadata)
		}
		files = append(files, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blob: listing %q failed: %w", prefix, err)
	}

	return files, nil
}

// Delete removes the blob and its metadata sidecar.
func (s *LocalStore) Delete(_ context.Context, blobPath string) error {
	full := s.fullPath(blobPath)
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("blob: %q: %w", blobPath, ErrNotFound)
		}
		return fmt.Errorf("blob: delete of %q failed: %w", blobPath, err)
	}
	_ = os.Remove(full + metaSuffix)
	return nil
}
