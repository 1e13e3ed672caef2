package blob

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureStore implements Store backed by an Azure Blob Storage container.
type AzureStore struct {
	client    *azblob.Client
	container string
}

// AzureConfig holds the settings for constructing an AzureStore.
type AzureConfig struct {
	// ConnectionString is the storage account connection string.
	ConnectionString string
	// Container is the blob container name (e.g. "student-files").
	Container string
}

// NewAzureStore connects to the storage account and ensures the container
// exists, creating it if necessary.
func NewAzureStore(ctx context.Context, cfg *AzureConfig) (*AzureStore, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("blob: azure requires AZURE_STORAGE_CONNECTION_STRING")
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("blob: azure requires a container name")
	}

	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("blob: failed to create azure client: %w", err)
	}

	_, err = client.CreateContainer(ctx, cfg.Container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, fmt.Errorf("blob: failed to ensure container %q: %w", cfg.Container, err)
	}

	return &AzureStore{client: client, container: cfg.Container}, nil
}

// Upload stores the file under the owner-scoped path with its metadata
// attached as blob metadata.
func (s *AzureStore) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	if err := validateUpload(in); err != nil {
		return nil, err
	}

	now := time.Now()
	blobPath := buildPath(in.StudentID, in.Subject, in.Filename, now)

	metadata := map[string]*string{
		"student_id":        ptr(in.StudentID),
		"subject":           ptr(in.Subject),
		"original_filename": ptr(in.Filename),
		"upload_timestamp":  ptr(now.UTC().Format(time.RFC3339)),
	}
	for k, v := range in.Metadata {
		metadata[k] = ptr(v)
	}

	_, err := s.client.UploadBuffer(ctx, s.container, blobPath, in.Data, &azblob.UploadBufferOptions{
		Metadata: metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: upload of %q failed: %w", blobPath, err)
	}

	return &UploadResult{Path: blobPath, UploadedAt: now}, nil
}

// Download returns the content of the blob at the given path.
func (s *AzureStore) Download(ctx context.Context, blobPath string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, blobPath, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("blob: %q: %w", blobPath, ErrNotFound)
		}
		return nil, fmt.Errorf("blob: download of %q failed: %w", blobPath, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("blob: reading %q failed: %w", blobPath, err)
	}
	return data, nil
}

// List returns the owner's blobs via a prefix scan, with metadata.
func (s *AzureStore) List(ctx context.Context, studentID, subject string) ([]FileInfo, error) {
	if studentID == "" {
		return nil, fmt.Errorf("blob: list requires a student_id")
	}

	prefix := listPrefix(studentID, subject)
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix:  &prefix,
		Include: azblob.ListBlobsInclude{Metadata: true},
	})

	var files []FileInfo
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("blob: listing %q failed: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			info := FileInfo{
				Path:     *item.Name,
				Name:     baseName(*item.Name),
				Metadata: make(map[string]string),
			}
			if item.Properties != nil {
				if item.Properties.ContentLength != nil {
					info.Size = *item.Properties.ContentLength
				}
				if item.Properties.LastModified != nil {
					info.LastModified = *item.Properties.LastModified
				}
			}
			for k, v := range item.Metadata {
				if v != nil {
					info.Metadata[k] = *v
				}
			}
			files = append(files, info)
		}
	}

	return files, nil
}

// Delete removes the blob at the given path.
func (s *AzureStore) Delete(ctx context.Context, blobPath string) error {
	_, err := s.client.DeleteBlob(ctx, s.container, blobPath, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return fmt.Errorf("blob: %q: %w", blobPath, ErrNotFound)
		}
		return fmt.Errorf("blob: delete of %q failed: %w", blobPath, err)
	}
	return nil
}

func ptr(s string) *string { return &s }
