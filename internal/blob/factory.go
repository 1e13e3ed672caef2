package blob

import (
	"context"
	"fmt"
	"os"
)

// defaultContainer is the Azure container used when AZURE_STORAGE_CONTAINER
// is unset.
const defaultContainer = "student-files"

// NewFromEnv constructs a Store from environment configuration.
//
// BLOB_PROVIDER selects the backend (azure | local). When unset, azure is
// used if AZURE_STORAGE_CONNECTION_STRING is present, otherwise local.
// The local backend's root directory comes from BLOB_LOCAL_DIR
// (default: ./data/blobs).
func NewFromEnv(ctx context.Context) (Store, error) {
	provider := os.Getenv("BLOB_PROVIDER")
	if provider == "" {
		if os.Getenv("AZURE_STORAGE_CONNECTION_STRING") != "" {
			provider = "azure"
		} else {
			provider = "local"
		}
	}

	switch provider {
	case "azure":
		container := os.Getenv("AZURE_STORAGE_CONTAINER")
		if container == "" {
			container = defaultContainer
		}
		return NewAzureStore(ctx, &AzureConfig{
			ConnectionString: os.Getenv("AZURE_STORAGE_CONNECTION_STRING"),
			Container:        container,
		})

	case "local":
		root := os.Getenv("BLOB_LOCAL_DIR")
		if root == "" {
			root = "./data/blobs"
		}
		return NewLocalStore(root)

	default:
		return nil, fmt.Errorf("blob: unknown provider %q — valid values: azure, local", provider)
	}
}
