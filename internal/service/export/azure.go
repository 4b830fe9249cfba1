package export

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureStore keeps bundles in an Azure Blob Storage container.
type AzureStore struct {
	client    *azblob.Client
	container string
}

// NewAzureStore creates a store using shared-key authentication.
func NewAzureStore(accountName, accountKey, container string) (*AzureStore, error) {
	if accountName == "" || accountKey == "" || container == "" {
		return nil, fmt.Errorf("Azure export requires account name, key and container")
	}
	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzureStore{client: client, container: container}, nil
}

func (s *AzureStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if _, err := s.client.UploadBuffer(ctx, s.container, key, data, nil); err != nil {
		return "", fmt.Errorf("upload az://%s/%s: %w", s.container, key, err)
	}
	return fmt.Sprintf("az://%s/%s", s.container, key), nil
}

func (s *AzureStore) Get(ctx context.Context, location string) ([]byte, error) {
	container, key, err := splitURI("az", location)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.DownloadStream(ctx, container, key, nil)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", location, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
