package images

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/google/uuid"
)

type blobUploader interface {
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
	URL() string
}

// BlobStore writes images to an Azure Storage container that serves them publicly.
type BlobStore struct {
	client    blobUploader
	container string
}

func NewBlobStore(client *azblob.Client, container string) *BlobStore {
	return &BlobStore{client: client, container: container}
}

func (s *BlobStore) Put(ctx context.Context, img Image) (string, error) {
	name := objectKey("reviews", img)
	_, err := s.client.UploadBuffer(ctx, s.container, name, img.Data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &img.ContentType},
	})
	if err != nil {
		return "", fmt.Errorf("upload blob %s: %w", name, err)
	}
	return strings.TrimRight(s.client.URL(), "/") + "/" + s.container + "/" + name, nil
}

func objectKey(prefix string, img Image) string {
	key := uuid.NewString() + img.Extension()
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}
	return key
}
