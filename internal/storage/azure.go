package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
)

// AzureConfig configures an Azure Blob Storage disk.
type AzureConfig struct {
	ConnectionString string
	Container        string
	Timeout          time.Duration
}

// AzureBackend implements Backend on an Azure Blob Storage container.
type AzureBackend struct {
	client    *azblob.Client
	container string
	base      string
	timeout   time.Duration
}

// NewAzureBackend authenticates with the connection string, ensures the
// container exists, and returns a ready-to-use backend.
func NewAzureBackend(cfg AzureConfig) (*AzureBackend, error) {
	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if _, err := client.CreateContainer(ctx, cfg.Container, nil); err != nil {
		if !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return nil, fmt.Errorf("create container %q: %w", cfg.Container, err)
		}
	}

	return &AzureBackend{
		client:    client,
		container: cfg.Container,
		base:      strings.TrimRight(client.ServiceClient().URL(), "/") + "/" + cfg.Container,
		timeout:   cfg.Timeout,
	}, nil
}

// Name identifies the driver kind.
func (a *AzureBackend) Name() string { return "azure" }

// Exists reports whether a blob is present at path.
func (a *AzureBackend) Exists(ctx context.Context, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	_, err := a.blobClient(path).GetProperties(ctx, nil)
	return err == nil
}

// Read returns the full blob contents at path.
func (a *AzureBackend) Read(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	resp, err := a.client.DownloadStream(ctx, a.container, path, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, ErrNotFound
		}
		return nil, backendErr(a.Name(), "read", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backendErr(a.Name(), "read", path, err)
	}
	return data, nil
}

// Write stores data at path with the given content type.
func (a *AzureBackend) Write(ctx context.Context, path string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	_, err := a.client.UploadBuffer(ctx, a.container, path, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return backendErr(a.Name(), "write", path, err)
	}
	return nil
}

// Delete removes the blob at path. Absence and faults both report false.
func (a *AzureBackend) Delete(ctx context.Context, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	_, err := a.client.DeleteBlob(ctx, a.container, path, nil)
	return err == nil
}

// Copy duplicates a blob server-side. Blob copies are asynchronous by
// contract even within one account, so the destination is polled until the
// service reports a terminal state. Move must never delete a source
// mid-copy.
func (a *AzureBackend) Copy(ctx context.Context, from, to string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	src := a.blobClient(from)
	dst := a.blobClient(to)
	if _, err := dst.StartCopyFromURL(ctx, src.URL(), nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return ErrNotFound
		}
		return backendErr(a.Name(), "copy", from, err)
	}

	for {
		props, err := dst.GetProperties(ctx, nil)
		if err != nil {
			return backendErr(a.Name(), "copy", to, err)
		}
		if props.CopyStatus == nil || *props.CopyStatus == blob.CopyStatusTypeSuccess {
			return nil
		}
		if *props.CopyStatus != blob.CopyStatusTypePending {
			return backendErr(a.Name(), "copy", to, fmt.Errorf("copy ended with status %q", *props.CopyStatus))
		}
		select {
		case <-ctx.Done():
			return backendErr(a.Name(), "copy", to, ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// Move relocates a blob via copy-then-delete.
func (a *AzureBackend) Move(ctx context.Context, from, to string) error {
	if err := a.Copy(ctx, from, to); err != nil {
		return err
	}
	if !a.Delete(ctx, from) {
		return backendErr(a.Name(), "move", from, errSourceDelete)
	}
	return nil
}

// Size returns the blob size in bytes.
func (a *AzureBackend) Size(ctx context.Context, path string) (int64, error) {
	props, err := a.properties(ctx, path)
	if err != nil {
		return 0, err
	}
	if props.ContentLength == nil {
		return 0, nil
	}
	return *props.ContentLength, nil
}

// LastModified returns the blob's last modification time.
func (a *AzureBackend) LastModified(ctx context.Context, path string) (time.Time, error) {
	props, err := a.properties(ctx, path)
	if err != nil {
		return time.Time{}, err
	}
	if props.LastModified == nil {
		return time.Time{}, nil
	}
	return *props.LastModified, nil
}

// MimeType returns the content type recorded on the blob.
func (a *AzureBackend) MimeType(ctx context.Context, path string) (string, error) {
	props, err := a.properties(ctx, path)
	if err != nil {
		return "", err
	}
	if props.ContentType == nil {
		return "application/octet-stream", nil
	}
	return *props.ContentType, nil
}

// URL returns the permanent URL for the given path.
func (a *AzureBackend) URL(path string) string {
	return a.base + "/" + path
}

// TemporaryURL returns a read-only SAS URL valid for ttl. Requires shared
// key credentials, which connection string auth provides.
func (a *AzureBackend) TemporaryURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	u, err := a.blobClient(path).GetSASURL(sas.BlobPermissions{Read: true}, time.Now().Add(ttl), nil)
	if err != nil {
		return "", backendErr(a.Name(), "presign", path, err)
	}
	return u, nil
}

func (a *AzureBackend) blobClient(path string) *blob.Client {
	return a.client.ServiceClient().NewContainerClient(a.container).NewBlobClient(path)
}

func (a *AzureBackend) properties(ctx context.Context, path string) (blob.GetPropertiesResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	props, err := a.blobClient(path).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return blob.GetPropertiesResponse{}, ErrNotFound
		}
		return blob.GetPropertiesResponse{}, backendErr(a.Name(), "stat", path, err)
	}
	return props, nil
}
