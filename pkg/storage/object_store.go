// Package storage is the destination-store collaborator: uploads land
// in folders (key prefixes) and are copied between them when organized.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"stashbot/pkg/domain"
)

// RootFolder is the sentinel folder id for the storage root.
const RootFolder = "root"

const presignExpiry = 7 * 24 * time.Hour

// Store provides access to destination object storage.
type Store interface {
	Upload(ctx context.Context, r io.Reader, size int64, filename, contentType, folderID string) (domain.StoredFile, error)
	EnsureFolder(ctx context.Context, name, parentID string) (string, error)
	Copy(ctx context.Context, fileID, folderID, newName string) (domain.StoredFile, error)
}

// MinioStore implements Store for MinIO/S3 compatible storage. A folder
// is a key prefix; EnsureFolder drops a zero-byte marker so folders are
// visible to prefix listings.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// Upload writes the stream into the folder and returns its location.
func (m *MinioStore) Upload(ctx context.Context, r io.Reader, size int64, filename, contentType, folderID string) (domain.StoredFile, error) {
	key := objectKey(folderID, filename)
	if _, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return domain.StoredFile{}, fmt.Errorf("put object: %w", err)
	}
	url, err := m.presign(ctx, key)
	if err != nil {
		return domain.StoredFile{}, err
	}
	return domain.StoredFile{ID: key, URL: url, Name: filename, FolderID: folderID}, nil
}

// EnsureFolder creates the folder marker once and returns the folder id.
// Safe to call repeatedly; the destination store stays authoritative.
func (m *MinioStore) EnsureFolder(ctx context.Context, name, parentID string) (string, error) {
	folderID := childFolder(parentID, name)
	marker := folderID + "/.folder"
	if _, err := m.client.StatObject(ctx, m.bucket, marker, minio.StatObjectOptions{}); err == nil {
		return folderID, nil
	}
	if _, err := m.client.PutObject(ctx, m.bucket, marker, strings.NewReader(""), 0, minio.PutObjectOptions{}); err != nil {
		return "", fmt.Errorf("create folder marker: %w", err)
	}
	return folderID, nil
}

// Copy duplicates an object into another folder under a new name.
func (m *MinioStore) Copy(ctx context.Context, fileID, folderID, newName string) (domain.StoredFile, error) {
	dstKey := objectKey(folderID, newName)
	_, err := m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: m.bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: m.bucket, Object: fileID},
	)
	if err != nil {
		return domain.StoredFile{}, fmt.Errorf("copy object: %w", err)
	}
	url, err := m.presign(ctx, dstKey)
	if err != nil {
		return domain.StoredFile{}, err
	}
	return domain.StoredFile{ID: dstKey, URL: url, Name: newName, FolderID: folderID}, nil
}

func (m *MinioStore) presign(ctx context.Context, key string) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, key, presignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return url.String(), nil
}

func objectKey(folderID, filename string) string {
	if folderID == "" || folderID == RootFolder {
		return filename
	}
	return path.Join(folderID, filename)
}

func childFolder(parentID, name string) string {
	if parentID == "" || parentID == RootFolder {
		return name
	}
	return path.Join(parentID, name)
}
