package minioctrl

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectService wraps a MinIO client with the object operations the job
// pipeline needs: durable put, existence check, download to local scratch,
// delete and time-limited read URLs.
type ObjectService struct {
	client *minio.Client
}

func NewObjectService(endpoint, accessKeyID, secretAccessKey string, useSSL bool) (*ObjectService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %v", err)
	}

	return &ObjectService{
		client: client,
	}, nil
}

func (s *ObjectService) EnsureBucketExists(ctx context.Context, bucketName string) error {
	exists, err := s.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %v", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %v", err)
		}
	}

	return nil
}

func (s *ObjectService) Put(ctx context.Context, bucketName, objectName string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, bucketName, objectName, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %v", err)
	}

	return nil
}

// Exists reports whether an object is present. A missing object is not an
// error; only infrastructure failures are returned.
func (s *ObjectService) Exists(ctx context.Context, bucketName, objectName string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %v", err)
	}

	return true, nil
}

func (s *ObjectService) DownloadToFile(ctx context.Context, bucketName, objectName, filePath string) error {
	err := s.client.FGetObject(ctx, bucketName, objectName, filePath, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to download object: %v", err)
	}

	return nil
}

func (s *ObjectService) Remove(ctx context.Context, bucketName, objectName string) error {
	err := s.client.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object: %v", err)
	}

	return nil
}

// PresignGet issues a time-limited read-only URL for an object.
func (s *ObjectService) PresignGet(ctx context.Context, bucketName, objectName string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, bucketName, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign object url: %v", err)
	}

	return u.String(), nil
}
