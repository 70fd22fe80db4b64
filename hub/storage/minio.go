package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioStore struct {
	client *minio.Client
	bucket string
}

type MinioArgs struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func NewMinioStore(ctx context.Context, args MinioArgs) (*MinioStore, error) {
	client, err := minio.New(args.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(args.AccessKey, args.SecretKey, ""),
		Secure: args.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, args.Bucket)
	if err != nil {
		return nil, fmt.Errorf("error checking if bucket %v exists: %w", args.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, args.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("error creating bucket %v: %w", args.Bucket, err)
		}
	}

	slog.Info("object storage client initialized", "endpoint", args.Endpoint, "bucket", args.Bucket)

	return &MinioStore{client: client, bucket: args.Bucket}, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, data, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		slog.Error("error uploading object", "key", key, "error", err)
		return fmt.Errorf("error uploading object %v: %w", key, err)
	}
	return nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		slog.Error("error deleting object", "key", key, "error", err)
		return fmt.Errorf("error deleting object %v: %w", key, err)
	}
	return nil
}

func (s *MinioStore) Presign(ctx context.Context, key string, expiry time.Duration) (string, error) {
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		slog.Error("error presigning object url", "key", key, "error", err)
		return "", fmt.Errorf("error presigning url for object %v: %w", key, err)
	}
	return presigned.String(), nil
}
