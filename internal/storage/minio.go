package storage

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
}

// MinIOStore keeps uploads in a bucket as "<id>/<base>_<ts><ext>".
type MinIOStore struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

// NewMinIOStore connects and creates the bucket when missing.
func NewMinIOStore(ctx context.Context, cfg MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client failed: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(checkCtx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence failed: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(checkCtx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket failed: %w", err)
		}
	}
	return &MinIOStore{client: client, bucket: cfg.BucketName, now: time.Now}, nil
}

func objectPrefix(materialID uint) string {
	return fmt.Sprintf("%d/", materialID)
}

func (s *MinIOStore) Save(ctx context.Context, materialID uint, filename, contentType string, data []byte) (string, error) {
	object := objectPrefix(materialID) + storedName(filename, s.now())
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to minio failed: %w", object, err)
	}
	return object, nil
}

// DeleteAll removes every object of the material except the keys in keep.
func (s *MinIOStore) DeleteAll(ctx context.Context, materialID uint, keep ...string) error {
	list := func(ctx context.Context) <-chan minio.ObjectInfo {
		return s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
			Prefix:    objectPrefix(materialID),
			Recursive: true,
		})
	}
	remove := func(ctx context.Context, key string) error {
		return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	}
	return removeListed(ctx, list, remove, keep)
}

// removeListed cancels the listing on return so the lister goroutine never
// blocks on a channel nobody reads.
func removeListed(ctx context.Context, list func(context.Context) <-chan minio.ObjectInfo, remove func(context.Context, string) error, keep []string) error {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range list(listCtx) {
		if obj.Err != nil {
			return fmt.Errorf("list minio objects failed: %w", obj.Err)
		}
		if slices.Contains(keep, obj.Key) {
			continue
		}
		if err := remove(ctx, obj.Key); err != nil {
			return fmt.Errorf("remove %s from minio failed: %w", obj.Key, err)
		}
	}
	return nil
}
