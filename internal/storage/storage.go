package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/config"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/metrics"
)

const (
	// Default part size for multipart uploads (10MB)
	DefaultPartSize = 10 * 1024 * 1024

	// Maximum number of concurrent parts
	MaxConcurrentParts = 10
)

// ObjectStore is the object storage used for originals and artifacts
type ObjectStore interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	UploadFile(ctx context.Context, objectName, filePath string) error
	DownloadFile(ctx context.Context, objectName, filePath string) error
	Delete(ctx context.Context, objectName string) error
}

// Storage provides object storage operations on MinIO/S3
type Storage struct {
	client     *minio.Client
	bucketName string
	logger     *logging.Logger
}

// New creates a new storage client
func New(cfg config.StorageConfig, logger *logging.Logger) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	// Ensure bucket exists
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Storage{
		client:     client,
		bucketName: cfg.BucketName,
		logger:     logger,
	}, nil
}

func (s *Storage) observe(operation, key string, size int64, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start)
	metrics.RecordStorageOperation(operation, status, duration.Seconds())
	s.logger.LogStorageOperation(operation, s.bucketName, key, size, duration, err)
}

// Upload uploads a stream to storage. Streams larger than one part are sent
// as a parallel multipart upload.
func (s *Storage) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (err error) {
	start := time.Now()
	defer func() { s.observe("upload", objectName, size, start, err) }()

	opts := minio.PutObjectOptions{ContentType: contentType}
	if size < 0 || size >= DefaultPartSize {
		opts.PartSize = DefaultPartSize
		opts.NumThreads = MaxConcurrentParts
	}

	if _, err = s.client.PutObject(ctx, s.bucketName, objectName, reader, size, opts); err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

// UploadFile uploads a file from local filesystem
func (s *Storage) UploadFile(ctx context.Context, objectName, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	return s.Upload(ctx, objectName, file, info.Size(), ContentType(filePath))
}

// DownloadFile downloads a file to local filesystem
func (s *Storage) DownloadFile(ctx context.Context, objectName, filePath string) (err error) {
	start := time.Now()
	defer func() { s.observe("download", objectName, 0, start, err) }()

	if err = s.client.FGetObject(ctx, s.bucketName, objectName, filePath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	return nil
}

// Delete deletes an object from storage
func (s *Storage) Delete(ctx context.Context, objectName string) (err error) {
	start := time.Now()
	defer func() { s.observe("delete", objectName, 0, start, err) }()

	if err = s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Health checks that the bucket is reachable
func (s *Storage) Health(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}

// ContentType returns the content type based on file extension
func ContentType(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".vtt":
		return "text/vtt"
	case ".srt":
		return "application/x-subrip"
	case ".json":
		return "application/json"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
