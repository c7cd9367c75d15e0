package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// S3Storage implements Storage interface for S3/MinIO
type S3Storage struct {
	client          *minio.Client
	bucket          string
	presignTTL      time.Duration
	objectTTL       time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	logger          *zap.Logger
}

// S3Config holds S3 storage configuration
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	UseSSL          bool
	PresignTTL      time.Duration
	ObjectTTL       time.Duration
	CleanupInterval time.Duration
	Logger          *zap.Logger
}

// parseEndpoint extracts host:port from an endpoint that may include a protocol
func parseEndpoint(endpoint string, defaultUseSSL bool) (host string, useSSL bool) {
	useSSL = defaultUseSSL

	// "host:port" parses with the host as scheme, so only http(s) counts
	if parsed, err := url.Parse(endpoint); err == nil && (parsed.Scheme == "http" || parsed.Scheme == "https") {
		useSSL = parsed.Scheme == "https"
		host = parsed.Host
		if host == "" {
			// Fallback if parsing didn't work as expected
			host = endpoint
		}
	} else {
		// No scheme, use as-is
		host = endpoint
	}

	return host, useSSL
}

// NewS3Storage creates a new S3 storage instance
func NewS3Storage(cfg S3Config) (*S3Storage, error) {
	// Parse endpoint to extract host:port and detect SSL from scheme
	endpoint, useSSL := parseEndpoint(cfg.Endpoint, cfg.UseSSL)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "s3_storage"), zap.String("bucket", cfg.Bucket))

	ctx := context.Background()

	// Check if bucket exists, create if not
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		logger.Info("bucket does not exist, creating")
		err = client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("bucket created")
	}

	s := &S3Storage{
		client:          client,
		bucket:          cfg.Bucket,
		presignTTL:      cfg.PresignTTL,
		objectTTL:       cfg.ObjectTTL,
		cleanupInterval: cfg.CleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          logger,
	}

	// Start cleanup routine
	go s.startCleanupRoutine()

	return s, nil
}

// Store saves content to S3 and returns a presigned URL
func (s *S3Storage) Store(ctx context.Context, data []byte, mimeType string, prefix string) (*StorageResult, error) {
	hash := sha256.Sum256(data)
	contentHash := hex.EncodeToString(hash[:])

	// Build date-organized path: YYYY/MM/DD/prefix_hash.ext
	now := time.Now().UTC()
	datePath := now.Format("2006/01/02")
	objectKey := datePath + "/" + objectName(prefix, contentHash, mimeType)

	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, s.bucket, objectKey, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
		UserMetadata: map[string]string{
			"created-at": now.Format(time.RFC3339),
			"expires-at": now.Add(s.objectTTL).Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	// Generate presigned URL
	presignedURL, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, s.presignTTL, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	expiresAt := now.Add(s.presignTTL)

	return &StorageResult{
		Location:    presignedURL.String(),
		ObjectKey:   objectKey,
		ContentHash: contentHash,
		MIMEType:    mimeType,
		Size:        int64(len(data)),
		ExpiresAt:   &expiresAt,
	}, nil
}

// Fetch downloads an object from S3 together with its stored content type
func (s *S3Storage) Fetch(ctx context.Context, objectKey string) (*Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, objectKey)
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	mimeType := info.ContentType
	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := MIMEFromExtension(objectKey); byExt != "" {
			mimeType = byExt
		}
	}

	return &Object{Key: objectKey, Data: data, MIMEType: mimeType}, nil
}

// Close stops the cleanup routine
func (s *S3Storage) Close() error {
	close(s.stopCleanup)
	return nil
}

// IsRemote returns true for S3 storage
func (s *S3Storage) IsRemote() bool {
	return true
}

// startCleanupRoutine periodically cleans up expired objects
func (s *S3Storage) startCleanupRoutine() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	s.logger.Info("cleanup routine started",
		zap.Duration("interval", s.cleanupInterval),
		zap.Duration("ttl", s.objectTTL))

	for {
		select {
		case <-ticker.C:
			s.cleanupExpiredObjects()
		case <-s.stopCleanup:
			s.logger.Info("cleanup routine stopped")
			return
		}
	}
}

// cleanupExpiredObjects removes objects that have exceeded their TTL
func (s *S3Storage) cleanupExpiredObjects() {
	ctx := context.Background()
	now := time.Now().UTC()
	deletedCount := 0
	errorCount := 0

	// List all objects in the bucket
	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			s.logger.Warn("error listing objects", zap.Error(object.Err))
			errorCount++
			continue
		}

		// Check if object is older than TTL based on LastModified
		age := now.Sub(object.LastModified)
		if age > s.objectTTL {
			err := s.client.RemoveObject(ctx, s.bucket, object.Key, minio.RemoveObjectOptions{})
			if err != nil {
				s.logger.Warn("failed to delete expired object", zap.String("key", object.Key), zap.Error(err))
				errorCount++
			} else {
				deletedCount++
			}
		}
	}

	if deletedCount > 0 || errorCount > 0 {
		s.logger.Info("cleanup completed", zap.Int("deleted", deletedCount), zap.Int("errors", errorCount))
	}
}
