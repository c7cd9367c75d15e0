package storage

import (
	"fmt"

	"ark-mcp/internal/common"

	"go.uber.org/zap"
)

// NewStorage creates the appropriate storage backend based on configuration
func NewStorage(config *common.Config, logger *zap.Logger) (Storage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Use S3 only in HTTP mode when S3 is configured
	if config.S3Enabled {
		logger.Info("initializing S3 storage",
			zap.String("endpoint", config.S3Endpoint),
			zap.String("bucket", config.S3Bucket))
		return NewS3Storage(S3Config{
			Endpoint:        config.S3Endpoint,
			AccessKeyID:     config.S3AccessKeyID,
			SecretAccessKey: config.S3SecretAccessKey,
			Region:          config.S3Region,
			Bucket:          config.S3Bucket,
			UseSSL:          config.S3UseSSL,
			PresignTTL:      config.S3PresignTTL,
			ObjectTTL:       config.S3ObjectTTL,
			CleanupInterval: config.S3CleanupInterval,
			Logger:          logger,
		})
	}

	logger.Info("initializing local storage", zap.String("directory", config.OutputDir))
	stor, err := NewLocalStorage(config.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create local storage: %w", err)
	}
	return stor, nil
}
