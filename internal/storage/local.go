package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage implements Storage interface for local filesystem
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// Store saves content to the local filesystem
func (s *LocalStorage) Store(ctx context.Context, data []byte, mimeType string, prefix string) (*StorageResult, error) {
	hash := sha256.Sum256(data)
	contentHash := hex.EncodeToString(hash[:])

	filename := objectName(prefix, contentHash, mimeType)
	outputPath, err := s.path(filename)
	if err != nil {
		return nil, fmt.Errorf("invalid object name %q", filename)
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	return &StorageResult{
		Location:    outputPath,
		ObjectKey:   filename,
		ContentHash: contentHash,
		MIMEType:    mimeType,
		Size:        int64(len(data)),
	}, nil
}

// Fetch reads a stored file. The MIME type comes from the extension and
// falls back to content sniffing.
func (s *LocalStorage) Fetch(ctx context.Context, objectKey string) (*Object, error) {
	filePath, err := s.path(objectKey)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, objectKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	mimeType := MIMEFromExtension(objectKey)
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return &Object{Key: objectKey, Data: data, MIMEType: mimeType}, nil
}

// Close is a no-op for local storage
func (s *LocalStorage) Close() error {
	return nil
}

// IsRemote returns false for local storage
func (s *LocalStorage) IsRemote() bool {
	return false
}

// path maps an object key into baseDir. Keys that would escape it are not found.
func (s *LocalStorage) path(objectKey string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(objectKey))
	if objectKey == "" || filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, objectKey)
	}
	return filepath.Join(s.baseDir, cleaned), nil
}
