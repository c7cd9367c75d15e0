package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned by Fetch when the object key does not exist.
var ErrNotFound = errors.New("object not found")

// StorageResult represents the result of a storage operation
type StorageResult struct {
	// Location is the access URL/path for the stored content
	// For stdio mode: local file path
	// For HTTP mode with S3: presigned URL
	Location string

	// ObjectKey is the storage path (e.g., "2024/12/23/upload_abc123.png").
	// It doubles as the file id accepted by the image tools.
	ObjectKey string

	// ContentHash is the SHA256 hash of the content (first 16 chars used in filename)
	ContentHash string

	// ExpiresAt is the expiration time for presigned URL (nil for local storage)
	ExpiresAt *time.Time

	// MIMEType is the content type (e.g., "image/png", "video/mp4")
	MIMEType string

	// Size is the content size in bytes
	Size int64
}

// Object is stored content read back by key.
type Object struct {
	Key      string
	Data     []byte
	MIMEType string
}

// Storage defines the interface for storing uploads and generated content
type Storage interface {
	// Store saves content and returns the storage result
	// - data: the raw bytes to store
	// - mimeType: content type (e.g., "image/png", "video/mp4")
	// - prefix: prefix for the filename (e.g., "upload", "seedance_video")
	Store(ctx context.Context, data []byte, mimeType string, prefix string) (*StorageResult, error)

	// Fetch reads an object back. Missing keys yield ErrNotFound.
	Fetch(ctx context.Context, objectKey string) (*Object, error)


	// Close cleans up any resources (stops cleanup goroutines, etc.)
	Close() error

	// IsRemote returns true if storage is remote (S3), false for local
	IsRemote() bool
}

// objectName builds "<prefix>_<hash16><ext>". The prefix is reduced to a
// single path element so a caller-chosen prefix cannot leave the storage root.
func objectName(prefix, contentHash, mimeType string) string {
	prefix = strings.Trim(path.Base(strings.ReplaceAll(prefix, "\\", "/")), ".")
	if prefix == "" || prefix == "/" {
		prefix = "file"
	}
	return prefix + "_" + contentHash[:16] + ExtensionFromMIME(mimeType)
}

// ExtensionFromMIME returns the file extension for a given MIME type
func ExtensionFromMIME(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "application/json":
		return ".json"
	default:
		return ""
	}
}

// MIMEFromExtension is the inverse of ExtensionFromMIME. Unknown extensions return "".
func MIMEFromExtension(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".json":
		return "application/json"
	default:
		return ""
	}
}
