// Package filecontent fetches the raw bytes behind an opaque file id.
//
// Several storage backends may know about a given id. A Retriever asks each
// configured Backend in order and returns the first non-empty answer; a
// backend that fails is treated as one that found nothing.
package filecontent

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Backend returns the content and MIME type stored under fileID.
// ok is false when the backend has nothing for the id.
type Backend interface {
	Fetch(ctx context.Context, fileID string) (data []byte, mimeType string, ok bool)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, fileID string) ([]byte, string, bool)

func (f BackendFunc) Fetch(ctx context.Context, fileID string) ([]byte, string, bool) {
	return f(ctx, fileID)
}

// Retriever tries its backends in priority order.
type Retriever struct {
	backends []Backend
	logger   *zap.Logger
}

// NewRetriever returns a Retriever over backends. Nil backends are skipped.
func NewRetriever(logger *zap.Logger, backends ...Backend) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retriever{logger: logger.With(zap.String("component", "file_retriever"))}
	for _, b := range backends {
		if b != nil {
			r.backends = append(r.backends, b)
		}
	}
	return r
}

// Fetch implements Backend. It never fails: an unknown id yields ok == false.
func (r *Retriever) Fetch(ctx context.Context, fileID string) ([]byte, string, bool) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return nil, "", false
	}

	for i, backend := range r.backends {
		data, mimeType, ok := fetchSafely(ctx, backend, fileID)
		if ok && len(data) > 0 {
			r.logger.Debug("file content found",
				zap.String("file_id", fileID),
				zap.Int("backend", i),
				zap.Int("size", len(data)))
			return data, mimeType, true
		}
	}

	r.logger.Debug("file content not found", zap.String("file_id", fileID))
	return nil, "", false
}

// fetchSafely shields the retriever from a panicking backend.
func fetchSafely(ctx context.Context, backend Backend, fileID string) (data []byte, mimeType string, ok bool) {
	defer func() {
		if recover() != nil {
			data, mimeType, ok = nil, "", false
		}
	}()
	return backend.Fetch(ctx, fileID)
}
