package filecontent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ark-mcp/internal/storage"
)

// StorageBackend serves ids that are object keys in a storage.Storage, e.g.
// files received through the upload endpoint.
type StorageBackend struct {
	Storage storage.Storage
}

func (b StorageBackend) Fetch(ctx context.Context, fileID string) ([]byte, string, bool) {
	if b.Storage == nil {
		return nil, "", false
	}
	obj, err := b.Storage.Fetch(ctx, fileID)
	if err != nil || obj == nil || len(obj.Data) == 0 {
		return nil, "", false
	}
	return obj.Data, obj.MIMEType, true
}

// Content is the structured return shape an Accessor may use.
type Content struct {
	Data     []byte
	MIMEType string
}

// Accessor is a generic content accessor. Its result may be []byte, Content,
// *Content, a []any tuple of (bytes, mime) or a map with content/bytes/file
// and mime_type/mimetype keys.
type Accessor func(ctx context.Context, fileID string) (any, error)

// AccessorBackend adapts an Accessor, tolerating all of its return shapes.
type AccessorBackend struct {
	Accessor Accessor
}

func (b AccessorBackend) Fetch(ctx context.Context, fileID string) ([]byte, string, bool) {
	if b.Accessor == nil {
		return nil, "", false
	}
	raw, err := b.Accessor(ctx, fileID)
	if err != nil {
		return nil, "", false
	}
	data, mimeType := extractContent(raw)
	if len(data) == 0 {
		return nil, "", false
	}
	return data, mimeType, true
}

func extractContent(raw any) ([]byte, string) {
	switch v := raw.(type) {
	case []byte:
		return v, ""
	case Content:
		return v.Data, v.MIMEType
	case *Content:
		if v == nil {
			return nil, ""
		}
		return v.Data, v.MIMEType
	case []any:
		if len(v) == 0 {
			return nil, ""
		}
		data, ok := v[0].([]byte)
		if !ok {
			return nil, ""
		}
		var mimeType string
		if len(v) > 1 {
			mimeType, _ = v[1].(string)
		}
		return data, mimeType
	case map[string]any:
		var data []byte
		for _, key := range []string{"content", "bytes", "file", "data"} {
			if data = asBytes(v[key]); len(data) > 0 {
				break
			}
		}
		if len(data) == 0 {
			return nil, ""
		}
		for _, key := range []string{"mime_type", "mimetype"} {
			if mimeType, ok := v[key].(string); ok && mimeType != "" {
				return data, mimeType
			}
		}
		return data, ""
	}
	return nil, ""
}

// asBytes accepts raw bytes or, for JSON-decoded maps, a base64 string.
func asBytes(v any) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		decoded, err := base64.StdEncoding.DecodeString(b)
		if err != nil {
			return nil
		}
		return decoded
	}
	return nil
}

// HTTPAccessor reads ids from a file service at GET {baseURL}/files/{id}.
// JSON answers are returned as a map and other bodies as Content.
func HTTPAccessor(baseURL string, client *http.Client) Accessor {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	base := strings.TrimRight(baseURL, "/")

	return func(ctx context.Context, fileID string) (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/files/"+url.PathEscape(fileID), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("file service request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("file service returned status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read file service response: %w", err)
		}

		contentType := resp.Header.Get("Content-Type")
		if strings.HasPrefix(contentType, "application/json") {
			var payload map[string]any
			if err := json.Unmarshal(body, &payload); err != nil {
				return nil, fmt.Errorf("failed to decode file service response: %w", err)
			}
			return payload, nil
		}
		return Content{Data: body, MIMEType: contentType}, nil
	}
}
