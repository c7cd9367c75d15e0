// Package resolver turns caller-supplied image-like values into canonical
// image references: an absolute http(s) URL or a data:image/...;base64 URI.
//
// Resolution is total. Values that cannot be resolved contribute nothing;
// the resolver never returns an error for a malformed shape.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"ark-mcp/internal/filecontent"
	"ark-mcp/internal/mimetype"

	"go.uber.org/zap"
)

const (
	fetchTimeout = 20 * time.Second

	// DefaultMaxFetchBytes bounds a file fetched for inlining as a data URI.
	DefaultMaxFetchBytes = 64 << 20
)

// fileIDKeys are probed in this order on mappings and opaque handles.
var fileIDKeys = []string{"id", "related_id", "file_id", "upload_file_id"}

// Resolver resolves RawInput values. It holds no per-call state and may be
// shared between invocations.
type Resolver struct {
	files    filecontent.Backend
	baseURLs []string
	client   *http.Client
	maxBytes int64
	logger   *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets the client used for fetching file URLs.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		if client != nil {
			r.client = client
		}
	}
}

// WithMaxFetchBytes bounds the size of a fetched file. Larger files are
// treated as unresolvable.
func WithMaxFetchBytes(n int64) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New returns a Resolver reading file ids from files and resolving
// site-relative paths against baseURLs, tried in order.
func New(files filecontent.Backend, baseURLs []string, opts ...Option) *Resolver {
	r := &Resolver{
		files:    files,
		baseURLs: slices.Clone(baseURLs),
		client:   &http.Client{},
		maxBytes: DefaultMaxFetchBytes,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "resolver"))
	return r
}

// All lazily yields the references in, depth-first and in input order.
func (r *Resolver) All(ctx context.Context, in RawInput) iter.Seq[string] {
	return func(yield func(string) bool) {
		r.walk(ctx, in, yield)
	}
}

// Resolve returns every reference in, in input order. Duplicates are kept.
func (r *Resolver) Resolve(ctx context.Context, in RawInput) []string {
	return slices.Collect(r.All(ctx, in))
}

// First returns the first reference in without resolving the rest.
func (r *Resolver) First(ctx context.Context, in RawInput) (string, bool) {
	for ref := range r.All(ctx, in) {
		return ref, true
	}
	return "", false
}

// walk reports false once yield asks to stop.
func (r *Resolver) walk(ctx context.Context, in RawInput, yield func(string) bool) bool {
	var (
		ref string
		ok  bool
	)

	switch v := in.(type) {
	case nil:
		return true
	case Seq:
		for _, item := range v {
			if !r.walk(ctx, item, yield) {
				return false
			}
		}
		return true
	case Str:
		ref, ok = r.resolveString(ctx, string(v))
	case Mapping:
		if len(v) == 0 {
			return true
		}
		ref, ok = r.resolveMapping(ctx, v)
	case Opaque:
		if v.Value == nil {
			return true
		}
		ref, ok = r.resolveOpaque(ctx, v.Value)
	}

	if !ok {
		return true
	}
	return yield(ref)
}

func (r *Resolver) resolveString(ctx context.Context, raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	if strings.HasPrefix(s, "{") {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			r.logger.Debug("string looks like JSON but does not parse", zap.Error(err))
			return "", false
		}
		return r.resolveMapping(ctx, parsed)
	}

	if IsCanonical(s) {
		return s, true
	}

	r.logger.Debug("treating string as file id", zap.String("file_id", s))
	return r.fileIDToDataURI(ctx, s)
}

func (r *Resolver) resolveMapping(ctx context.Context, m map[string]any) (string, bool) {
	transferMethod, _ := m["transfer_method"].(string)

	switch transferMethod {
	case "remote_url":
		// Explicit remote intent: a bad url is not retried as a local file.
		if u, ok := m["url"].(string); ok && IsCanonical(u) {
			return strings.TrimSpace(u), true
		}
		r.logger.Debug("remote_url mapping without a usable url")
		return "", false

	case "local_file":
		if fileID := extractFileID(m); fileID != "" {
			if ref, ok := r.fileIDToDataURI(ctx, fileID); ok {
				return ref, true
			}
		}
		r.logger.Debug("local_file content unavailable, falling back to url")
		return r.fetchAsDataURI(ctx, firstString(m, "url", "remote_url"))
	}

	for _, key := range []string{"url", "remote_url"} {
		if u, ok := m[key].(string); ok && IsCanonical(u) {
			return strings.TrimSpace(u), true
		}
	}

	if nested, ok := asMap(m["value"]); ok {
		if ref, ok := r.resolveMapping(ctx, nested); ok {
			return ref, true
		}
	}

	if fileID := extractFileID(m); fileID != "" {
		if ref, ok := r.fileIDToDataURI(ctx, fileID); ok {
			return ref, true
		}
	}

	return r.fetchAsDataURI(ctx, firstString(m, "url", "remote_url"))
}

func (r *Resolver) resolveOpaque(ctx context.Context, v any) (string, bool) {
	for _, key := range fileIDKeys {
		if fileID, ok := probe(v, key).(string); ok && strings.TrimSpace(fileID) != "" {
			if ref, ok := r.fileIDToDataURI(ctx, strings.TrimSpace(fileID)); ok {
				return ref, true
			}
		}
	}

	if blob, ok := probe(v, "blob").([]byte); ok && len(blob) > 0 {
		mimeType, _ := probe(v, "mime_type").(string)
		return mimetype.DataURI(blob, mimeType), true
	}

	u, _ := probe(v, "url").(string)
	return r.fetchAsDataURI(ctx, u)
}

func (r *Resolver) fileIDToDataURI(ctx context.Context, fileID string) (string, bool) {
	if r.files == nil || fileID == "" {
		return "", false
	}
	data, mimeType, ok := r.files.Fetch(ctx, fileID)
	if !ok || len(data) == 0 {
		return "", false
	}
	return mimetype.DataURI(data, mimeType), true
}

// fetchAsDataURI downloads a file URL and inlines it. Site-relative paths are
// tried against each base URL in order; the first 2xx answer wins.
func (r *Resolver) fetchAsDataURI(ctx context.Context, raw string) (string, bool) {
	u := strings.TrimSpace(raw)
	if u == "" {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(u), "data:image/") {
		return u, true
	}
	relative := strings.HasPrefix(u, "/")
	if !relative && !IsCanonical(u) {
		return "", false
	}

	candidates := []string{u}
	if relative {
		candidates = candidates[:0]
		for _, base := range r.baseURLs {
			candidates = append(candidates, strings.TrimRight(base, "/")+u)
		}
	}

	for _, candidate := range candidates {
		data, contentType, err := r.download(ctx, candidate)
		if err != nil {
			r.logger.Debug("file url fetch failed", zap.String("url", candidate), zap.Error(err))
			continue
		}
		return mimetype.DataURI(data, contentType), true
	}
	return "", false
}

func (r *Resolver) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, "", fmt.Errorf("file exceeds %d bytes", r.maxBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// IsCanonical reports whether s is a data:image/ URI or an http(s) URL.
func IsCanonical(s string) bool {
	candidate := strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(candidate), "data:image/") {
		return true
	}
	parsed, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}

// extractFileID probes the file id fields, then the nested value mapping.
func extractFileID(m map[string]any) string {
	for _, key := range fileIDKeys {
		if v, ok := m[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if nested, ok := asMap(m["value"]); ok {
		return extractFileID(nested)
	}
	return ""
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Mapping:
		return m, true
	}
	return nil, false
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
