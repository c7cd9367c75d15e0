// Package ark is a client for the Ark generation API: asynchronous video
// tasks and synchronous image generation.
package ark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://ark.cn-beijing.volces.com"

	tasksPath  = "/api/v3/contents/generations/tasks"
	imagesPath = "/api/v3/images/generations"

	createTimeout   = 30 * time.Second
	pollTimeout     = 10 * time.Second
	imagesTimeout   = 120 * time.Second
	downloadTimeout = 30 * time.Second

	// errorBodyLimit caps how much of a failed answer is kept in APIError.
	errorBodyLimit = 4096

	// DefaultMaxDownloadBytes bounds a downloaded artifact.
	DefaultMaxDownloadBytes = 256 << 20
)

// APIError is returned for an answer outside 2xx.
type APIError struct {
	StatusCode int
	Message    string // error.message of the answer, when present
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// Client calls the Ark API with bearer authentication. Every call carries
// its own timeout on top of the caller's context.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient  *http.Client
	maxDownload int64
	logger      *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithMaxDownloadBytes bounds downloaded artifacts and API answers.
func WithMaxDownloadBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxDownload = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:      apiKey,
		httpClient:  &http.Client{},
		maxDownload: DefaultMaxDownloadBytes,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "ark"))
	return c
}

// CreateVideoTask submits a video generation task.
func (c *Client) CreateVideoTask(ctx context.Context, req *VideoTaskRequest) (*CreateTaskResponse, error) {
	body, err := c.doJSON(ctx, http.MethodPost, tasksPath, createTimeout, req)
	if err != nil {
		return nil, err
	}

	raw, err := decodeRaw(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode task creation response: %w", err)
	}
	id, _ := raw["id"].(string)

	c.logger.Debug("video task created", zap.String("task_id", id), zap.String("model", req.Model))
	return &CreateTaskResponse{ID: id, Raw: raw}, nil
}

// GetVideoTask fetches the current state of a task.
func (c *Client) GetVideoTask(ctx context.Context, taskID string) (*Task, error) {
	body, err := c.doJSON(ctx, http.MethodGet, tasksPath+"/"+url.PathEscape(taskID), pollTimeout, nil)
	if err != nil {
		return nil, err
	}

	var tb taskBody
	if err := json.Unmarshal(body, &tb); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	raw, err := decodeRaw(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}

	return &Task{
		ID:           tb.ID,
		Model:        tb.Model,
		Status:       tb.Status,
		VideoURL:     tb.Content.VideoURL,
		ErrorMessage: tb.Error.Message,
		Raw:          raw,
	}, nil
}

// GenerateImages runs a synchronous image generation.
func (c *Client) GenerateImages(ctx context.Context, req *ImagesRequest) (*ImagesResponse, error) {
	body, err := c.doJSON(ctx, http.MethodPost, imagesPath, imagesTimeout, req)
	if err != nil {
		return nil, err
	}

	var resp ImagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode images response: %w", err)
	}
	if resp.Raw, err = decodeRaw(body); err != nil {
		return nil, fmt.Errorf("failed to decode images response: %w", err)
	}

	c.logger.Debug("images generated", zap.String("model", resp.Model), zap.Int("count", len(resp.Data)))
	return &resp, nil
}

// Download fetches a generated artifact. Artifact URLs are pre-signed, so no
// credentials are sent. Only a 200 answer counts as success.
func (c *Client) Download(ctx context.Context, artifactURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read artifact: %w", err)
	}
	if int64(len(data)) > c.maxDownload {
		return nil, "", fmt.Errorf("artifact exceeds %d bytes", c.maxDownload)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, timeout time.Duration, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > c.maxDownload {
		return nil, fmt.Errorf("response exceeds %d bytes", c.maxDownload)
	}

	c.logger.Debug("api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	if len(body) > errorBodyLimit {
		apiErr.Body = string(body[:errorBodyLimit])
	} else {
		apiErr.Body = string(body)
	}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

// decodeRaw keeps numbers as json.Number so ids and seeds survive re-encoding.
func decodeRaw(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}
