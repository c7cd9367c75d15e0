package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ark-mcp/internal/common"
	"ark-mcp/internal/generation"
	"ark-mcp/internal/metrics"
	"ark-mcp/internal/storage"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// fakeArk answers image generation calls and records the last request.
type fakeArk struct {
	lastImages map[string]any
}

func (f *fakeArk) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v3/images/generations":
		f.lastImages = map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&f.lastImages)
		fmt.Fprintf(w, `{"model":"image-model","created":1,"data":[{"url":"https://cdn.example.com/out.jpeg?sig=1"},{"b64_json":%q}],"usage":{"generated_images":2}}`,
			base64.StdEncoding.EncodeToString(pngBytes))
	default:
		http.NotFound(w, r)
	}
}

type testEnv struct {
	server  *Server
	storage *storage.LocalStorage
	ark     *fakeArk
	reg     *prometheus.Registry
	metrics *metrics.Collector
}

func newTestEnv(t *testing.T, tokens ...string) *testEnv {
	t.Helper()

	api := &fakeArk{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	stor, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	config := &common.Config{
		APIKey:        "key",
		BaseURL:       srv.URL,
		VideoModel:    "video-model",
		ImageModel:    "image-model",
		PollInterval:  common.DefaultPollInterval,
		MaxPolls:      common.DefaultMaxPolls,
		ServiceTokens: tokens,
		AuthEnabled:   len(tokens) > 0,
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", reg, zap.NewNop())
	return &testEnv{
		server:  newServer(config, stor, collector, zap.NewNop()),
		storage: stor,
		ark:     api,
		reg:     reg,
		metrics: collector,
	}
}

func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	server := mcp.NewServer(&mcp.Implementation{Name: serviceName, Version: "test"}, nil)
	s.registerTools(server)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	_, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func textOf(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func TestTools_Listed(t *testing.T) {
	session := connect(t, newTestEnv(t).server)

	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"text_to_video", "image_to_video", "text_to_image", "image_to_image", "upload_media"}, names)
}

func TestTools_UploadThenEditByFileID(t *testing.T) {
	env := newTestEnv(t)
	session := connect(t, env.server)
	ctx := context.Background()

	uploaded, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "upload_media",
		Arguments: map[string]any{"data": base64.StdEncoding.EncodeToString(pngBytes)},
	})
	require.NoError(t, err)
	require.False(t, uploaded.IsError, textOf(uploaded))

	raw, err := json.Marshal(uploaded.StructuredContent)
	require.NoError(t, err)
	var upload UploadResult
	require.NoError(t, json.Unmarshal(raw, &upload))
	require.NotEmpty(t, upload.FileID)
	assert.Equal(t, "image/png", upload.MIMEType)
	assert.Contains(t, textOf(uploaded), upload.FileID)

	edited, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name: "image_to_image",
		Arguments: map[string]any{
			"prompt": "make it blue",
			"image":  map[string]any{"transfer_method": "local_file", "related_id": upload.FileID},
		},
	})
	require.NoError(t, err)
	require.False(t, edited.IsError, textOf(edited))

	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(pngBytes), env.ark.lastImages["image"])
	assert.Equal(t, "image-model", env.ark.lastImages["model"])
	assert.Contains(t, textOf(edited), "Image URL: https://cdn.example.com/out.jpeg?sig=1")
	assert.Contains(t, textOf(edited), "file_id: ")

	var sawImage, sawLink bool
	for _, c := range edited.Content {
		switch v := c.(type) {
		case *mcp.ImageContent:
			sawImage = true
			assert.Equal(t, "image/png", v.MIMEType)
		case *mcp.ResourceLink:
			sawLink = true
			assert.Equal(t, "out.jpeg", v.Name)
		}
	}
	assert.True(t, sawImage)
	assert.True(t, sawLink)

	assert.Equal(t, 1.0, counterValue(t, env.reg, "test_tool_invocations_total", map[string]string{"tool": "image_to_image", "outcome": "succeeded"}))
}

func TestTools_RejectedInputIsAnError(t *testing.T) {
	session := connect(t, newTestEnv(t).server)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "image_to_video",
		Arguments: map[string]any{"prompt": "p", "image": "no-such-file"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "At least one image is required, or local file content could not be resolved", textOf(res))
}

func TestTools_UploadPrefixStaysInStorage(t *testing.T) {
	env := newTestEnv(t)
	session := connect(t, env.server)
	ctx := context.Background()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name: "upload_media",
		Arguments: map[string]any{
			"data":   base64.StdEncoding.EncodeToString(pngBytes),
			"prefix": "../escaped",
		},
	})
	require.NoError(t, err)
	require.False(t, res.IsError, textOf(res))

	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var upload UploadResult
	require.NoError(t, json.Unmarshal(raw, &upload))
	assert.True(t, strings.HasPrefix(upload.FileID, "escaped_"), upload.FileID)

	obj, err := env.storage.Fetch(ctx, upload.FileID)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, obj.Data)
}

func TestTools_UploadRequiresInput(t *testing.T) {
	session := connect(t, newTestEnv(t).server)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "upload_media",
		Arguments: map[string]any{},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func eventsOf(events ...generation.Event) iter.Seq[generation.Event] {
	return func(yield func(generation.Event) bool) {
		for _, ev := range events {
			if !yield(ev) {
				return
			}
		}
	}
}

func TestRender(t *testing.T) {
	env := newTestEnv(t)

	var progress []string
	result := env.server.render(context.Background(), eventsOf(
		generation.Event{Kind: generation.KindJSON, Data: map[string]any{"id": "cgt-1"}},
		generation.Event{Kind: generation.KindText, Text: "Task created successfully, task ID: cgt-1"},
		generation.Event{Kind: generation.KindFile, Blob: []byte("mp4"), Filename: "generated_video.mp4", MIMEType: "video/mp4"},
		generation.Event{Kind: generation.KindJSON, Data: map[string]any{"task_id": "cgt-1"}, Outcome: generation.OutcomeSucceeded},
	), func(msg string) { progress = append(progress, msg) })

	assert.False(t, result.IsError)
	assert.Equal(t, map[string]any{"task_id": "cgt-1"}, result.StructuredContent)
	assert.Equal(t, []string{"Task created successfully, task ID: cgt-1"}, progress)

	text := textOf(result)
	assert.Contains(t, text, "\"id\": \"cgt-1\"")
	assert.Contains(t, text, "Saved generated_video.mp4 (3 bytes)")
	for _, c := range result.Content {
		_, isImage := c.(*mcp.ImageContent)
		assert.False(t, isImage, "videos are not inlined")
	}

	// The stored artifact is readable back by its file id.
	idx := strings.Index(text, "file_id: ")
	require.GreaterOrEqual(t, idx, 0)
	fileID := strings.SplitN(text[idx+len("file_id: "):], "\n", 2)[0]
	obj, err := env.storage.Fetch(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4"), obj.Data)
}

func TestRender_FailedTask(t *testing.T) {
	env := newTestEnv(t)

	result := env.server.render(context.Background(), eventsOf(
		generation.Event{Kind: generation.KindJSON, Text: "Task failed: bad prompt", Data: map[string]any{"status": "failed"}, Outcome: generation.OutcomeFailed},
	), nil)

	assert.True(t, result.IsError)
	assert.Contains(t, textOf(result), "Task failed: bad prompt")
}

func TestRender_TimeoutIsNotAnError(t *testing.T) {
	env := newTestEnv(t)

	result := env.server.render(context.Background(), eventsOf(
		generation.Event{Kind: generation.KindText, Text: "Task did not complete after 3 polls. Status: running", Outcome: generation.OutcomeTimedOut},
	), nil)
	assert.False(t, result.IsError)
}

func multipartUpload(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, "photo.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestRouter_Upload(t *testing.T) {
	env := newTestEnv(t, "secret")
	router := newRouter(mcp.NewServer(&mcp.Implementation{Name: serviceName}, nil), env.server, env.metrics)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartUpload(t, "file", pngBytes))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := multipartUpload(t, "file", pngBytes)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, strings.Contains(result.FileID, "upload_"), result.FileID)
	assert.Equal(t, "image/png", result.MIMEType)
	assert.Equal(t, int64(len(pngBytes)), result.Size)

	obj, err := env.storage.Fetch(context.Background(), result.FileID)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, obj.Data)

	req = multipartUpload(t, "other", pngBytes)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 1.0, counterValue(t, env.reg, "test_http_requests_total", map[string]string{"method": "POST", "route": "/upload", "status": "200"}))
}

func TestRouter_Healthz(t *testing.T) {
	env := newTestEnv(t, "secret")
	router := newRouter(mcp.NewServer(&mcp.Implementation{Name: serviceName}, nil), env.server, env.metrics)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	// the MCP endpoint is behind auth
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// counterValue reads one series of a counter vector from reg.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	series:
		for _, m := range family.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue series
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("series %s%v not found", name, labels)
	return 0
}
