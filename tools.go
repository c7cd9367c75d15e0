package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"ark-mcp/internal/common"
	"ark-mcp/internal/generation"
	"ark-mcp/internal/storage"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const (
	uploadMediaTool = "upload_media"

	// maxUploadBytes bounds both the upload tool and the HTTP endpoint.
	maxUploadBytes = 64 << 20
)

type Server struct {
	config     *common.Config
	storage    storage.Storage
	generator  *generation.Generator
	httpClient *http.Client
	logger     *zap.Logger
}

// Upload Media Input/Output types
type UploadMediaInput struct {
	Data     string `json:"data,omitempty" jsonschema:"Base64 encoded media data (image or video). Required if url is not provided."`
	URL      string `json:"url,omitempty" jsonschema:"URL of the media to download and store. Required if data is not provided."`
	MIMEType string `json:"mime_type,omitempty" jsonschema:"MIME type of the media, e.g. image/png. Detected from the content when omitted."`
	Prefix   string `json:"prefix,omitempty" jsonschema:"Optional prefix for the stored object key (default: upload)"`
}

type UploadResult struct {
	FileID      string `json:"file_id"`
	ObjectKey   string `json:"object_key"`
	Location    string `json:"location,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	MIMEType    string `json:"mime_type"`
	Size        int64  `json:"size"`
	Message     string `json:"message"`
	UploadedAt  string `json:"uploaded_at"`
}

// anyValue accepts every JSON value. Image parameters arrive as URLs, file
// ids, JSON strings, file objects or lists of those.
func anyValue(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Description: description}
}

func stringProp(description string, enum ...any) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description, Enum: enum}
}

// Numbers and booleans may also be sent as strings by some hosts.
func numberProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Types: []string{"number", "string"}, Description: description}
}

func boolProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Types: []string{"boolean", "string"}, Description: description}
}

func objectSchema(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

func videoProps() map[string]*jsonschema.Schema {
	return map[string]*jsonschema.Schema{
		"prompt":         stringProp("Text prompt describing the video"),
		"model":          stringProp("Video model id (default: server setting)"),
		"generate_audio": boolProp("Generate a soundtrack (default: true)"),
		"ratio":          stringProp("Aspect ratio such as 16:9, 9:16, 1:1 or adaptive (default: adaptive)"),
		"duration":       numberProp("Video length in seconds (default: 5)"),
		"watermark":      boolProp("Add a watermark (default: false)"),
		"poll_interval":  numberProp("Seconds between status polls (default: 5)"),
		"max_polls":      numberProp("Maximum number of status polls before giving up (default: 120)"),
	}
}

func imageProps() map[string]*jsonschema.Schema {
	return map[string]*jsonschema.Schema{
		"prompt":          stringProp("Text prompt describing the image"),
		"model":           stringProp("Image model id (default: server setting)"),
		"size":            stringProp("Output size: 1K, 2K, 4K or WIDTHxHEIGHT (default: 4K)"),
		"response_format": stringProp("url or b64_json (default: url)", "url", "b64_json"),
		"watermark":       boolProp("Add a watermark (default: true)"),
	}
}

func textToVideoSchema() *jsonschema.Schema {
	return objectSchema(videoProps(), "prompt")
}

func imageToVideoSchema() *jsonschema.Schema {
	props := videoProps()
	for _, key := range []string{"reference_image_url", "reference_image", "image", "sys.files", "sys_files"} {
		props[key] = anyValue("Reference image: URL, data URI, file_id, file object, or a list of these")
	}
	props["reference_images"] = anyValue("Deprecated: list of reference images")
	props["image_role"] = stringProp("Role of every reference image (default: first_frame; empty string omits it)")
	return objectSchema(props, "prompt")
}

func textToImageSchema() *jsonschema.Schema {
	props := imageProps()
	props["sequential_image_generation"] = stringProp("auto generates a related image set (default: disabled)", "auto", "disabled")
	props["max_images"] = numberProp("Upper bound on images in auto mode")
	return objectSchema(props, "prompt")
}

func imageToImageSchema() *jsonschema.Schema {
	props := imageProps()
	for _, key := range []string{"image", "reference_image", "sys.files", "sys_files"} {
		props[key] = anyValue("Source image: URL, data URI, file_id or file object. The first image found is used.")
	}
	return objectSchema(props, "prompt")
}

const imageInputHelp = `

Images may be given as an http(s) URL, a data:image URI, a file_id returned by upload_media, or a file object ({"transfer_method": "local_file", "related_id": ...}).`

func (s *Server) registerTools(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        generation.ToolTextToVideo,
		Description: "Generate a video from a text prompt with Seedance. Creates an asynchronous task and polls it until the video is ready, failed, or the poll budget runs out. The finished video is downloaded and stored; the result includes its URL, resolution, duration and usage.",
		InputSchema: textToVideoSchema(),
	}, s.generationHandler(s.generator.TextToVideo))

	mcp.AddTool(server, &mcp.Tool{
		Name:        generation.ToolImageToVideo,
		Description: "Animate one or more reference images into a video with Seedance. Every image is sent with image_role (first_frame unless overridden)." + imageInputHelp,
		InputSchema: imageToVideoSchema(),
	}, s.generationHandler(s.generator.ImageToVideo))

	mcp.AddTool(server, &mcp.Tool{
		Name:        generation.ToolTextToImage,
		Description: "Generate images from a text prompt with Seedream. Set sequential_image_generation to auto with max_images for a related image set.",
		InputSchema: textToImageSchema(),
	}, s.generationHandler(s.generator.TextToImage))

	mcp.AddTool(server, &mcp.Tool{
		Name:        generation.ToolImageToImage,
		Description: "Edit an image with Seedream following a text prompt." + imageInputHelp,
		InputSchema: imageToImageSchema(),
	}, s.generationHandler(s.generator.ImageToImage))

	mcp.AddTool(server, &mcp.Tool{
		Name: uploadMediaTool,
		Description: `Store an image or video so the generation tools can read it. Returns a file_id usable as image, reference_image or reference_image_url.

INPUT METHODS:
1. base64 data: pass the encoded file via 'data'.
2. URL: pass a publicly accessible URL via 'url'.

Do NOT read large base64 files into your context; pass the string directly to the tool parameter.`,
	}, s.handleUploadMedia)
}

type generationTool func(ctx context.Context, p generation.Params) iter.Seq[generation.Event]

func (s *Server) generationHandler(run generationTool) mcp.ToolHandlerFor[map[string]any, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input map[string]any) (*mcp.CallToolResult, any, error) {
		progress := s.progressReporter(ctx, req)
		return s.render(ctx, run(ctx, generation.Params(input)), progress), nil, nil
	}
}

func (s *Server) handleUploadMedia(ctx context.Context, req *mcp.CallToolRequest, input UploadMediaInput) (*mcp.CallToolResult, UploadResult, error) {
	if input.Data == "" && input.URL == "" {
		return nil, UploadResult{}, fmt.Errorf("one of 'data' (base64) or 'url' is required")
	}

	var (
		data []byte
		err  error
	)
	if input.Data != "" {
		data, err = base64.StdEncoding.DecodeString(strings.TrimSpace(input.Data))
		if err != nil {
			return nil, UploadResult{}, fmt.Errorf("failed to decode base64 data: %w", err)
		}
	} else {
		var contentType string
		data, contentType, err = s.fetchMedia(ctx, input.URL)
		if err != nil {
			return nil, UploadResult{}, err
		}
		if input.MIMEType == "" {
			input.MIMEType = contentType
		}
	}

	result, err := s.ingest(ctx, data, input.MIMEType, input.Prefix)
	if err != nil {
		return nil, UploadResult{}, err
	}

	text := fmt.Sprintf("Media uploaded successfully.\nfile_id: %s", result.FileID)
	if result.DownloadURL != "" {
		text += "\nDownload URL: " + result.DownloadURL
		if result.ExpiresAt != "" {
			text += "\nURL expires at: " + result.ExpiresAt
		}
	} else {
		text += "\nStored at: " + result.Location
	}
	text += fmt.Sprintf("\n\nUse file_id '%s' as the image parameter of image_to_video or image_to_image.", result.FileID)

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, *result, nil
}

func (s *Server) fetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	s.logger.Info("downloading media", zap.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid url: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download from URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download from URL: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUploadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) > maxUploadBytes {
		return nil, "", fmt.Errorf("media exceeds %d bytes", maxUploadBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// ingest stores uploaded bytes and describes the result. The object key is
// the file id the resolver reads back.
func (s *Server) ingest(ctx context.Context, data []byte, mimeType, prefix string) (*UploadResult, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("media is empty")
	}

	mimeType, _, _ = strings.Cut(mimeType, ";")
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType, _, _ = strings.Cut(http.DetectContentType(data), ";")
	}
	if prefix == "" {
		prefix = "upload"
	}

	stored, err := s.storage.Store(ctx, data, mimeType, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to store media: %w", err)
	}
	s.logger.Info("stored uploaded media",
		zap.String("object_key", stored.ObjectKey),
		zap.String("mime_type", mimeType),
		zap.Int64("size", stored.Size))

	result := &UploadResult{
		FileID:     stored.ObjectKey,
		ObjectKey:  stored.ObjectKey,
		Location:   stored.Location,
		MIMEType:   mimeType,
		Size:       stored.Size,
		Message:    "Media uploaded successfully",
		UploadedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if s.storage.IsRemote() {
		result.DownloadURL = stored.Location
		if stored.ExpiresAt != nil {
			result.ExpiresAt = stored.ExpiresAt.Format(time.RFC3339)
		}
	}
	return result, nil
}
