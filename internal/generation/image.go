package generation

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"net/http"

	"ark-mcp/internal/ark"
	"ark-mcp/internal/mimetype"
	"ark-mcp/internal/resolver"
	"ark-mcp/internal/storage"

	"go.uber.org/zap"
)

const (
	ToolTextToImage  = "text_to_image"
	ToolImageToImage = "image_to_image"

	sequentialAuto = "auto"
)

var editImageScan = resolver.Scan{
	Keys: []string{"image", "reference_image", "sys.files", "sys_files"},
	Skip: []string{"prompt", "model", "size", "response_format", "watermark"},
}

// TextToImage generates one or more images from a prompt. max_images only
// applies in sequential "auto" mode.
func (g *Generator) TextToImage(ctx context.Context, p Params) iter.Seq[Event] {
	prompt := p.String("prompt", "")
	if prompt == "" {
		return g.instrument(ToolTextToImage, reject("prompt is required"))
	}

	req := g.imagesRequest(p, prompt)
	req.SequentialImageGeneration = p.String("sequential_image_generation", "disabled")
	if req.SequentialImageGeneration == sequentialAuto {
		if n := p.Int("max_images", 0); n > 0 {
			req.SequentialImageGenerationOptions = &ark.SequentialOptions{MaxImages: n}
		}
	}
	return g.instrument(ToolTextToImage, g.generateImages(ctx, req))
}

// ImageToImage edits the first image found in the parameters.
func (g *Generator) ImageToImage(ctx context.Context, p Params) iter.Seq[Event] {
	prompt := p.String("prompt", "")
	if prompt == "" {
		return g.instrument(ToolImageToImage, reject("prompt is required"))
	}

	ref, ok := g.images.CollectFirst(ctx, p, editImageScan)
	if !ok {
		return g.instrument(ToolImageToImage, reject("image is required or local file content could not be resolved"))
	}

	req := g.imagesRequest(p, prompt)
	req.Image = ref
	return g.instrument(ToolImageToImage, g.generateImages(ctx, req))
}

func (g *Generator) imagesRequest(p Params, prompt string) *ark.ImagesRequest {
	return &ark.ImagesRequest{
		Model:          p.String("model", g.opts.ImageModel),
		Prompt:         prompt,
		ResponseFormat: p.String("response_format", "url"),
		Size:           p.String("size", "4K"),
		Watermark:      p.Bool("watermark", true),
	}
}

func (g *Generator) generateImages(ctx context.Context, req *ark.ImagesRequest) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		resp, err := g.api.GenerateImages(ctx, req)
		if err != nil {
			g.logger.Warn("image generation failed", zap.String("model", req.Model), zap.Error(err))
			yield(textEvent("Error generating images: " + err.Error()).ending(OutcomeError))
			return
		}

		for i, img := range resp.Data {
			switch {
			case img.URL != "":
				if !yield(imageEvent(img.URL)) {
					return
				}
			case img.B64JSON != "":
				data, err := base64.StdEncoding.DecodeString(img.B64JSON)
				if err != nil {
					g.logger.Warn("undecodable b64_json image", zap.Int("index", i), zap.Error(err))
					continue
				}
				mimeType := mimetype.Normalize(http.DetectContentType(data))
				name := fmt.Sprintf("generated_image_%d%s", i+1, storage.ExtensionFromMIME(mimeType))
				if !yield(fileEvent(data, name, mimeType)) {
					return
				}
			}
		}

		outcome := OutcomeSucceeded
		if len(resp.Data) == 0 {
			outcome = OutcomeNoResult
		}
		yield(jsonEvent(imagesResult(resp)).ending(outcome))
	}
}

func imagesResult(resp *ark.ImagesResponse) map[string]any {
	data := resp.Raw["data"]
	if data == nil {
		data = []any{}
	}
	return map[string]any{
		"model":   resp.Raw["model"],
		"created": resp.Raw["created"],
		"data":    data,
		"usage":   resp.Raw["usage"],
	}
}
