package generation

import (
	"context"
	"iter"

	"ark-mcp/internal/ark"
	"ark-mcp/internal/resolver"

	"go.uber.org/zap"
)

const (
	ToolTextToVideo  = "text_to_video"
	ToolImageToVideo = "image_to_video"

	defaultImageRole = "first_frame"
)

// videoImageScan lists where image_to_video looks for reference images.
var videoImageScan = resolver.Scan{
	Keys:   []string{"reference_image_url", "reference_image", "image", "sys.files", "sys_files"},
	Legacy: []string{"reference_images"},
	Skip: []string{
		"prompt", "model", "generate_audio", "ratio", "duration", "watermark",
		"poll_interval", "max_polls", "image_role",
	},
}

// TextToVideo generates a video from a prompt.
func (g *Generator) TextToVideo(ctx context.Context, p Params) iter.Seq[Event] {
	prompt := p.String("prompt", "")
	if prompt == "" {
		return g.instrument(ToolTextToVideo, reject("prompt is required"))
	}

	req := g.videoRequest(p, prompt)
	return g.instrument(ToolTextToVideo, g.SubmitAndAwait(ctx, req, g.pollOptions(p)))
}

// ImageToVideo generates a video from a prompt and one or more reference
// images. Every image gets the image_role (first_frame unless overridden);
// an explicitly empty role leaves it out.
func (g *Generator) ImageToVideo(ctx context.Context, p Params) iter.Seq[Event] {
	prompt := p.String("prompt", "")
	if prompt == "" {
		return g.instrument(ToolImageToVideo, reject("prompt is required"))
	}

	refs := g.images.Collect(ctx, p, videoImageScan)
	if len(refs) == 0 {
		return g.instrument(ToolImageToVideo, reject("At least one image is required, or local file content could not be resolved"))
	}
	g.logger.Debug("resolved reference images", zap.Int("count", len(refs)))

	role, supplied := p.Lookup("image_role")
	if !supplied {
		role = defaultImageRole
	}

	req := g.videoRequest(p, prompt)
	for _, ref := range refs {
		req.Content = append(req.Content, ark.ImageItem(ref, role))
	}
	return g.instrument(ToolImageToVideo, g.SubmitAndAwait(ctx, req, g.pollOptions(p)))
}

func (g *Generator) videoRequest(p Params, prompt string) *ark.VideoTaskRequest {
	return &ark.VideoTaskRequest{
		Model:         p.String("model", g.opts.VideoModel),
		Content:       []ark.ContentItem{ark.TextItem(prompt)},
		GenerateAudio: p.Bool("generate_audio", true),
		Ratio:         p.String("ratio", "adaptive"),
		Duration:      p.Int("duration", 5),
		Watermark:     p.Bool("watermark", false),
	}
}
