package main

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"path"
	"strings"
	"time"

	"ark-mcp/internal/generation"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// progressFunc forwards an intermediate status line to the client.
type progressFunc func(message string)

// progressReporter returns a progressFunc sending MCP progress notifications
// when the caller asked for them, or nil.
func (s *Server) progressReporter(ctx context.Context, req *mcp.CallToolRequest) progressFunc {
	if req == nil || req.Session == nil || req.Params == nil {
		return nil
	}
	token := req.Params.GetProgressToken()
	if token == nil {
		return nil
	}

	step := 0
	return func(message string) {
		step++
		err := req.Session.NotifyProgress(ctx, &mcp.ProgressNotificationParams{
			ProgressToken: token,
			Message:       message,
			Progress:      float64(step),
		})
		if err != nil {
			s.logger.Debug("progress notification failed", zap.Error(err))
		}
	}
}

// render drains a tool's event sequence into one tool result. Files are
// persisted through storage; their object key is reported as a file_id so a
// later call can reuse them.
func (s *Server) render(ctx context.Context, events iter.Seq[generation.Event], progress progressFunc) *mcp.CallToolResult {
	result := &mcp.CallToolResult{}
	add := func(c mcp.Content) { result.Content = append(result.Content, c) }
	addText := func(text string) {
		add(&mcp.TextContent{Text: text})
		if progress != nil {
			progress(text)
		}
	}

	for ev := range events {
		switch ev.Kind {
		case generation.KindText:
			addText(ev.Text)

		case generation.KindJSON:
			if ev.Text != "" {
				addText(ev.Text)
			}
			add(&mcp.TextContent{Text: indentJSON(ev.Data)})
			if ev.Terminal() {
				result.StructuredContent = ev.Data
			}

		case generation.KindFile:
			s.renderFile(ctx, ev, add)

		case generation.KindImage:
			add(&mcp.ResourceLink{URI: ev.URL, Name: linkName(ev.URL)})
			addText("Image URL: " + ev.URL)
		}

		if ev.Terminal() {
			result.IsError = ev.Outcome.IsError()
		}
	}
	return result
}

func (s *Server) renderFile(ctx context.Context, ev generation.Event, add func(mcp.Content)) {
	prefix := strings.TrimSuffix(ev.Filename, path.Ext(ev.Filename))
	stored, err := s.storage.Store(ctx, ev.Blob, ev.MIMEType, prefix)
	if err != nil {
		s.logger.Warn("failed to store generated file", zap.String("filename", ev.Filename), zap.Error(err))
		add(&mcp.TextContent{Text: fmt.Sprintf("Note: could not store %s: %v", ev.Filename, err)})
	} else {
		text := fmt.Sprintf("Saved %s (%d bytes)\nfile_id: %s\nLocation: %s", ev.Filename, stored.Size, stored.ObjectKey, stored.Location)
		if stored.ExpiresAt != nil {
			text += "\nURL expires at: " + stored.ExpiresAt.Format(time.RFC3339)
		}
		add(&mcp.TextContent{Text: text})
	}

	if strings.HasPrefix(ev.MIMEType, "image/") {
		add(&mcp.ImageContent{Data: ev.Blob, MIMEType: ev.MIMEType})
	}
}

func indentJSON(v any) string {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(encoded)
}

func linkName(rawURL string) string {
	base, _, _ := strings.Cut(rawURL, "?")
	return path.Base(base)
}
