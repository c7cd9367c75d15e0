// Package generation runs the four generation tools. Each tool returns a
// lazy sequence of events; pulling the sequence drives the remote calls.
package generation

import (
	"context"
	"iter"
	"time"

	"ark-mcp/internal/ark"
	"ark-mcp/internal/resolver"

	"go.uber.org/zap"
)

// API is the subset of the remote API the tools call.
type API interface {
	CreateVideoTask(ctx context.Context, req *ark.VideoTaskRequest) (*ark.CreateTaskResponse, error)
	GetVideoTask(ctx context.Context, taskID string) (*ark.Task, error)
	GenerateImages(ctx context.Context, req *ark.ImagesRequest) (*ark.ImagesResponse, error)
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Images finds image references in tool parameters.
type Images interface {
	Collect(ctx context.Context, params map[string]any, scan resolver.Scan) []string
	CollectFirst(ctx context.Context, params map[string]any, scan resolver.Scan) (string, bool)
}

// Recorder observes tool runs. The metrics collector implements it.
type Recorder interface {
	TaskPolled(status string)
	ToolFinished(tool, outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) TaskPolled(string)                          {}
func (nopRecorder) ToolFinished(string, string, time.Duration) {}

// Options are the per-deployment defaults a call may override.
type Options struct {
	VideoModel   string
	ImageModel   string
	PollInterval time.Duration
	MaxPolls     int
}

// Option configures a Generator.
type Option func(*Generator)

func WithLogger(logger *zap.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(g *Generator) {
		if recorder != nil {
			g.recorder = recorder
		}
	}
}

// WithSleep replaces the wait between polls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Generator) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// Generator holds no per-call state; one instance serves all invocations.
type Generator struct {
	api      API
	images   Images
	opts     Options
	logger   *zap.Logger
	recorder Recorder
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(api API, images Images, opts Options, options ...Option) *Generator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = 120
	}

	g := &Generator{
		api:      api,
		images:   images,
		opts:     opts,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		sleep:    sleepContext,
	}
	for _, o := range options {
		o(g)
	}
	g.logger = g.logger.With(zap.String("component", "generation"))
	return g
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// outcomeIncomplete is recorded when the consumer stops pulling before the
// terminal event.
const outcomeIncomplete = "incomplete"

// instrument records the outcome and duration of a tool run.
func (g *Generator) instrument(tool string, seq iter.Seq[Event]) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		start := time.Now()
		outcome := outcomeIncomplete
		defer func() {
			elapsed := time.Since(start)
			g.recorder.ToolFinished(tool, outcome, elapsed)
			g.logger.Info("tool finished",
				zap.String("tool", tool),
				zap.String("outcome", outcome),
				zap.Duration("elapsed", elapsed))
		}()

		for ev := range seq {
			if ev.Terminal() {
				outcome = string(ev.Outcome)
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// reject ends a call whose input is unusable.
func reject(text string) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		yield(textEvent(text).ending(OutcomeRejected))
	}
}

func (g *Generator) pollOptions(p Params) PollOptions {
	return PollOptions{
		Interval: p.Seconds("poll_interval", g.opts.PollInterval),
		MaxPolls: positive(p.Int("max_polls", g.opts.MaxPolls), g.opts.MaxPolls),
	}
}

func positive(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
