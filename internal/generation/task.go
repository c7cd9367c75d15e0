package generation

import (
	"context"
	"fmt"
	"iter"
	"time"

	"ark-mcp/internal/ark"

	"go.uber.org/zap"
)

const (
	videoFilename = "generated_video.mp4"
	videoMIMEType = "video/mp4"
)

// PollOptions bound the wait for a task.
type PollOptions struct {
	Interval time.Duration
	MaxPolls int
}

// SubmitAndAwait creates a video task and polls it until it reaches a
// terminal state or the poll budget runs out.
//
// The sequence is: the creation answer, a confirmation line, one status line
// per successful poll (or a diagnostic per failed poll), then exactly one
// terminal event. A failed poll counts against MaxPolls.
func (g *Generator) SubmitAndAwait(ctx context.Context, req *ark.VideoTaskRequest, po PollOptions) iter.Seq[Event] {
	if po.Interval <= 0 {
		po.Interval = g.opts.PollInterval
	}
	if po.MaxPolls <= 0 {
		po.MaxPolls = g.opts.MaxPolls
	}

	return func(yield func(Event) bool) {
		created, err := g.api.CreateVideoTask(ctx, req)
		if err != nil {
			g.logger.Warn("task creation failed", zap.Error(err))
			yield(textEvent("Error creating video generation task: " + err.Error()).ending(OutcomeError))
			return
		}
		if !yield(jsonEvent(created.Raw)) {
			return
		}
		if created.ID == "" {
			yield(textEvent("Failed to create video generation task").ending(OutcomeError))
			return
		}

		taskID := created.ID
		log := g.logger.With(zap.String("task_id", taskID))
		if !yield(textEvent("Task created successfully, task ID: " + taskID)) {
			return
		}

		lastStatus := ark.StateUnknown
		for poll := 1; poll <= po.MaxPolls; poll++ {
			task, err := g.api.GetVideoTask(ctx, taskID)
			if err != nil {
				log.Warn("poll failed", zap.Int("poll", poll), zap.Error(err))
				g.recorder.TaskPolled("error")
				if !yield(textEvent("Error polling task status: " + err.Error())) {
					return
				}
				if poll < po.MaxPolls && !g.pause(ctx, po.Interval, yield) {
					return
				}
				continue
			}

			lastStatus = task.State()
			g.recorder.TaskPolled(string(lastStatus))
			log.Debug("task polled", zap.Int("poll", poll), zap.String("status", string(lastStatus)))
			if !yield(textEvent(fmt.Sprintf("Poll %d/%d: Task status is %s", poll, po.MaxPolls, lastStatus))) {
				return
			}

			switch lastStatus {
			case ark.StateSucceeded:
				g.finishVideo(ctx, taskID, task, yield)
				return
			case ark.StateFailed:
				msg := task.ErrorMessage
				if msg == "" {
					msg = "Unknown error"
				}
				yield(Event{Kind: KindJSON, Text: "Task failed: " + msg, Data: task.Raw}.ending(OutcomeFailed))
				return
			}

			// queued, running and statuses this client does not know yet
			if poll < po.MaxPolls && !g.pause(ctx, po.Interval, yield) {
				return
			}
		}

		log.Warn("poll budget exhausted", zap.Int("max_polls", po.MaxPolls), zap.String("status", string(lastStatus)))
		yield(textEvent(fmt.Sprintf("Task did not complete after %d polls. Status: %s", po.MaxPolls, lastStatus)).ending(OutcomeTimedOut))
	}
}

// pause waits between polls. A cancelled context ends the sequence.
func (g *Generator) pause(ctx context.Context, d time.Duration, yield func(Event) bool) bool {
	if err := g.sleep(ctx, d); err != nil {
		yield(textEvent("Polling cancelled: " + err.Error()).ending(OutcomeError))
		return false
	}
	return true
}

func (g *Generator) finishVideo(ctx context.Context, taskID string, task *ark.Task, yield func(Event) bool) {
	if task.VideoURL == "" {
		yield(textEvent("Task succeeded but no video URL found").ending(OutcomeNoResult))
		return
	}

	if !yield(textEvent("Video generation completed!")) {
		return
	}
	if !yield(textEvent("Download URL: " + task.VideoURL)) {
		return
	}

	// The artifact is optional; the metadata result stands on its own.
	data, _, err := g.api.Download(ctx, task.VideoURL)
	if err != nil {
		g.logger.Warn("video download failed", zap.String("task_id", taskID), zap.Error(err))
		if !yield(textEvent("Note: Could not download video directly: " + err.Error())) {
			return
		}
	} else if !yield(fileEvent(data, videoFilename, videoMIMEType)) {
		return
	}

	yield(jsonEvent(videoResult(taskID, task)).ending(OutcomeSucceeded))
}

func videoResult(taskID string, task *ark.Task) map[string]any {
	result := map[string]any{
		"task_id":   taskID,
		"status":    task.Status,
		"video_url": task.VideoURL,
	}
	for _, key := range []string{"model", "resolution", "ratio", "duration", "framespersecond", "seed", "usage", "created_at", "updated_at"} {
		result[key] = task.Raw[key]
	}
	return result
}
