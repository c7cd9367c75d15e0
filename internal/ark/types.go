package ark

// TaskState is the status of an asynchronous generation task.
type TaskState string

const (
	StateQueued    TaskState = "queued"
	StateRunning   TaskState = "running"
	StateSucceeded TaskState = "succeeded"
	StateFailed    TaskState = "failed"
	// StateUnknown stands in for a missing status field.
	StateUnknown TaskState = "unknown"
)

// IsTerminal reports whether polling should stop at this state.
func (s TaskState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Content item types of a video task request.
const (
	ContentText     = "text"
	ContentImageURL = "image_url"
)

// ContentItem is one entry of a video task's content list: the prompt text
// or a reference image with an optional role such as "first_frame".
type ContentItem struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
	Role     string    `json:"role,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// TextItem returns a prompt content item.
func TextItem(text string) ContentItem {
	return ContentItem{Type: ContentText, Text: text}
}

// ImageItem returns a reference image content item.
func ImageItem(ref, role string) ContentItem {
	return ContentItem{Type: ContentImageURL, ImageURL: &ImageURL{URL: ref}, Role: role}
}

// VideoTaskRequest is the body of a video task creation call.
type VideoTaskRequest struct {
	Model         string        `json:"model"`
	Content       []ContentItem `json:"content"`
	GenerateAudio bool          `json:"generate_audio"`
	Ratio         string        `json:"ratio"`
	Duration      int           `json:"duration"`
	Watermark     bool          `json:"watermark"`
}

// CreateTaskResponse is the answer to a task creation call.
type CreateTaskResponse struct {
	ID  string
	Raw map[string]any
}

// Task is a polled task. Raw keeps every field of the answer, including the
// ones not modelled here.
type Task struct {
	ID           string
	Model        string
	Status       string
	VideoURL     string
	ErrorMessage string
	Raw          map[string]any
}

// State maps the status string to a TaskState.
func (t *Task) State() TaskState {
	if t.Status == "" {
		return StateUnknown
	}
	return TaskState(t.Status)
}

type taskBody struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Status  string `json:"status"`
	Content struct {
		VideoURL string `json:"video_url"`
	} `json:"content"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SequentialOptions bounds a sequential (multi-image) generation.
type SequentialOptions struct {
	MaxImages int `json:"max_images"`
}

// ImagesRequest is the body of a synchronous image generation call. Image is
// set for image-to-image; the sequential fields only for text-to-image.
type ImagesRequest struct {
	Model                            string             `json:"model"`
	Prompt                           string             `json:"prompt"`
	Image                            string             `json:"image,omitempty"`
	SequentialImageGeneration        string             `json:"sequential_image_generation,omitempty"`
	SequentialImageGenerationOptions *SequentialOptions `json:"sequential_image_generation_options,omitempty"`
	ResponseFormat                   string             `json:"response_format"`
	Size                             string             `json:"size"`
	Watermark                        bool               `json:"watermark"`
}

// GeneratedImage is one entry of an images answer. Exactly one of URL and
// B64JSON is set, depending on the requested response_format.
type GeneratedImage struct {
	URL     string `json:"url"`
	B64JSON string `json:"b64_json"`
	Size    string `json:"size"`
}

// ImagesResponse is the answer to an image generation call.
type ImagesResponse struct {
	Model   string           `json:"model"`
	Created int64            `json:"created"`
	Data    []GeneratedImage `json:"data"`
	Raw     map[string]any   `json:"-"`
}
