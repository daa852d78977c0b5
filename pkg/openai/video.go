package openai

// Video job statuses exposed on the /v1/videos surface.
const (
	VideoStatusQueued     = "queued"
	VideoStatusInProgress = "in_progress"
	VideoStatusCompleted  = "completed"
	VideoStatusFailed     = "failed"
)

// CreateVideoRequest is an inbound /v1/videos request.
type CreateVideoRequest struct {
	Prompt         string `json:"prompt"`
	Model          string `json:"model,omitempty"`
	InputReference string `json:"input_reference,omitempty"`
	Seconds        string `json:"seconds,omitempty"`
	Size           string `json:"size,omitempty"`
	User           string `json:"user,omitempty"`
}

// RemixVideoRequest is an inbound /v1/videos/{id}/remix request.
type RemixVideoRequest struct {
	Prompt string `json:"prompt"`
}

// VideoJob is the OpenAI-shaped representation of a video generation task.
type VideoJob struct {
	ID                 string      `json:"id"`
	Object             string      `json:"object"`
	Model              string      `json:"model"`
	Status             string      `json:"status"`
	Progress           int         `json:"progress"`
	CreatedAt          int64       `json:"created_at"`
	CompletedAt        int64       `json:"completed_at,omitempty"`
	ExpiresAt          int64       `json:"expires_at,omitempty"`
	Prompt             string      `json:"prompt,omitempty"`
	InputReference     string      `json:"input_reference,omitempty"`
	Size               string      `json:"size,omitempty"`
	Seconds            string      `json:"seconds,omitempty"`
	Quality            string      `json:"quality,omitempty"`
	Error              *VideoError `json:"error,omitempty"`
	RemixedFromVideoID string      `json:"remixed_from_video_id,omitempty"`
	VideoURL           string      `json:"video_url,omitempty"`
	ThumbnailURL       string      `json:"thumbnail_url,omitempty"`
}

// VideoError carries the terminal error of a failed video job.
type VideoError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// VideoList is the /v1/videos listing envelope.
type VideoList struct {
	Object  string     `json:"object"`
	Data    []VideoJob `json:"data"`
	FirstID string     `json:"first_id,omitempty"`
	LastID  string     `json:"last_id,omitempty"`
	HasMore bool       `json:"has_more"`
}

// VideoDeleted acknowledges a video job deletion.
type VideoDeleted struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}
