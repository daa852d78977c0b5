// Package openai defines the OpenAI-compatible wire types exposed by the
// gateway: chat completion requests and responses, streaming chunks, image
// generation, video jobs, and the standard error envelope.
//
// The types are hand-rolled rather than imported from a client SDK because the
// gateway emits extension fields (reasoning_content deltas, video job
// progress) that the official schemas do not carry.
package openai

import (
	"encoding/json"
	"fmt"
)

// ChatRequest is an inbound /v1/chat/completions request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	User        string    `json:"user,omitempty"`
}

// Message is a single chat message. Content accepts either a plain string or
// the multi-part array form used for image attachments.
type Message struct {
	Role             string         `json:"role"`
	Content          MessageContent `json:"content"`
	ReasoningContent string         `json:"reasoning_content,omitempty"`
}

// MessageContent holds either plain text or multi-part content.
type MessageContent struct {
	Text        string
	Parts       []ContentPart
	IsMultiPart bool
}

// ContentPart is one element of multi-part message content.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an attached image by URL or data URI.
type ImageURL struct {
	URL string `json:"url"`
}

// UnmarshalJSON accepts both the string form and the array form of content.
func (mc *MessageContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		mc.Text = text
		mc.IsMultiPart = false
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content must be a string or an array of parts: %w", err)
	}
	mc.Parts = parts
	mc.IsMultiPart = true
	return nil
}

// MarshalJSON emits the form the content was received in.
func (mc MessageContent) MarshalJSON() ([]byte, error) {
	if mc.IsMultiPart {
		return json.Marshal(mc.Parts)
	}
	return json.Marshal(mc.Text)
}

// PlainText flattens the content to text, joining multi-part text segments.
func (mc MessageContent) PlainText() string {
	if !mc.IsMultiPart {
		return mc.Text
	}
	var out string
	for _, part := range mc.Parts {
		if part.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += part.Text
		}
	}
	return out
}

// ImageURLs returns the image references embedded in multi-part content.
func (mc MessageContent) ImageURLs() []string {
	if !mc.IsMultiPart {
		return nil
	}
	var urls []string
	for _, part := range mc.Parts {
		if part.Type == "image_url" && part.ImageURL != nil && part.ImageURL.URL != "" {
			urls = append(urls, part.ImageURL.URL)
		}
	}
	return urls
}

// ChatResponse is a non-streaming chat completion response.
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// ChatChoice is one completion choice in a non-streaming response.
type ChatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// StreamChunk is one SSE data frame of a streaming chat completion.
type StreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
	Usage   *Usage         `json:"usage,omitempty"`
}

// StreamChoice is one choice inside a streaming chunk.
type StreamChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta carries the incremental content of a streaming chunk. Reasoning
// segments are surfaced through ReasoningContent so clients can render
// thinking separately from the answer.
type Delta struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// Usage reports token counts for a completed call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ImageRequest is an inbound /v1/images/generations request.
type ImageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
	User           string `json:"user,omitempty"`
}

// ImageResponse is the response envelope for image generation.
type ImageResponse struct {
	Created int64       `json:"created"`
	Data    []ImageData `json:"data"`
}

// ImageData is one generated image, as a URL or inline base64 payload.
type ImageData struct {
	URL     string `json:"url,omitempty"`
	B64JSON string `json:"b64_json,omitempty"`
}

// Model describes one entry of the /v1/models listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the /v1/models response envelope.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
