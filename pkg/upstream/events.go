package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
)

// Event is one decoded frame of the upstream conversation stream.
type Event struct {
	Result struct {
		Response struct {
			// Token is an incremental text delta.
			Token string `json:"token"`

			// IsThinking marks the delta as part of a reasoning
			// segment.
			IsThinking bool `json:"isThinking"`

			// ModelResponse is present on the final frame.
			ModelResponse *ModelResponse `json:"modelResponse,omitempty"`
		} `json:"response"`
	} `json:"result"`
}

// ModelResponse is the terminal frame of a conversation.
type ModelResponse struct {
	Message            string   `json:"message"`
	GeneratedImageURLs []string `json:"generatedImageUrls,omitempty"`
	GeneratedVideoURLs []string `json:"generatedVideoUrls,omitempty"`
	JobID              string   `json:"jobId,omitempty"`
}

// EventReader decodes the upstream's line-delimited event stream. Frames
// arrive either as bare JSON lines or SSE "data:" lines depending on the
// upstream's mood; both are accepted.
type EventReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	closed  bool
}

// maxEventBytes bounds one stream frame. Media frames can carry long URLs
// but never payloads, so 1MB is generous.
const maxEventBytes = 1 << 20

// NewEventReader wraps a raw upstream stream body.
func NewEventReader(body io.ReadCloser) *EventReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64<<10), maxEventBytes)
	return &EventReader{body: body, scanner: scanner}
}

// Read returns the next decoded event. Returns io.EOF when the stream ends
// normally and the context error if ctx is cancelled.
func (r *EventReader) Read(ctx context.Context) (*Event, error) {
	if r.closed {
		return nil, io.EOF
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return nil, &TransportError{Op: "read", Cause: err}
			}
			return nil, io.EOF
		}

		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		line = bytes.TrimPrefix(line, []byte("data: "))
		if bytes.Equal(line, []byte("[DONE]")) {
			return nil, io.EOF
		}
		if line[0] != '{' {
			// Comment or event-type line.
			continue
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			// Malformed frames are skipped, not fatal: the upstream
			// interleaves housekeeping lines the gateway does not model.
			continue
		}
		return &event, nil
	}
}

// Close closes the underlying stream.
func (r *EventReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.body.Close()
}
