package upstream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mouseww/grok2api-pro/pkg/config"
)

// Endpoint paths on the upstream backend.
const (
	pathNewConversation = "/rest/app-chat/conversations/new"
	pathUploadFile      = "/rest/app-chat/upload-file"
	pathImagineJob      = "/rest/imagine/job/"
)

// maxErrorBody bounds how much of an upstream error body is read for the
// error message.
const maxErrorBody = 4 << 10

// ChatPayload is the upstream conversation request.
type ChatPayload struct {
	Temporary       bool     `json:"temporary"`
	ModelName       string   `json:"modelName"`
	Message         string   `json:"message"`
	FileAttachments []string `json:"fileAttachments,omitempty"`
	ImageGeneration bool     `json:"imageGeneration,omitempty"`
	VideoGeneration bool     `json:"videoGeneration,omitempty"`

	// RemixJobID references a finished generation job the new one derives
	// from.
	RemixJobID string `json:"remixJobId,omitempty"`
}

// Attachment is one media file to upload alongside a conversation.
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

// JobStatus is the upstream's view of an asynchronous generation job.
type JobStatus struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	MediaURL string `json:"mediaUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Client performs calls against the upstream backend through the stealth
// transport. It owns payload construction and response classification but no
// retry policy; retries belong to the orchestrator.
type Client struct {
	cfg        *config.UpstreamConfig
	transport  Transport
	classifier *Classifier
	logger     *slog.Logger
}

// NewClient creates an upstream client.
func NewClient(cfg *config.UpstreamConfig, transport Transport) *Client {
	return &Client{
		cfg:        cfg,
		transport:  transport,
		classifier: NewClassifier(cfg),
		logger:     slog.Default().With("component", "upstream.client"),
	}
}

// Classifier exposes the client's status classifier to the orchestrator.
func (c *Client) Classifier() *Classifier {
	return c.classifier
}

// StartConversation opens a conversation and returns the raw event stream.
// The caller owns the returned body and must close it. A non-2xx status is
// classified and returned as a typed error with the body consumed.
func (c *Client) StartConversation(ctx context.Context, credential, proxyAddress string, payload *ChatPayload) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation payload: %w", err)
	}

	resp, err := c.do(ctx, credential, proxyAddress, http.MethodPost, pathNewConversation, body)
	if err != nil {
		return nil, err
	}

	if err := c.classifyResponse(resp); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// UploadAttachment uploads one media file and returns the upstream file id
// referenced from FileAttachments.
func (c *Client) UploadAttachment(ctx context.Context, credential, proxyAddress string, att *Attachment) (string, error) {
	payload := struct {
		FileName     string `json:"fileName"`
		FileMimeType string `json:"fileMimeType"`
		Content      string `json:"content"`
	}{
		FileName:     att.Name,
		FileMimeType: att.MimeType,
		Content:      base64.StdEncoding.EncodeToString(att.Data),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal upload payload: %w", err)
	}

	resp, err := c.do(ctx, credential, proxyAddress, http.MethodPost, pathUploadFile, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := c.classifyResponse(resp); err != nil {
		return "", err
	}

	var result struct {
		FileMetadataID string `json:"fileMetadataId"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&result); err != nil {
		return "", &TransportError{Op: "read", Cause: err}
	}
	if result.FileMetadataID == "" {
		return "", &FatalError{Message: "upload response missing file id"}
	}

	c.logger.Debug("attachment uploaded",
		"name", att.Name,
		"bytes", len(att.Data),
		"file_id", result.FileMetadataID,
	)
	return result.FileMetadataID, nil
}

// JobStatus queries the status of an asynchronous generation job.
func (c *Client) JobStatus(ctx context.Context, credential, proxyAddress, jobID string) (*JobStatus, error) {
	resp, err := c.do(ctx, credential, proxyAddress, http.MethodGet, pathImagineJob+jobID, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.classifyResponse(resp); err != nil {
		return nil, err
	}

	var status JobStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&status); err != nil {
		return nil, &TransportError{Op: "read", Cause: err}
	}
	return &status, nil
}

// Download fetches a media artifact referenced by the upstream. Relative
// references are resolved against the upstream base URL. The caller owns the
// returned body.
func (c *Client) Download(ctx context.Context, credential, proxyAddress, ref string) (io.ReadCloser, string, error) {
	target := ref
	if len(ref) > 0 && ref[0] == '/' {
		target = c.cfg.BaseURL + ref
	}

	resp, err := c.transport.Do(ctx, &Request{
		Method:       http.MethodGet,
		URL:          target,
		Headers:      c.headers(credential),
		ProxyAddress: proxyAddress,
	})
	if err != nil {
		return nil, "", err
	}
	if err := c.classifyResponse(resp); err != nil {
		return nil, "", err
	}
	return resp.Body, resp.Headers.Get("Content-Type"), nil
}

// Probe issues a lightweight reachability check through the given proxy and
// returns the status code. Used by proxy health checks; classification is the
// caller's concern because "blocked but reachable" counts as healthy there.
func (c *Client) Probe(ctx context.Context, proxyAddress string, timeout time.Duration) (int, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.transport.Do(probeCtx, &Request{
		Method:       http.MethodGet,
		URL:          c.cfg.BaseURL,
		ProxyAddress: proxyAddress,
	})
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (c *Client) do(ctx context.Context, credential, proxyAddress, method, path string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	return c.transport.Do(ctx, &Request{
		Method:       method,
		URL:          c.cfg.BaseURL + path,
		Headers:      c.headers(credential),
		Body:         reader,
		ProxyAddress: proxyAddress,
	})
}

// headers returns the request headers the core owns. Browser fingerprint
// headers are the stealth transport's responsibility.
func (c *Client) headers(credential string) map[string]string {
	return map[string]string{
		"Content-Type": "application/json",
		"Accept":       "text/event-stream, application/json",
		"Cookie":       "sso=" + credential + "; sso-rw=" + credential,
	}
}

// classifyResponse converts a non-2xx response into a typed error, consuming
// and closing the body for the error message.
func (c *Client) classifyResponse(resp *Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	return c.classifier.ClassifyStatus(resp.StatusCode, resp.Headers, string(bytes.TrimSpace(msg)))
}
