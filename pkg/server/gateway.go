package server

import (
	"context"
	"fmt"
	"io"

	"github.com/Mouseww/grok2api-pro/pkg/orchestrator"
	"github.com/Mouseww/grok2api-pro/pkg/stream"
	"github.com/Mouseww/grok2api-pro/pkg/upstream"
	"github.com/Mouseww/grok2api-pro/pkg/video"
)

// VideoGateway adapts the orchestrated conversation path into the video
// manager's start and poll hooks. Starting a job rides the full attempt loop;
// polling stays on the pair that started the job so the upstream sees one
// consistent caller per job.
type VideoGateway struct {
	orch      *orchestrator.Orchestrator
	client    *upstream.Client
	processor *stream.Processor
}

// NewVideoGateway wires the gateway over the shared attempt loop.
func NewVideoGateway(orch *orchestrator.Orchestrator, client *upstream.Client, processor *stream.Processor) *VideoGateway {
	return &VideoGateway{orch: orch, client: client, processor: processor}
}

// StartJob opens an upstream generation job and reports the pair that
// succeeded so polls can stick to it. An input reference is uploaded as the
// source image for image-to-video jobs; remixes skip it because the
// upstream derives from the source job.
func (g *VideoGateway) StartJob(ctx context.Context, model, prompt, remixJobID, inputReference string) (*video.StartedJob, error) {
	var jobID string
	result, err := g.orch.Execute(ctx, &orchestrator.Request{
		Model:      model,
		ModelClass: "imagine",
		Attempt: func(ctx context.Context, credID, proxy string) ([]string, error) {
			var fileIDs []string
			if remixJobID == "" && inputReference != "" {
				id, err := g.uploadReference(ctx, credID, proxy, inputReference)
				if err != nil {
					return nil, err
				}
				fileIDs = []string{id}
			}
			body, err := g.client.StartConversation(ctx, credID, proxy, &upstream.ChatPayload{
				Temporary:       true,
				ModelName:       model,
				Message:         prompt,
				FileAttachments: fileIDs,
				VideoGeneration: true,
				RemixJobID:      remixJobID,
			})
			if err != nil {
				return nil, err
			}
			res, err := g.processor.Process(ctx, upstream.NewEventReader(body), credID, proxy, nil)
			if err != nil {
				return nil, err
			}
			if res.JobID == "" {
				return nil, fmt.Errorf("upstream accepted the request but returned no job id")
			}
			jobID = res.JobID
			return nil, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return &video.StartedJob{
		JobID:        jobID,
		CredentialID: result.CredentialID,
		ProxyAddress: result.ProxyAddress,
	}, nil
}

// uploadReference turns the input reference into an uploaded source image.
// Data URIs carry the bytes inline; anything else is fetched through the
// attempt's own credential and proxy before the upload.
func (g *VideoGateway) uploadReference(ctx context.Context, credID, proxy, ref string) (string, error) {
	att, ok := decodeDataURI(ref, 0)
	if !ok {
		body, contentType, err := g.client.Download(ctx, credID, proxy, ref)
		if err != nil {
			return "", err
		}
		defer body.Close()
		data, err := io.ReadAll(body)
		if err != nil {
			return "", &upstream.TransportError{Op: "read", Cause: err}
		}
		if contentType == "" {
			contentType = "image/png"
		}
		att = &upstream.Attachment{
			Name:     "reference" + extensionForMime(contentType),
			MimeType: contentType,
			Data:     data,
		}
	}
	return g.client.UploadAttachment(ctx, credID, proxy, att)
}

// PollJob queries job status through the job's own pair.
func (g *VideoGateway) PollJob(ctx context.Context, credentialID, proxyAddress, jobID string) (*upstream.JobStatus, error) {
	return g.client.JobStatus(ctx, credentialID, proxyAddress, jobID)
}
