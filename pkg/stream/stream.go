// Package stream reframes the upstream conversation event stream into
// normalized deltas, separating reasoning from answer text, extracting and
// rewriting embedded media, and enforcing stall and overall timeouts.
package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Mouseww/grok2api-pro/pkg/config"
	"github.com/Mouseww/grok2api-pro/pkg/media"
	"github.com/Mouseww/grok2api-pro/pkg/upstream"
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateReceiving
	StateCompleted
	StateTimedOut
	StateCancelled
	StateErrored
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateReceiving:
		return "receiving"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	case StateErrored:
		return "errored"
	default:
		return "idle"
	}
}

// Delta is one normalized increment handed to the emit callback.
type Delta struct {
	// Content is answer text.
	Content string

	// Reasoning is thinking-segment text, kept separate so consumers can
	// render it apart from the answer.
	Reasoning string
}

// Result summarizes a finished session.
type Result struct {
	State     State
	Content   string
	Reasoning string

	// MediaURLs are the rewritten, caller-servable media references.
	MediaURLs []string

	// JobID is set when the upstream answered with an asynchronous
	// generation job instead of inline media.
	JobID string
}

// EmitFunc receives deltas as they are produced. Returning an error aborts
// the session; the processor treats it as the caller going away.
type EmitFunc func(Delta) error

// Processor turns upstream event streams into normalized output.
type Processor struct {
	cfg     config.StreamConfig
	fetcher *media.Fetcher
	logger  *slog.Logger
}

// NewProcessor builds a processor over the media fetcher.
func NewProcessor(cfg config.StreamConfig, fetcher *media.Fetcher) *Processor {
	return &Processor{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  slog.Default().With("component", "stream"),
	}
}

type readResult struct {
	event *upstream.Event
	err   error
}

// Process consumes the stream until completion, timeout, cancellation, or
// error. The credential and proxy identify the pair serving this call so
// media downloads ride the same egress. The reader is always closed.
func (p *Processor) Process(ctx context.Context, r *upstream.EventReader, credential, proxyAddress string, emit EmitFunc) (*Result, error) {
	defer r.Close()

	session := &session{
		cfg:     p.cfg,
		emit:    emit,
		content: &strings.Builder{},
		reason:  &strings.Builder{},
	}

	events := make(chan readResult)
	readCtx, stopRead := context.WithCancel(ctx)
	defer stopRead()
	go func() {
		for {
			event, err := r.Read(readCtx)
			select {
			case events <- readResult{event, err}:
			case <-readCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	start := time.Now()
	overall := time.NewTimer(p.cfg.OverallTimeout)
	defer overall.Stop()
	stall := time.NewTimer(p.cfg.StallTimeout)
	defer stall.Stop()

	var terminal *upstream.ModelResponse

loop:
	for {
		select {
		case <-ctx.Done():
			return &Result{State: StateCancelled}, context.Cause(ctx)

		case <-overall.C:
			// Unblock the reader before returning.
			stopRead()
			r.Close()
			return &Result{State: StateTimedOut}, &TimeoutError{Kind: TimeoutOverall, Elapsed: time.Since(start)}

		case <-stall.C:
			stopRead()
			r.Close()
			return &Result{State: StateTimedOut}, &TimeoutError{Kind: TimeoutStall, Elapsed: time.Since(start)}

		case res := <-events:
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					break loop
				}
				if ctx.Err() != nil {
					return &Result{State: StateCancelled}, context.Cause(ctx)
				}
				return &Result{State: StateErrored}, res.err
			}

			// Every received event resets the stall deadline.
			if !stall.Stop() {
				select {
				case <-stall.C:
				default:
				}
			}
			stall.Reset(p.cfg.StallTimeout)

			resp := &res.event.Result.Response
			if resp.ModelResponse != nil {
				terminal = resp.ModelResponse
			}
			if resp.Token != "" {
				if err := session.consume(resp.Token, resp.IsThinking); err != nil {
					return &Result{State: StateCancelled}, err
				}
			}
		}
	}

	result := &Result{
		State:     StateCompleted,
		Content:   session.content.String(),
		Reasoning: session.reason.String(),
	}

	if terminal != nil {
		result.JobID = terminal.JobID
		p.resolveMedia(ctx, credential, proxyAddress, terminal, result, emit)
	}

	p.logger.Debug("stream completed",
		"content_bytes", len(result.Content),
		"reasoning_bytes", len(result.Reasoning),
		"media", len(result.MediaURLs),
		"elapsed", time.Since(start),
	)
	return result, nil
}

// resolveMedia downloads the terminal frame's media into the cache and
// rewrites references. Failed fetches leave the original reference in place.
func (p *Processor) resolveMedia(ctx context.Context, credential, proxyAddress string, terminal *upstream.ModelResponse, result *Result, emit EmitFunc) {
	publicBase := "/media"
	if p.fetcher != nil {
		publicBase = strings.TrimSuffix(p.fetcher.Cache().PublicURL(""), "/")
	}

	refs := extractRefs(terminal.Message, publicBase, terminal.GeneratedImageURLs, terminal.GeneratedVideoURLs)
	if len(refs) == 0 || p.fetcher == nil {
		return
	}

	keys := p.fetcher.FetchAll(ctx, credential, proxyAddress, refs)
	rewritten := make(map[string]string, len(keys))
	for ref, key := range keys {
		url := p.fetcher.Cache().PublicURL(key)
		if p.cfg.InlineBase64 {
			if dataURL, err := p.fetcher.Cache().DataURL(key); err == nil {
				url = dataURL
			}
		}
		rewritten[ref] = url
		result.MediaURLs = append(result.MediaURLs, url)
	}

	// Media appears as a trailing content delta so streaming consumers see
	// it after the text they already received.
	if extra := mediaMarkdown(terminal, rewritten); extra != "" {
		result.Content += extra
		if emit != nil {
			_ = emit(Delta{Content: extra})
		}
	}
}

// mediaMarkdown renders the rewritten references as markdown the caller can
// display. Text references already present in the message are rewritten in
// place instead.
func mediaMarkdown(terminal *upstream.ModelResponse, rewritten map[string]string) string {
	var b strings.Builder
	inline := rewriteMessage(terminal.Message, rewritten)
	inlined := make(map[string]bool)
	if inline != terminal.Message {
		// Message text carried the references. The rewritten message
		// replaces per-URL rendering.
		b.WriteString("\n")
		b.WriteString(inline)
		return b.String()
	}
	for _, ref := range terminal.GeneratedImageURLs {
		if url, ok := rewritten[ref]; ok && !inlined[url] {
			inlined[url] = true
			b.WriteString("\n![image](" + url + ")")
		}
	}
	for _, ref := range terminal.GeneratedVideoURLs {
		if url, ok := rewritten[ref]; ok && !inlined[url] {
			inlined[url] = true
			b.WriteString("\n[video](" + url + ")")
		}
	}
	return b.String()
}

// session accumulates text and tracks thinking mode.
type session struct {
	cfg      config.StreamConfig
	emit     EmitFunc
	thinking bool
	content  *strings.Builder
	reason   *strings.Builder
}

// consume routes one token to the reasoning or content side. The upstream
// flags reasoning tokens explicitly; some models instead embed open and
// close tags in the token text, so both toggles are honored.
func (s *session) consume(token string, isThinking bool) error {
	for {
		if s.thinking {
			if idx := tagIndex(token, s.cfg.ThinkingCloseTag); idx >= 0 {
				if err := s.push(token[:idx], true); err != nil {
					return err
				}
				s.thinking = false
				token = token[idx+len(s.cfg.ThinkingCloseTag):]
				continue
			}
			return s.push(token, true)
		}

		if idx := tagIndex(token, s.cfg.ThinkingOpenTag); idx >= 0 {
			if err := s.push(token[:idx], false); err != nil {
				return err
			}
			s.thinking = true
			token = token[idx+len(s.cfg.ThinkingOpenTag):]
			continue
		}
		return s.push(token, isThinking)
	}
}

// tagIndex is strings.Index that never matches an empty tag.
func tagIndex(token, tag string) int {
	if tag == "" {
		return -1
	}
	return strings.Index(token, tag)
}

func (s *session) push(text string, reasoning bool) error {
	if text == "" {
		return nil
	}
	if reasoning {
		s.reason.WriteString(text)
		if s.emit != nil {
			return s.emit(Delta{Reasoning: text})
		}
		return nil
	}
	s.content.WriteString(text)
	if s.emit != nil {
		return s.emit(Delta{Content: text})
	}
	return nil
}
