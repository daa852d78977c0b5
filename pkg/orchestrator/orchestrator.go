// Package orchestrator runs the credential+proxy attempt loop shared by the
// streaming chat path and the polling video path. It owns retry and failover
// policy; the upstream client owns the wire, the pools own health state.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Mouseww/grok2api-pro/pkg/account"
	"github.com/Mouseww/grok2api-pro/pkg/calllog"
	"github.com/Mouseww/grok2api-pro/pkg/config"
	"github.com/Mouseww/grok2api-pro/pkg/upstream"
)

// Credentials is the slice of the account pool the orchestrator drives.
type Credentials interface {
	SelectExcluding(modelClass string, exclude map[string]bool) (*account.Account, error)
	ReportSuccess(id string)
	ReportFailure(id string, kind account.FailureKind)
	Disable(id string)
}

// Proxies is the slice of the proxy pool the orchestrator drives.
type Proxies interface {
	SelectExcluding(credentialID string, exclude map[string]bool) string
	BoundProxy(credentialID string) (string, bool)
	Bind(ctx context.Context, credentialID, proxyAddress string) error
	ReportOutcome(ctx context.Context, proxyAddress string, success bool, statusCode int)
}

// Log receives one entry per terminal outcome.
type Log interface {
	Record(e *calllog.Entry)
}

// Metrics receives one observation per individual attempt. Optional.
type Metrics interface {
	RecordAttempt(result string)
}

// AttemptFunc performs one upstream call with the given credential and
// proxy. It returns any media URLs the call produced for the call log.
// Returned errors are classified by type: upstream.TransportError retries
// with a new proxy, upstream.RetryableError retries with a new
// credential+proxy pair, anything else is terminal.
type AttemptFunc func(ctx context.Context, credentialID, proxyAddress string) ([]string, error)

// Request describes one orchestrated call.
type Request struct {
	// Model is the caller-facing model name, recorded in the call log.
	Model string

	// ModelClass keys per-credential quota accounting.
	ModelClass string

	// Attempt performs one upstream call.
	Attempt AttemptFunc
}

// Result reports the pair that served the successful attempt.
type Result struct {
	CredentialID string
	ProxyAddress string
	Attempts     int
}

// Orchestrator coordinates pools, retries, and outcome reporting.
type Orchestrator struct {
	creds   Credentials
	proxies Proxies
	log     Log
	metrics Metrics
	cfg     config.UpstreamConfig
	logger  *slog.Logger

	uploadSem chan struct{}
}

// New builds an orchestrator.
func New(cfg config.UpstreamConfig, creds Credentials, proxies Proxies, log Log) *Orchestrator {
	concurrency := cfg.UploadConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		creds:     creds,
		proxies:   proxies,
		log:       log,
		cfg:       cfg,
		logger:    slog.Default().With("component", "orchestrator"),
		uploadSem: make(chan struct{}, concurrency),
	}
}

// SetMetrics attaches an attempt observer.
func (o *Orchestrator) SetMetrics(m Metrics) {
	o.metrics = m
}

func (o *Orchestrator) observe(result string) {
	if o.metrics != nil {
		o.metrics.RecordAttempt(result)
	}
}

// Execute runs the attempt loop. Attempts are strictly sequential. Exactly
// one call log entry is recorded per terminal outcome; caller-initiated
// cancellation tears down silently with no entry and no health penalty.
func (o *Orchestrator) Execute(ctx context.Context, req *Request) (*Result, error) {
	var (
		cred          *account.Account
		lastErr       error
		lastCredID    string
		lastProxy     string
		triedCreds    = make(map[string]bool)
		triedProxies  = make(map[string]bool)
		ambiguousSeen = make(map[int]map[string]bool)
		start         = time.Now()
	)

	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		if cred == nil {
			var err error
			cred, err = o.creds.SelectExcluding(req.ModelClass, triedCreds)
			if err != nil {
				if attempt == 1 {
					return nil, ErrNoCredential
				}
				break
			}
		}

		proxy := o.proxies.SelectExcluding(cred.ID, triedProxies)
		lastCredID, lastProxy = cred.ID, proxy

		mediaURLs, err := req.Attempt(ctx, cred.ID, proxy)
		if err == nil {
			o.observe("success")
			o.creds.ReportSuccess(cred.ID)
			o.proxies.ReportOutcome(ctx, proxy, true, 0)
			o.autoBind(ctx, cred.ID, proxy)
			o.record(req, cred.ID, proxy, true, 0, "", mediaURLs, start)
			return &Result{CredentialID: cred.ID, ProxyAddress: proxy, Attempts: attempt}, nil
		}

		if ctx.Err() != nil {
			// Caller went away. No penalty, no log entry.
			return nil, context.Cause(ctx)
		}

		lastErr = err

		var transportErr *upstream.TransportError
		var retryableErr *upstream.RetryableError
		var fatalErr *upstream.FatalError
		switch {
		case errors.As(err, &transportErr):
			// The proxy never reached the upstream. Same credential,
			// different proxy.
			o.observe("transport_error")
			o.proxies.ReportOutcome(ctx, proxy, false, 0)
			if proxy != "" {
				triedProxies[proxy] = true
			}
			o.logger.Debug("attempt failed at transport",
				"attempt", attempt,
				"account", account.Redact(cred.ID),
				"proxy", proxy,
				"error", err,
			)

		case errors.As(err, &retryableErr):
			o.observe("retryable")
			o.reportRetryable(ctx, cred.ID, proxy, retryableErr, ambiguousSeen)
			triedCreds[cred.ID] = true
			if proxy != "" {
				triedProxies[proxy] = true
			}
			cred = nil
			o.logger.Debug("attempt rejected upstream",
				"attempt", attempt,
				"status", retryableErr.StatusCode,
				"fault", retryableErr.Fault.String(),
			)

		case errors.As(err, &fatalErr):
			o.observe("fatal")
			if fatalErr.CredentialFault {
				o.creds.Disable(cred.ID)
			} else {
				o.creds.ReportFailure(cred.ID, account.FailureTransient)
			}
			// The upstream answered, so the proxy did its job.
			o.proxies.ReportOutcome(ctx, proxy, true, fatalErr.StatusCode)
			o.record(req, cred.ID, proxy, false, fatalErr.StatusCode, fatalErr.Message, nil, start)
			return nil, err

		default:
			// Processing-side failure after the call was accepted, for
			// example a stream timeout. Terminal, no pool penalty.
			o.observe("processing_error")
			o.record(req, cred.ID, proxy, false, 0, err.Error(), nil, start)
			return nil, err
		}
	}

	err := &ExhaustedError{Attempts: o.cfg.MaxAttempts, LastErr: lastErr}
	status := 0
	var retryableErr *upstream.RetryableError
	if errors.As(lastErr, &retryableErr) {
		status = retryableErr.StatusCode
	}
	// The entry names the pair that made the final attempt.
	o.record(req, lastCredID, lastProxy, false, status, err.Error(), nil, start)
	return nil, err
}

// reportRetryable applies the fault classification. Ambiguous faults
// penalize the credential each time but the proxy only once the same status
// has been seen through a different proxy within this request cycle.
func (o *Orchestrator) reportRetryable(ctx context.Context, credID, proxy string, rerr *upstream.RetryableError, seen map[int]map[string]bool) {
	switch rerr.Fault {
	case upstream.FaultProxy:
		o.proxies.ReportOutcome(ctx, proxy, false, rerr.StatusCode)
		o.creds.ReportFailure(credID, account.FailureTransient)

	case upstream.FaultAmbiguous:
		o.creds.ReportFailure(credID, account.FailureTransient)
		proxies := seen[rerr.StatusCode]
		if proxies == nil {
			proxies = make(map[string]bool)
			seen[rerr.StatusCode] = proxies
		}
		recurring := len(proxies) > 0 && !proxies[proxy]
		proxies[proxy] = true
		o.proxies.ReportOutcome(ctx, proxy, !recurring, rerr.StatusCode)

	default: // FaultAccount
		kind := account.FailureTransient
		if rerr.StatusCode == 429 {
			kind = account.FailureQuota
		}
		o.creds.ReportFailure(credID, kind)
		o.proxies.ReportOutcome(ctx, proxy, true, rerr.StatusCode)
	}
}

func (o *Orchestrator) autoBind(ctx context.Context, credID, proxy string) {
	if proxy == "" {
		return
	}
	if _, bound := o.proxies.BoundProxy(credID); bound {
		return
	}
	if err := o.proxies.Bind(ctx, credID, proxy); err != nil {
		o.logger.Warn("auto-bind failed",
			"account", account.Redact(credID),
			"proxy", proxy,
			"error", err,
		)
	}
}

func (o *Orchestrator) record(req *Request, credID, proxy string, success bool, status int, errMsg string, mediaURLs []string, start time.Time) {
	o.log.Record(&calllog.Entry{
		CredentialID: credID,
		Model:        req.Model,
		ProxyAddress: proxy,
		Success:      success,
		StatusCode:   status,
		Latency:      time.Since(start),
		Error:        errMsg,
		MediaURLs:    mediaURLs,
	})
}

// UploadAll uploads the attachments through the given pair, bounded by the
// configured concurrency limit, and returns file ids in input order.
func (o *Orchestrator) UploadAll(ctx context.Context, client *upstream.Client, credID, proxy string, attachments []*upstream.Attachment) ([]string, error) {
	ids := make([]string, len(attachments))
	errs := make(chan error, len(attachments))

	for i, att := range attachments {
		select {
		case o.uploadSem <- struct{}{}:
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
		go func(i int, att *upstream.Attachment) {
			defer func() { <-o.uploadSem }()
			id, err := client.UploadAttachment(ctx, credID, proxy, att)
			if err != nil {
				errs <- err
				return
			}
			ids[i] = id
			errs <- nil
		}(i, att)
	}

	for range attachments {
		if err := <-errs; err != nil {
			return nil, err
		}
	}
	return ids, nil
}
