package upstream

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Mouseww/grok2api-pro/pkg/config"
)

func testClassifier() *Classifier {
	return NewClassifier(&config.UpstreamConfig{
		RetryableStatusCodes: []int{401, 403, 429, 500, 502, 503, 504},
		FaultClassification: map[int]string{
			403: "ambiguous",
			429: "account",
			502: "proxy",
		},
	})
}

func TestClassifier_ClassifyStatus(t *testing.T) {
	c := testClassifier()

	tests := []struct {
		name      string
		status    int
		wantRetry bool
		wantFatal bool
		wantFault Fault
	}{
		{name: "success", status: 200},
		{name: "created", status: 201},
		{name: "rate limit", status: 429, wantRetry: true, wantFault: FaultAccount},
		{name: "anti-bot block", status: 403, wantRetry: true, wantFault: FaultAmbiguous},
		{name: "bad gateway", status: 502, wantRetry: true, wantFault: FaultProxy},
		{name: "unclassified 5xx defaults to proxy", status: 500, wantRetry: true, wantFault: FaultProxy},
		{name: "bad request is fatal", status: 400, wantFatal: true},
		{name: "not found is fatal", status: 404, wantFatal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.ClassifyStatus(tt.status, nil, "boom")

			switch {
			case !tt.wantRetry && !tt.wantFatal:
				if err != nil {
					t.Errorf("ClassifyStatus(%d) = %v, want nil", tt.status, err)
				}
			case tt.wantRetry:
				var retryErr *RetryableError
				if !errors.As(err, &retryErr) {
					t.Fatalf("ClassifyStatus(%d) = %T, want *RetryableError", tt.status, err)
				}
				if retryErr.Fault != tt.wantFault {
					t.Errorf("Fault = %v, want %v", retryErr.Fault, tt.wantFault)
				}
			case tt.wantFatal:
				var fatalErr *FatalError
				if !errors.As(err, &fatalErr) {
					t.Fatalf("ClassifyStatus(%d) = %T, want *FatalError", tt.status, err)
				}
			}
		})
	}
}

func TestClassifier_RetryAfter(t *testing.T) {
	c := testClassifier()

	headers := http.Header{}
	headers.Set("Retry-After", "30")

	err := c.ClassifyStatus(429, headers, "slow down")
	var retryErr *RetryableError
	if !errors.As(err, &retryErr) {
		t.Fatalf("expected *RetryableError, got %T", err)
	}
	if retryErr.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", retryErr.RetryAfter)
	}
}

func TestClassifier_FatalCredentialFault(t *testing.T) {
	// 401 outside the retryable set should disable the credential.
	c := NewClassifier(&config.UpstreamConfig{
		RetryableStatusCodes: []int{429},
	})

	err := c.ClassifyStatus(401, nil, "bad session")
	var fatalErr *FatalError
	if !errors.As(err, &fatalErr) {
		t.Fatalf("expected *FatalError, got %T", err)
	}
	if !fatalErr.CredentialFault {
		t.Error("401 should be a credential fault")
	}
}

func TestFault_String(t *testing.T) {
	if FaultProxy.String() != "proxy" || FaultAccount.String() != "account" || FaultAmbiguous.String() != "ambiguous" {
		t.Error("Fault.String() returned unexpected names")
	}
}
