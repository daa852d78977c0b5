package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Mouseww/grok2api-pro/pkg/config"
	"github.com/Mouseww/grok2api-pro/pkg/store"
)

func testPool(t *testing.T, cfg config.AccountsConfig) *Pool {
	t.Helper()
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.QuotaWindow == 0 {
		cfg.QuotaWindow = 24 * time.Hour
	}
	p, err := NewPool(context.Background(), cfg, store.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return p
}

func TestPoolSelectEmpty(t *testing.T) {
	p := testPool(t, config.AccountsConfig{})
	if _, err := p.Select("chat"); !errors.Is(err, ErrNoCredentialAvailable) {
		t.Fatalf("expected ErrNoCredentialAvailable, got %v", err)
	}
}

func TestPoolSelectLeastRecentlyUsed(t *testing.T) {
	p := testPool(t, config.AccountsConfig{})
	for _, id := range []string{"sso-aaaa0001", "sso-bbbb0002", "sso-cccc0003"} {
		if err := p.Add(id); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	seen := make(map[string]int)
	for i := 0; i < 6; i++ {
		acct, err := p.Select("chat")
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		seen[acct.ID]++
	}
	for id, n := range seen {
		if n != 2 {
			t.Errorf("credential %s selected %d times, want 2", id, n)
		}
	}
}

func TestPoolDisabledNeverSelected(t *testing.T) {
	cfg := config.AccountsConfig{DisableThreshold: 2, CooldownThreshold: 5}
	p := testPool(t, cfg)
	if err := p.Add("sso-only0001"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	p.ReportFailure("sso-only0001", FailureQuota)
	if acct, _ := p.Get("sso-only0001"); acct.Status != StatusActive {
		t.Fatalf("status after one failure = %s, want %s", acct.Status, StatusActive)
	}
	p.ReportFailure("sso-only0001", FailureQuota)
	if acct, _ := p.Get("sso-only0001"); acct.Status != StatusDisabled {
		t.Fatalf("status after threshold = %s, want %s", acct.Status, StatusDisabled)
	}

	if _, err := p.Select("chat"); !errors.Is(err, ErrNoCredentialAvailable) {
		t.Fatalf("disabled credential was selected, err = %v", err)
	}

	if err := p.Enable("sso-only0001"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if _, err := p.Select("chat"); err != nil {
		t.Fatalf("Select after Enable: %v", err)
	}
}

func TestPoolCooldownTierFallback(t *testing.T) {
	cfg := config.AccountsConfig{
		DisableThreshold:  10,
		CooldownThreshold: 1,
		Cooldown:          time.Hour,
	}
	p := testPool(t, cfg)
	if err := p.Add("sso-warm0001"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Add("sso-cold0002"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	p.ReportFailure("sso-cold0002", FailureTransient)
	if acct, _ := p.Get("sso-cold0002"); acct.Status != StatusCoolingDown {
		t.Fatalf("status = %s, want %s", acct.Status, StatusCoolingDown)
	}

	// While an active credential exists, the cooling one is skipped.
	for i := 0; i < 4; i++ {
		acct, err := p.Select("chat")
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if acct.ID != "sso-warm0001" {
			t.Fatalf("selected %s, want the active credential", acct.ID)
		}
	}

	// With the active one disabled, the cooling credential is the fallback.
	for i := 0; i < 10; i++ {
		p.ReportFailure("sso-warm0001", FailureQuota)
	}
	acct, err := p.Select("chat")
	if err != nil {
		t.Fatalf("Select fallback: %v", err)
	}
	if acct.ID != "sso-cold0002" {
		t.Fatalf("fallback selected %s, want the cooling credential", acct.ID)
	}
}

func TestPoolSuccessClearsCooldown(t *testing.T) {
	cfg := config.AccountsConfig{
		DisableThreshold:  10,
		CooldownThreshold: 1,
		Cooldown:          time.Hour,
	}
	p := testPool(t, cfg)
	if err := p.Add("sso-flip0001"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	p.ReportFailure("sso-flip0001", FailureTransient)
	p.ReportSuccess("sso-flip0001")

	acct, _ := p.Get("sso-flip0001")
	if acct.Status != StatusActive {
		t.Fatalf("status = %s, want %s", acct.Status, StatusActive)
	}
	if acct.ConsecutiveFailures != 0 {
		t.Fatalf("consecutive failures = %d, want 0", acct.ConsecutiveFailures)
	}
}

func TestPoolModelQuota(t *testing.T) {
	cfg := config.AccountsConfig{
		ModelQuota:  2,
		QuotaWindow: time.Hour,
	}
	p := testPool(t, cfg)
	if err := p.Add("sso-quota001"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := p.Select("imagine"); err != nil {
			t.Fatalf("Select %d: %v", i, err)
		}
	}
	if _, err := p.Select("imagine"); !errors.Is(err, ErrNoCredentialAvailable) {
		t.Fatalf("expected quota exhaustion, got %v", err)
	}

	// Quota is per model class.
	if _, err := p.Select("chat"); err != nil {
		t.Fatalf("Select other class: %v", err)
	}
}

func TestPoolPersistence(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := config.AccountsConfig{FlushInterval: time.Second, QuotaWindow: time.Hour}

	p, err := NewPool(context.Background(), cfg, st)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if err := p.Add("sso-save0001"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	p.ReportSuccess("sso-save0001")
	p.flush(context.Background())

	reloaded, err := NewPool(context.Background(), cfg, st)
	if err != nil {
		t.Fatalf("NewPool reload: %v", err)
	}
	acct, ok := reloaded.Get("sso-save0001")
	if !ok {
		t.Fatal("account not reloaded from store")
	}
	if acct.TotalCalls != 1 {
		t.Fatalf("TotalCalls = %d, want 1", acct.TotalCalls)
	}
}

func TestPoolRemoveIsIdempotent(t *testing.T) {
	p := testPool(t, config.AccountsConfig{})
	if err := p.Add("sso-gone0001"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Remove(context.Background(), "sso-gone0001"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := p.Remove(context.Background(), "sso-gone0001"); err != nil {
		t.Fatalf("Remove again: %v", err)
	}
	if _, ok := p.Get("sso-gone0001"); ok {
		t.Fatal("removed account still present")
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"sso-abcdef1234567890", "sso-abcd****"},
		{"short", "****"},
		{"", "****"},
	}
	for _, tt := range tests {
		if got := Redact(tt.in); got != tt.want {
			t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
