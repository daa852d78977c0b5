package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Mouseww/grok2api-pro/pkg/config"
	"github.com/Mouseww/grok2api-pro/pkg/store"
)

// ErrNoCredentialAvailable is returned by Select when no credential
// qualifies: none active and none cooling down, or all over quota.
var ErrNoCredentialAvailable = errors.New("no credential available")

// Pool owns the credential table. Selection always reads the in-memory
// snapshot; mutations are persisted write-behind on a flush interval, so a
// crash may lose a small window of counter updates without correctness
// impact.
type Pool struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	dirty    map[string]bool

	cfg    config.AccountsConfig
	store  store.Store
	logger *slog.Logger
}

// NewPool creates a credential pool and loads persisted accounts.
func NewPool(ctx context.Context, cfg config.AccountsConfig, st store.Store) (*Pool, error) {
	p := &Pool{
		accounts: make(map[string]*Account),
		dirty:    make(map[string]bool),
		cfg:      cfg,
		store:    st,
		logger:   slog.Default().With("component", "account.pool"),
	}

	records, err := st.List(ctx, store.CollectionAccounts)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	for key, data := range records {
		var acct Account
		if err := json.Unmarshal(data, &acct); err != nil {
			p.logger.Warn("skipping corrupt account record", "key", key, "error", err)
			continue
		}
		p.accounts[acct.ID] = &acct
	}

	p.logger.Info("account pool loaded", "accounts", len(p.accounts))
	return p, nil
}

// Run flushes dirty accounts to the store on the configured interval and
// expires cooldowns. It blocks until ctx is cancelled, then performs a final
// flush.
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.flush(context.Background())
			return
		case <-ticker.C:
			p.expireCooldowns()
			p.flush(ctx)
		}
	}
}

// SetConfig swaps the pool thresholds, used by config hot reload.
func (p *Pool) SetConfig(cfg config.AccountsConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

// Select returns a credential for the given model class.
//
// Policy: round-robin among active credentials under quota, ties broken by
// least-recently-used; when none qualify, the cooling-down tier is tried the
// same way. Disabled credentials are never returned.
func (p *Pool) Select(modelClass string) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()

	if acct := p.pick(StatusActive, modelClass, now); acct != nil {
		return acct, nil
	}
	if acct := p.pick(StatusCoolingDown, modelClass, now); acct != nil {
		return acct, nil
	}
	return nil, ErrNoCredentialAvailable
}

// SelectExcluding behaves like Select but skips the given credential ids.
// The retry loop uses it so one request cycle moves on to a fresh credential
// after a retryable rejection.
func (p *Pool) SelectExcluding(modelClass string, exclude map[string]bool) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()

	if acct := p.pickExcluding(StatusActive, modelClass, now, exclude); acct != nil {
		return acct, nil
	}
	if acct := p.pickExcluding(StatusCoolingDown, modelClass, now, exclude); acct != nil {
		return acct, nil
	}
	return nil, ErrNoCredentialAvailable
}

// pick selects the next credential in the tier, honoring quota and LRU.
// Caller holds the lock.
func (p *Pool) pick(tier Status, modelClass string, now time.Time) *Account {
	return p.pickExcluding(tier, modelClass, now, nil)
}

func (p *Pool) pickExcluding(tier Status, modelClass string, now time.Time, exclude map[string]bool) *Account {
	ids := make([]string, 0, len(p.accounts))
	for id, acct := range p.accounts {
		if acct.Status != tier || exclude[id] {
			continue
		}
		if tier == StatusCoolingDown && now.Before(acct.CooldownUntil) {
			// Still cooling; only eligible as the last resort tier,
			// which this call already represents.
			ids = append(ids, id)
			continue
		}
		if p.overQuota(acct, modelClass, now) {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}

	// Deterministic order, then LRU within it so round-robin ties go to
	// the least recently used credential.
	sort.Slice(ids, func(i, j int) bool {
		ai, aj := p.accounts[ids[i]], p.accounts[ids[j]]
		if !ai.LastUsed.Equal(aj.LastUsed) {
			return ai.LastUsed.Before(aj.LastUsed)
		}
		return ids[i] < ids[j]
	})

	acct := p.accounts[ids[0]]
	acct.LastUsed = now
	p.bumpUsage(acct, modelClass, now)
	p.dirty[acct.ID] = true
	return acct.clone()
}

func (p *Pool) overQuota(acct *Account, modelClass string, now time.Time) bool {
	if p.cfg.ModelQuota <= 0 || modelClass == "" {
		return false
	}
	w, ok := acct.Usage[modelClass]
	if !ok {
		return false
	}
	if now.Sub(w.WindowStart) >= p.cfg.QuotaWindow {
		return false
	}
	return w.Count >= p.cfg.ModelQuota
}

func (p *Pool) bumpUsage(acct *Account, modelClass string, now time.Time) {
	if modelClass == "" {
		return
	}
	if acct.Usage == nil {
		acct.Usage = make(map[string]*UsageWindow)
	}
	w, ok := acct.Usage[modelClass]
	if !ok || now.Sub(w.WindowStart) >= p.cfg.QuotaWindow {
		acct.Usage[modelClass] = &UsageWindow{Count: 1, WindowStart: now}
		return
	}
	w.Count++
}

// ReportSuccess resets the failure counter and reactivates a cooling-down
// credential.
func (p *Pool) ReportSuccess(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.accounts[id]
	if !ok {
		return
	}
	acct.ConsecutiveFailures = 0
	acct.TotalCalls++
	if acct.Status == StatusCoolingDown {
		acct.Status = StatusActive
		acct.CooldownUntil = time.Time{}
	}
	p.dirty[id] = true
}

// ReportFailure increments the failure counter and applies the threshold
// policy: quota/ban-type failures past the disable threshold disable the
// credential; transient failures past the cooldown threshold put it into
// cooldown.
func (p *Pool) ReportFailure(id string, kind FailureKind) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.accounts[id]
	if !ok {
		return
	}
	acct.ConsecutiveFailures++
	acct.TotalCalls++
	acct.TotalFailures++
	p.dirty[id] = true

	switch kind {
	case FailureQuota:
		if acct.ConsecutiveFailures >= p.cfg.DisableThreshold {
			acct.Status = StatusDisabled
			p.logger.Warn("credential disabled",
				"account", Redact(id),
				"consecutive_failures", acct.ConsecutiveFailures,
			)
		}
	case FailureTransient:
		if acct.Status == StatusActive && acct.ConsecutiveFailures >= p.cfg.CooldownThreshold {
			acct.Status = StatusCoolingDown
			acct.CooldownUntil = time.Now().Add(p.cfg.Cooldown)
			p.logger.Info("credential cooling down",
				"account", Redact(id),
				"until", acct.CooldownUntil,
			)
		}
	}
}

// Disable takes a credential out of rotation immediately. Used for
// permanently invalid credentials; threshold-based disabling goes through
// ReportFailure.
func (p *Pool) Disable(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.accounts[id]
	if !ok {
		return
	}
	acct.Status = StatusDisabled
	acct.CooldownUntil = time.Time{}
	p.dirty[id] = true
	p.logger.Warn("credential disabled", "account", Redact(id))
}

// Add registers a credential. Adding an existing id is a no-op so bulk
// imports are idempotent.
func (p *Pool) Add(id string) error {
	if id == "" {
		return fmt.Errorf("credential id must not be empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.accounts[id]; exists {
		return nil
	}
	p.accounts[id] = &Account{
		ID:      id,
		Status:  StatusActive,
		AddedAt: time.Now(),
	}
	p.dirty[id] = true
	p.logger.Info("credential added", "account", Redact(id))
	return nil
}

// Remove deletes a credential. This is the only path that removes accounts.
func (p *Pool) Remove(ctx context.Context, id string) error {
	p.mu.Lock()
	_, existed := p.accounts[id]
	delete(p.accounts, id)
	delete(p.dirty, id)
	p.mu.Unlock()

	if !existed {
		return nil
	}
	if err := p.store.Delete(ctx, store.CollectionAccounts, id); err != nil {
		return fmt.Errorf("failed to delete account record: %w", err)
	}
	p.logger.Info("credential removed", "account", Redact(id))
	return nil
}

// Enable reactivates a disabled or cooling-down credential and clears its
// failure counter.
func (p *Pool) Enable(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.accounts[id]
	if !ok {
		return fmt.Errorf("unknown credential %s", Redact(id))
	}
	acct.Status = StatusActive
	acct.ConsecutiveFailures = 0
	acct.CooldownUntil = time.Time{}
	p.dirty[id] = true
	return nil
}

// SetProxyID records the proxy binding on the credential. Called by the
// proxy pool, which owns binding state.
func (p *Pool) SetProxyID(id, proxyID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if acct, ok := p.accounts[id]; ok {
		acct.ProxyID = proxyID
		p.dirty[id] = true
	}
}

// Get returns a copy of one credential.
func (p *Pool) Get(id string) (*Account, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	acct, ok := p.accounts[id]
	if !ok {
		return nil, false
	}
	return acct.clone(), true
}

// List returns copies of all credentials, ordered by add time.
func (p *Pool) List() []*Account {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Account, 0, len(p.accounts))
	for _, acct := range p.accounts {
		out = append(out, acct.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// expireCooldowns reactivates credentials whose cooldown has passed.
func (p *Pool) expireCooldowns() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for id, acct := range p.accounts {
		if acct.Status == StatusCoolingDown && !acct.CooldownUntil.IsZero() && now.After(acct.CooldownUntil) {
			acct.Status = StatusActive
			acct.CooldownUntil = time.Time{}
			acct.ConsecutiveFailures = 0
			p.dirty[id] = true
		}
	}
}

// Flush persists dirty accounts immediately. Used by one-shot CLI commands
// that do not run the flush loop.
func (p *Pool) Flush(ctx context.Context) {
	p.flush(ctx)
}

// flush writes dirty accounts to the store.
func (p *Pool) flush(ctx context.Context) {
	p.mu.Lock()
	pending := make(map[string]*Account, len(p.dirty))
	for id := range p.dirty {
		if acct, ok := p.accounts[id]; ok {
			pending[id] = acct.clone()
		}
	}
	p.dirty = make(map[string]bool)
	p.mu.Unlock()

	for id, acct := range pending {
		data, err := json.Marshal(acct)
		if err != nil {
			p.logger.Error("failed to marshal account", "account", Redact(id), "error", err)
			continue
		}
		if err := p.store.Put(ctx, store.CollectionAccounts, id, data); err != nil {
			p.logger.Error("failed to persist account", "account", Redact(id), "error", err)
			// Re-mark dirty so the next flush retries.
			p.mu.Lock()
			p.dirty[id] = true
			p.mu.Unlock()
		}
	}
}
