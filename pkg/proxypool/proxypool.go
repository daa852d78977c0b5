// Package proxypool owns the egress proxy table: seeding from configuration,
// refresh from an external source, health state, and per-credential bindings.
package proxypool

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

// Origin records how a proxy entered the pool.
type Origin string

const (
	OriginStatic Origin = "static"
	OriginList   Origin = "list"
	OriginPool   Origin = "pool"
)

// Health is the proxy health state.
type Health string

const (
	// HealthHealthy proxies are preferred for selection.
	HealthHealthy Health = "healthy"
	// HealthSuspect proxies have recent failures but remain selectable.
	HealthSuspect Health = "suspect"
	// HealthUnhealthy proxies are excluded until a passing probe or an
	// explicit reset.
	HealthUnhealthy Health = "unhealthy"
)

// Proxy is one egress proxy. The address doubles as the identifier.
type Proxy struct {
	Address             string    `json:"address"`
	Origin              Origin    `json:"origin"`
	Health              Health    `json:"health"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastChecked         time.Time `json:"last_checked,omitempty"`
	AddedAt             time.Time `json:"added_at"`

	// refreshMisses counts consecutive source refreshes that did not list
	// this proxy. Pool-fetched proxies are pruned at two.
	refreshMisses int
}

func (p *Proxy) clone() *Proxy {
	c := *p
	return &c
}

// Binding is a sticky credential-to-proxy association.
type Binding struct {
	CredentialID string    `json:"credential_id"`
	ProxyAddress string    `json:"proxy_address"`
	BoundAt      time.Time `json:"bound_at"`
}

// ErrUnknownProxy is returned for operations on an address not in the pool.
var ErrUnknownProxy = errors.New("unknown proxy")

// Pool guards the proxy and binding tables. Selection never returns an
// unhealthy proxy; an empty selected address means "connect directly".
type Pool struct {
	mu       sync.RWMutex
	proxies  map[string]*Proxy
	bindings map[string]*Binding

	cfg    config.ProxiesConfig
	store  store.Store
	source Source
	prober Prober
	logger *slog.Logger
}

// NewPool builds the pool, seeds configured proxies, and restores persisted
// pool-fetched proxies and bindings.
func NewPool(ctx context.Context, cfg config.ProxiesConfig, st store.Store, source Source, prober Prober) (*Pool, error) {
	p := &Pool{
		proxies:  make(map[string]*Proxy),
		bindings: make(map[string]*Binding),
		cfg:      cfg,
		store:    st,
		source:   source,
		prober:   prober,
		logger:   slog.Default().With("component", "proxypool"),
	}

	records, err := st.List(ctx, store.CollectionProxies)
	if err != nil {
		return nil, fmt.Errorf("failed to load proxies: %w", err)
	}
	for key, data := range records {
		var px Proxy
		if err := json.Unmarshal(data, &px); err != nil {
			p.logger.Warn("skipping corrupt proxy record", "key", key, "error", err)
			continue
		}
		p.proxies[px.Address] = &px
	}

	bindingRecords, err := st.List(ctx, store.CollectionBindings)
	if err != nil {
		return nil, fmt.Errorf("failed to load bindings: %w", err)
	}
	for key, data := range bindingRecords {
		var b Binding
		if err := json.Unmarshal(data, &b); err != nil {
			p.logger.Warn("skipping corrupt binding record", "key", key, "error", err)
			continue
		}
		p.bindings[b.CredentialID] = &b
	}

	// Seed list proxies on top of whatever was restored. Restarts with a
	// changed list keep health state for addresses that survive.
	for _, addr := range cfg.List {
		normalized := NormalizeAddress(addr)
		if _, exists := p.proxies[normalized]; exists {
			continue
		}
		p.proxies[normalized] = &Proxy{
			Address: normalized,
			Origin:  OriginList,
			Health:  HealthHealthy,
			AddedAt: time.Now(),
		}
	}

	p.logger.Info("proxy pool loaded", "proxies", len(p.proxies), "bindings", len(p.bindings))
	return p, nil
}

// SetConfig swaps the pool thresholds, used by config hot reload.
func (p *Pool) SetConfig(cfg config.ProxiesConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

// SelectFor returns the proxy address to use for the credential.
//
// Order: healthy bound proxy, then the selectable pool proxy with the fewest
// consecutive failures, then the static fallback. An empty return with a nil
// error means no proxy is configured and the caller should connect directly.
func (p *Pool) SelectFor(credentialID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if b, ok := p.bindings[credentialID]; ok {
		if px, ok := p.proxies[b.ProxyAddress]; ok && px.Health != HealthUnhealthy {
			return px.Address
		}
	}

	candidates := make([]*Proxy, 0, len(p.proxies))
	for _, px := range p.proxies {
		if px.Health == HealthUnhealthy {
			continue
		}
		candidates = append(candidates, px)
	}
	if len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].ConsecutiveFailures != candidates[j].ConsecutiveFailures {
				return candidates[i].ConsecutiveFailures < candidates[j].ConsecutiveFailures
			}
			return candidates[i].Address < candidates[j].Address
		})
		return candidates[0].Address
	}

	return p.cfg.Static
}

// SelectExcluding behaves like SelectFor but skips the given addresses. The
// retry loop uses it to avoid re-trying the proxy that just failed.
func (p *Pool) SelectExcluding(credentialID string, exclude map[string]bool) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if b, ok := p.bindings[credentialID]; ok && !exclude[b.ProxyAddress] {
		if px, ok := p.proxies[b.ProxyAddress]; ok && px.Health != HealthUnhealthy {
			return px.Address
		}
	}

	candidates := make([]*Proxy, 0, len(p.proxies))
	for _, px := range p.proxies {
		if px.Health == HealthUnhealthy || exclude[px.Address] {
			continue
		}
		candidates = append(candidates, px)
	}
	if len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].ConsecutiveFailures != candidates[j].ConsecutiveFailures {
				return candidates[i].ConsecutiveFailures < candidates[j].ConsecutiveFailures
			}
			return candidates[i].Address < candidates[j].Address
		})
		return candidates[0].Address
	}

	if p.cfg.Static != "" && !exclude[p.cfg.Static] {
		return p.cfg.Static
	}
	return ""
}

// Bind associates the credential with the proxy. Rebinding replaces any
// existing binding.
func (p *Pool) Bind(ctx context.Context, credentialID, proxyAddress string) error {
	p.mu.Lock()
	if _, ok := p.proxies[proxyAddress]; !ok && proxyAddress != p.cfg.Static {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownProxy, proxyAddress)
	}
	b := &Binding{
		CredentialID: credentialID,
		ProxyAddress: proxyAddress,
		BoundAt:      time.Now(),
	}
	p.bindings[credentialID] = b
	p.mu.Unlock()

	p.logger.Info("proxy bound", "credential", credentialID, "proxy", proxyAddress)
	return p.persistBinding(ctx, b)
}

// Unbind removes the credential's binding if present.
func (p *Pool) Unbind(ctx context.Context, credentialID string) error {
	p.mu.Lock()
	_, existed := p.bindings[credentialID]
	delete(p.bindings, credentialID)
	p.mu.Unlock()

	if !existed {
		return nil
	}
	if err := p.store.Delete(ctx, store.CollectionBindings, credentialID); err != nil {
		return fmt.Errorf("failed to delete binding: %w", err)
	}
	return nil
}

// BoundProxy reports the proxy currently bound to the credential.
func (p *Pool) BoundProxy(credentialID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.bindings[credentialID]
	if !ok {
		return "", false
	}
	return b.ProxyAddress, true
}

// ReportOutcome adjusts proxy health after one upstream attempt. A status
// equal to the configured blocked code counts as a success for proxy health:
// the proxy reached the upstream, the block is an account or fingerprint
// problem. Crossing the unhealthy threshold marks the proxy unhealthy and
// drops every binding that uses it.
func (p *Pool) ReportOutcome(ctx context.Context, proxyAddress string, success bool, statusCode int) {
	if proxyAddress == "" {
		return
	}
	if !success && statusCode == p.cfg.BlockedStatusCode {
		success = true
	}

	p.mu.Lock()
	px, ok := p.proxies[proxyAddress]
	if !ok {
		p.mu.Unlock()
		return
	}

	var dropped []string
	if success {
		px.ConsecutiveFailures = 0
		px.Health = HealthHealthy
	} else {
		px.ConsecutiveFailures++
		px.Health = HealthSuspect
		if px.ConsecutiveFailures >= p.cfg.UnhealthyThreshold {
			px.Health = HealthUnhealthy
		}
		if px.ConsecutiveFailures >= p.cfg.UnbindThreshold {
			for cred, b := range p.bindings {
				if b.ProxyAddress == proxyAddress {
					dropped = append(dropped, cred)
					delete(p.bindings, cred)
				}
			}
		}
	}
	snapshot := px.clone()
	p.mu.Unlock()

	if len(dropped) > 0 {
		p.logger.Warn("proxy failing, bindings dropped",
			"proxy", proxyAddress,
			"health", snapshot.Health,
			"consecutive_failures", snapshot.ConsecutiveFailures,
			"unbound_credentials", len(dropped),
		)
		for _, cred := range dropped {
			if err := p.store.Delete(ctx, store.CollectionBindings, cred); err != nil {
				p.logger.Error("failed to delete binding", "credential", cred, "error", err)
			}
		}
	}
	p.persistProxy(ctx, snapshot)
}

// ResetHealth clears the proxy's failure state, making it selectable again.
func (p *Pool) ResetHealth(ctx context.Context, proxyAddress string) error {
	p.mu.Lock()
	px, ok := p.proxies[proxyAddress]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownProxy, proxyAddress)
	}
	px.Health = HealthHealthy
	px.ConsecutiveFailures = 0
	snapshot := px.clone()
	p.mu.Unlock()

	p.logger.Info("proxy health reset", "proxy", proxyAddress)
	p.persistProxy(ctx, snapshot)
	return nil
}

// List returns copies of all proxies, sorted by address.
func (p *Pool) List() []*Proxy {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Proxy, 0, len(p.proxies))
	for _, px := range p.proxies {
		out = append(out, px.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Get returns a copy of one proxy.
func (p *Pool) Get(address string) (*Proxy, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	px, ok := p.proxies[address]
	if !ok {
		return nil, false
	}
	return px.clone(), true
}

func (p *Pool) persistProxy(ctx context.Context, px *Proxy) {
	data, err := json.Marshal(px)
	if err != nil {
		p.logger.Error("failed to marshal proxy", "proxy", px.Address, "error", err)
		return
	}
	if err := p.store.Put(ctx, store.CollectionProxies, px.Address, data); err != nil {
		p.logger.Error("failed to persist proxy", "proxy", px.Address, "error", err)
	}
}

func (p *Pool) persistBinding(ctx context.Context, b *Binding) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal binding: %w", err)
	}
	if err := p.store.Put(ctx, store.CollectionBindings, b.CredentialID, data); err != nil {
		return fmt.Errorf("failed to persist binding: %w", err)
	}
	return nil
}
