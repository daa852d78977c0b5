package proxypool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Mouseww/grok2api-pro/pkg/store"
)

// Source yields the current proxy addresses from an external provider.
type Source interface {
	Fetch(ctx context.Context) ([]string, error)
}

// HTTPSource fetches a newline-separated proxy list from a URL.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// NewHTTPSource builds a source for the given pool URL.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		URL:    url,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build proxy source request: %w", err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch proxy source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy source returned status %d", resp.StatusCode)
	}

	var addrs []string
	scanner := bufio.NewScanner(io.LimitReader(resp.Body, 1<<20))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addrs = append(addrs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read proxy source: %w", err)
	}
	return addrs, nil
}

// NormalizeAddress turns a raw proxy entry into a full URL, inferring the
// http scheme when the entry is a bare host:port.
func NormalizeAddress(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "://") {
		return raw
	}
	return "http://" + raw
}

// RefreshFromSource pulls the current address list from the configured
// source and merges it into the pool: new addresses are added as healthy
// pool-fetched proxies, known addresses have their miss counter cleared, and
// pool-fetched addresses absent from two consecutive refreshes are pruned
// with their bindings. Static and list proxies are never pruned.
func (p *Pool) RefreshFromSource(ctx context.Context) error {
	if p.source == nil {
		return nil
	}
	addrs, err := p.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("proxy refresh failed: %w", err)
	}

	current := make(map[string]bool, len(addrs))
	for _, raw := range addrs {
		if normalized := NormalizeAddress(raw); normalized != "" {
			current[normalized] = true
		}
	}

	p.mu.Lock()
	var added, pruned []*Proxy
	var unbound []string
	for addr := range current {
		if px, exists := p.proxies[addr]; exists {
			px.refreshMisses = 0
			continue
		}
		px := &Proxy{
			Address: addr,
			Origin:  OriginPool,
			Health:  HealthHealthy,
			AddedAt: time.Now(),
		}
		p.proxies[addr] = px
		added = append(added, px.clone())
	}
	for addr, px := range p.proxies {
		if px.Origin != OriginPool || current[addr] {
			continue
		}
		px.refreshMisses++
		if px.refreshMisses < 2 {
			continue
		}
		delete(p.proxies, addr)
		pruned = append(pruned, px)
		for cred, b := range p.bindings {
			if b.ProxyAddress == addr {
				unbound = append(unbound, cred)
				delete(p.bindings, cred)
			}
		}
	}
	p.mu.Unlock()

	for _, px := range added {
		p.persistProxy(ctx, px)
	}
	for _, px := range pruned {
		if err := p.store.Delete(ctx, store.CollectionProxies, px.Address); err != nil {
			p.logger.Error("failed to delete proxy record", "proxy", px.Address, "error", err)
		}
	}
	for _, cred := range unbound {
		if err := p.store.Delete(ctx, store.CollectionBindings, cred); err != nil {
			p.logger.Error("failed to delete binding", "credential", cred, "error", err)
		}
	}

	p.logger.Info("proxy pool refreshed",
		"source_entries", len(current),
		"added", len(added),
		"pruned", len(pruned),
		"unbound", len(unbound),
	)
	return nil
}
