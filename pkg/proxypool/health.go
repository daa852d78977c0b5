package proxypool

import (
	"context"
	"time"
)

// Prober issues a reachability probe through a proxy and returns the
// upstream status code. Satisfied by the upstream client.
type Prober interface {
	Probe(ctx context.Context, proxyAddress string, timeout time.Duration) (int, error)
}

// HealthResult is the outcome of one probe.
type HealthResult struct {
	ProxyAddress string        `json:"proxy_address"`
	Healthy      bool          `json:"healthy"`
	StatusCode   int           `json:"status_code,omitempty"`
	Latency      time.Duration `json:"latency"`
	Error        string        `json:"error,omitempty"`
}

// HealthCheck probes one proxy and updates its health state. A 2xx status is
// healthy, and so is the configured blocked status: reaching the upstream at
// all proves the proxy works. The probe runs outside the pool lock.
func (p *Pool) HealthCheck(ctx context.Context, proxyAddress string) (*HealthResult, error) {
	p.mu.RLock()
	_, known := p.proxies[proxyAddress]
	timeout := p.cfg.ProbeTimeout
	blocked := p.cfg.BlockedStatusCode
	p.mu.RUnlock()

	if !known {
		return nil, ErrUnknownProxy
	}

	result := &HealthResult{ProxyAddress: proxyAddress}
	start := time.Now()
	status, err := p.prober.Probe(ctx, proxyAddress, timeout)
	result.Latency = time.Since(start)

	if err != nil {
		result.Error = err.Error()
	} else {
		result.StatusCode = status
		result.Healthy = (status >= 200 && status < 300) || status == blocked
	}

	p.mu.Lock()
	px, ok := p.proxies[proxyAddress]
	if ok {
		px.LastChecked = time.Now()
		if result.Healthy {
			px.Health = HealthHealthy
			px.ConsecutiveFailures = 0
		} else {
			px.ConsecutiveFailures++
			if px.ConsecutiveFailures >= p.cfg.UnhealthyThreshold {
				px.Health = HealthUnhealthy
			} else {
				px.Health = HealthSuspect
			}
		}
		px = px.clone()
	}
	p.mu.Unlock()

	if ok {
		p.persistProxy(ctx, px)
	}

	p.logger.Debug("proxy probed",
		"proxy", proxyAddress,
		"healthy", result.Healthy,
		"status", result.StatusCode,
		"latency", result.Latency,
	)
	return result, nil
}

// CheckAll probes every proxy sequentially. Used by the admin surface and by
// periodic reset sweeps over unhealthy proxies.
func (p *Pool) CheckAll(ctx context.Context) []*HealthResult {
	results := make([]*HealthResult, 0)
	for _, px := range p.List() {
		if ctx.Err() != nil {
			return results
		}
		res, err := p.HealthCheck(ctx, px.Address)
		if err != nil {
			continue
		}
		results = append(results, res)
	}
	return results
}
