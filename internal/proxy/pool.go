// Package proxy maintains a pool of health-scored egress endpoints.
package proxy

import (
	"math/rand"
	"sync"
	"time"
)

// Score adjustments and selection bounds.
const (
	successDelta  = 0.05
	failureDelta  = 0.2
	minSelectable = 0.05
	minWeight     = 0.01
	cooldownMin   = 5 * time.Second
	cooldownMax   = 20 * time.Second
)

// Endpoint is a single proxy gateway. Score and CooldownUntil are mutated
// only by the owning Pool, under its mutex.
type Endpoint struct {
	URL           string
	Score         float64
	CooldownUntil time.Time
}

// Pool holds the configured gateways and picks one per request. A pool built
// from an empty base URL has no endpoints; callers then go direct.
type Pool struct {
	mu        sync.Mutex
	base      string
	endpoints []*Endpoint
	now       func() time.Time
	rng       *rand.Rand
}

// NewPool constructs a pool from an optional base proxy URL.
func NewPool(baseURL string) *Pool {
	p := &Pool{
		base: baseURL,
		now:  time.Now,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if baseURL != "" {
		p.endpoints = []*Endpoint{{URL: baseURL, Score: 1.0}}
	}
	return p
}

// Add registers an additional gateway. Residential providers usually expose a
// single rotating gateway, but multi-gateway accounts slot in here.
func (p *Pool) Add(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoints = append(p.endpoints, &Endpoint{URL: url, Score: 1.0})
}

// Select picks an endpoint by weighted random sampling over healthy,
// non-cooling endpoints. When none qualify it falls back to the base gateway
// unconditionally: a cooling proxy still beats a direct request once a pool
// exists. Returns nil only for an empty pool.
func (p *Pool) Select() *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.endpoints) == 0 {
		return nil
	}

	now := p.now()
	var candidates []*Endpoint
	total := 0.0
	for _, ep := range p.endpoints {
		if !ep.CooldownUntil.After(now) && ep.Score > minSelectable {
			candidates = append(candidates, ep)
			total += weight(ep.Score)
		}
	}
	if len(candidates) == 0 {
		return p.endpoints[0]
	}

	r := p.rng.Float64() * total
	for _, ep := range candidates {
		r -= weight(ep.Score)
		if r <= 0 {
			return ep
		}
	}
	return candidates[len(candidates)-1]
}

// MarkSuccess nudges the endpoint's score up after a fully successful fetch.
func (p *Pool) MarkSuccess(ep *Endpoint) {
	if ep == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ep.Score = min(1.0, ep.Score+successDelta)
}

// MarkFailure drops the score and puts the endpoint on a randomized cooldown
// so a possibly bad exit is not hammered.
func (p *Pool) MarkFailure(ep *Endpoint) {
	if ep == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ep.Score = max(0.0, ep.Score-failureDelta)
	jitter := time.Duration(p.rng.Float64() * float64(cooldownMax-cooldownMin))
	ep.CooldownUntil = p.now().Add(cooldownMin + jitter)
}

// Size returns the number of configured endpoints.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

func weight(score float64) float64 {
	return max(minWeight, score)
}
