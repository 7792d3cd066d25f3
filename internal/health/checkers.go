package health

import (
	"context"
	"time"
)

// Pinger is anything with a cheap connectivity check, such as the Redis
// rate limiter.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports a dependency healthy when Ping succeeds, degraded when
// it succeeds slowly.
type PingChecker struct {
	name     string
	target   Pinger
	critical bool
	timeout  time.Duration
	slow     time.Duration
}

// NewRedisChecker checks the rate-limit store. It is critical: without it the
// inlet fails open on every request.
func NewRedisChecker(target Pinger) *PingChecker {
	return &PingChecker{name: "redis", target: target, critical: true, timeout: 5 * time.Second, slow: 100 * time.Millisecond}
}

func (p *PingChecker) Name() string           { return p.name }
func (p *PingChecker) IsCritical() bool       { return p.critical }
func (p *PingChecker) Timeout() time.Duration { return p.timeout }

func (p *PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: p.name, Critical: p.critical, Timestamp: start}

	err := p.target.Ping(ctx)
	result.Duration = time.Since(start)
	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = p.name + " ping failed"
	case result.Duration > p.slow:
		result.Status = StatusDegraded
		result.Message = p.name + " responding but with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = p.name + " healthy"
	}
	return result
}

// ProbeChecker runs the Gemini probe. Provider hiccups degrade rather than
// fail the service.
type ProbeChecker struct {
	probe   func(ctx context.Context) error
	timeout time.Duration
}

// NewGeminiChecker wraps a client's Probe method.
func NewGeminiChecker(probe func(ctx context.Context) error) *ProbeChecker {
	return &ProbeChecker{probe: probe, timeout: 15 * time.Second}
}

func (g *ProbeChecker) Name() string           { return "gemini" }
func (g *ProbeChecker) IsCritical() bool       { return false }
func (g *ProbeChecker) Timeout() time.Duration { return g.timeout }

func (g *ProbeChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "gemini", Timestamp: start}
	if err := g.probe(ctx); err != nil {
		result.Status = StatusDegraded
		result.Error = err.Error()
		result.Message = "Gemini probe failed"
	} else {
		result.Status = StatusHealthy
		result.Message = "Gemini reachable"
	}
	result.Duration = time.Since(start)
	return result
}
