package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Manager runs registered checks in the background and serves the latest
// results. Checks that have not run yet report StatusUnknown.
type Manager struct {
	checkers map[string]Checker
	results  map[string]CheckResult
	interval time.Duration
	logger   *zap.Logger
	mu       sync.RWMutex
	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewManager creates a new health manager
func NewManager(interval time.Duration, logger *zap.Logger) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		checkers: make(map[string]Checker),
		results:  make(map[string]CheckResult),
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// RegisterChecker registers a health check
func (m *Manager) RegisterChecker(checker Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = checker
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", checker.IsCritical()),
		zap.Duration("timeout", checker.Timeout()))
	return nil
}

// RunChecks runs every check once, each under its own timeout.
func (m *Manager) RunChecks(ctx context.Context) {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, c.Timeout())
			defer cancel()
			res := c.Check(cctx)
			if res.Status != StatusHealthy {
				m.logger.Warn("Health check not healthy",
					zap.String("checker", c.Name()),
					zap.String("status", res.Status.String()),
					zap.String("error", res.Error))
			}
			m.mu.Lock()
			m.results[c.Name()] = res
			m.mu.Unlock()
		}(c)
	}
	wg.Wait()
}

// Start runs the checks immediately and then on every interval until Stop.
func (m *Manager) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(m.done)
		m.RunChecks(ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.RunChecks(ctx)
			}
		}
	}()
}

// Stop ends background checking and waits for the loop to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		if m.started.Load() {
			<-m.done
		}
	})
}

// Overall combines the latest results. A failed critical check makes the
// service unhealthy and not ready; any other problem only degrades it.
func (m *Manager) Overall() OverallHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := OverallHealth{Status: StatusHealthy, Timestamp: time.Now(), Ready: true, Components: make(map[string]CheckResult, len(m.checkers))}
	for name, c := range m.checkers {
		res, ok := m.results[name]
		if !ok {
			res = CheckResult{Status: StatusUnknown, Component: name, Critical: c.IsCritical()}
		}
		out.Components[name] = res

		switch {
		case res.Status == StatusHealthy:
		case c.IsCritical() && res.Status != StatusDegraded:
			out.Status = StatusUnhealthy
			out.Ready = false
		case out.Status == StatusHealthy:
			out.Status = StatusDegraded
		}
	}
	return out
}
