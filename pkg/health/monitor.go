package health

import (
	"context"
	"time"
)

// Monitor runs a Checker on an interval and folds each Result through a
// Status, reporting the debounced healthy/unhealthy verdict to a callback.
type Monitor struct {
	checker  Checker
	config   Config
	onUpdate func(name string, healthy bool, message string)
}

// NewMonitor constructs a Monitor for checker, using config for interval,
// timeout, retry and start-period behavior. onUpdate is called once per
// check cycle (not only on transitions) with the current verdict.
func NewMonitor(checker Checker, config Config, onUpdate func(name string, healthy bool, message string)) *Monitor {
	return &Monitor{checker: checker, config: config, onUpdate: onUpdate}
}

// Run blocks, polling checker every config.Interval until ctx is
// cancelled. name identifies the component in onUpdate callbacks.
func (m *Monitor) Run(ctx context.Context, name string) {
	status := NewStatus()

	if m.config.StartPeriod > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.config.StartPeriod):
		}
	}

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.tick(ctx, name, status)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, name, status)
		}
	}
}

func (m *Monitor) tick(ctx context.Context, name string, status *Status) {
	checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	result := m.checker.Check(checkCtx)
	status.Update(result, m.config)
	m.onUpdate(name, status.Healthy, result.Message)
}
