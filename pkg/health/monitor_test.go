package health

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeChecker struct {
	mu      sync.Mutex
	healthy bool
}

func (f *fakeChecker) Check(ctx context.Context) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Result{Healthy: f.healthy, Message: "fake", CheckedAt: time.Now()}
}

func (f *fakeChecker) Type() CheckType { return CheckTypeTCP }

func (f *fakeChecker) setHealthy(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = v
}

func TestMonitorReportsImmediately(t *testing.T) {
	checker := &fakeChecker{healthy: true}
	cfg := Config{Interval: time.Hour, Timeout: time.Second, Retries: 1}

	updates := make(chan bool, 1)
	mon := NewMonitor(checker, cfg, func(name string, healthy bool, message string) {
		updates <- healthy
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx, "objectstore")

	select {
	case healthy := <-updates:
		if !healthy {
			t.Error("expected first report to be healthy")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never reported")
	}
}

func TestMonitorDebouncesFailuresUntilRetryThreshold(t *testing.T) {
	checker := &fakeChecker{healthy: false}
	cfg := Config{Interval: 20 * time.Millisecond, Timeout: time.Second, Retries: 3}

	updates := make(chan bool, 16)
	mon := NewMonitor(checker, cfg, func(name string, healthy bool, message string) {
		updates <- healthy
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx, "objectstore")

	var reports []bool
	for i := 0; i < 3; i++ {
		select {
		case h := <-updates:
			reports = append(reports, h)
		case <-time.After(2 * time.Second):
			t.Fatal("monitor stalled")
		}
	}

	if !reports[0] || !reports[1] {
		t.Fatalf("expected first two failures to stay healthy below the retry threshold, got %v", reports)
	}
	if reports[2] {
		t.Fatalf("expected third consecutive failure (meeting Retries) to flip unhealthy, got %v", reports)
	}
}
