package poolmanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ostin-pil/lesca/internal/config"
	"github.com/ostin-pil/lesca/internal/types"
)

func testConfig() *config.Config {
	return &config.Config{
		BrowserHeadless:       true,
		BrowserPoolMinSize:    1,
		BrowserPoolMaxSize:    1,
		BrowserAcquireTimeout: 2 * time.Second,
		IdleSweepInterval:     time.Hour,
		PageReuse:             true,
		CircuitThreshold:      5,
		CircuitCooldown:       time.Second,
		CircuitHalfOpenProbes: 1,
		PoolRetryOnFailure:    true,
		PoolMaxRetries:        2,
	}
}

func skipCI(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
}

func TestManagerLazyPoolCreationPerSession(t *testing.T) {
	skipCI(t)

	m := New(testConfig(), nil)
	defer m.DrainAll()

	if names := m.SessionNames(); len(names) != 0 {
		t.Fatalf("expected no pools before first acquire, got %v", names)
	}

	b, err := m.AcquireBrowser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("AcquireBrowser: %v", err)
	}
	defer m.ReleaseBrowser("alice", b)

	names := m.SessionNames()
	if len(names) != 1 || names[0] != "alice" {
		t.Fatalf("expected pool for 'alice' only, got %v", names)
	}
}

func TestManagerReleaseToWrongSessionErrors(t *testing.T) {
	skipCI(t)

	m := New(testConfig(), nil)
	defer m.DrainAll()

	b, err := m.AcquireBrowser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("AcquireBrowser: %v", err)
	}

	if err := m.ReleaseBrowser("bob", b); err != types.ErrWrongPoolRelease {
		t.Errorf("expected ErrWrongPoolRelease, got %v", err)
	}

	if err := m.ReleaseBrowser("alice", b); err != nil {
		t.Errorf("expected release to the correct session to succeed, got %v", err)
	}
}

func TestManagerGetStatisticsKnownAndUnknown(t *testing.T) {
	skipCI(t)

	m := New(testConfig(), nil)
	defer m.DrainAll()

	b, err := m.AcquireBrowser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("AcquireBrowser: %v", err)
	}
	defer m.ReleaseBrowser("alice", b)

	stats, err := m.GetStatistics("alice")
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	if len(stats) != 1 || stats[0].SessionName != "alice" {
		t.Errorf("expected one stat entry for 'alice', got %+v", stats)
	}

	if _, err := m.GetStatistics("nobody"); err != types.ErrUnknownSessionPool {
		t.Errorf("expected ErrUnknownSessionPool, got %v", err)
	}

	all, err := m.GetStatistics("")
	if err != nil || len(all) != 1 {
		t.Errorf("expected one pool in the aggregate view, got %+v err=%v", all, err)
	}
}

func TestManagerDrainAllDrainsEverySession(t *testing.T) {
	skipCI(t)

	m := New(testConfig(), nil)

	for _, name := range []string{"alice", "bob"} {
		b, err := m.AcquireBrowser(context.Background(), name)
		if err != nil {
			t.Fatalf("AcquireBrowser(%s): %v", name, err)
		}
		m.ReleaseBrowser(name, b)
	}

	if err := m.DrainAll(); err != nil {
		t.Fatalf("DrainAll: %v", err)
	}

	if _, err := m.AcquireBrowser(context.Background(), "alice"); err != types.ErrPoolClosed {
		t.Errorf("expected ErrPoolClosed from a drained pool, got %v", err)
	}
}

func TestManagerEventsCarrySessionName(t *testing.T) {
	skipCI(t)

	var mu sync.Mutex
	var names []string
	m := New(testConfig(), func(e types.MetricEvent) {
		mu.Lock()
		names = append(names, e.SessionName)
		mu.Unlock()
	})
	defer m.DrainAll()

	b, err := m.AcquireBrowser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("AcquireBrowser: %v", err)
	}
	m.ReleaseBrowser("alice", b)

	mu.Lock()
	defer mu.Unlock()
	for _, n := range names {
		if n != "alice" {
			t.Errorf("expected every event tagged 'alice', got %q", n)
		}
	}
	if len(names) == 0 {
		t.Error("expected at least one event")
	}
}
