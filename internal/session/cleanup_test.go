package session

import (
	"testing"
	"time"
)

func TestRunCleanupAgePhase(t *testing.T) {
	s := newTestStore(t)

	stale, err := s.Create("stale", sampleSnapshot())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	stale.Metadata.LastUsed = time.Now().Add(-48 * time.Hour).UnixMilli()
	if err := s.Save("stale", stale); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := s.Create("fresh", sampleSnapshot()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	plan, err := s.RunCleanup(24*time.Hour, 0, false)
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if len(plan.AgeExpired) != 1 || plan.AgeExpired[0] != "stale" {
		t.Errorf("expected stale to be age-expired, got %+v", plan.AgeExpired)
	}
	if len(plan.Survivors) != 1 || plan.Survivors[0] != "fresh" {
		t.Errorf("expected fresh to survive, got %+v", plan.Survivors)
	}

	if _, ok, _ := s.Load("stale"); ok {
		t.Error("expected stale session file to be removed")
	}
	if _, ok, _ := s.Load("fresh"); !ok {
		t.Error("expected fresh session file to remain")
	}
}

func TestRunCleanupExpiresDeadline(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Create("doomed", sampleSnapshot(), WithExpiry(-time.Minute)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	plan, err := s.RunCleanup(0, 0, false)
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if len(plan.AgeExpired) != 1 || plan.AgeExpired[0] != "doomed" {
		t.Errorf("expected doomed to be removed by deadline, got %+v", plan)
	}
}

func TestRunCleanupCountPhase(t *testing.T) {
	s := newTestStore(t)

	names := []string{"a", "b", "c"}
	base := time.Now().Add(-time.Hour)
	for i, name := range names {
		sess, err := s.Create(name, sampleSnapshot())
		if err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
		// stagger lastUsed so ordering is deterministic: a oldest, c newest
		sess.Metadata.LastUsed = base.Add(time.Duration(i) * time.Minute).UnixMilli()
		if err := s.Save(name, sess); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
	}

	plan, err := s.RunCleanup(0, 2, false)
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if len(plan.CountExpired) != 1 || plan.CountExpired[0] != "a" {
		t.Errorf("expected oldest survivor 'a' evicted by count phase, got %+v", plan.CountExpired)
	}
	if len(plan.Survivors) != 2 {
		t.Errorf("expected 2 survivors, got %+v", plan.Survivors)
	}

	if _, ok, _ := s.Load("a"); ok {
		t.Error("expected 'a' to be removed by count phase")
	}
	if _, ok, _ := s.Load("b"); !ok {
		t.Error("expected 'b' to survive")
	}
	if _, ok, _ := s.Load("c"); !ok {
		t.Error("expected 'c' to survive")
	}
}

func TestRunCleanupDryRunMutatesNothing(t *testing.T) {
	s := newTestStore(t)

	stale, err := s.Create("stale", sampleSnapshot())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	stale.Metadata.LastUsed = time.Now().Add(-48 * time.Hour).UnixMilli()
	if err := s.Save("stale", stale); err != nil {
		t.Fatalf("Save: %v", err)
	}

	plan, err := s.RunCleanup(24*time.Hour, 0, true)
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if len(plan.AgeExpired) != 1 {
		t.Fatalf("expected plan to flag stale session, got %+v", plan)
	}
	if _, ok, _ := s.Load("stale"); !ok {
		t.Error("dryRun must not delete anything from disk")
	}
}

func TestCleanupSchedulerRunsOnStartAndStop(t *testing.T) {
	s := newTestStore(t)

	stale, err := s.Create("stale", sampleSnapshot())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	stale.Metadata.LastUsed = time.Now().Add(-48 * time.Hour).UnixMilli()
	if err := s.Save("stale", stale); err != nil {
		t.Fatalf("Save: %v", err)
	}

	sched := NewCleanupScheduler(s, CleanupConfig{
		MaxAge:     24 * time.Hour,
		Interval:   time.Hour,
		RunOnStart: true,
	})
	sched.Start()
	defer sched.Stop()

	if _, ok, _ := s.Load("stale"); ok {
		t.Error("expected RunOnStart to clean up the stale session immediately")
	}

	// Starting again must be a no-op, not a second goroutine/ticker.
	sched.Start()
}

func TestCleanupSchedulerUpdateConfigRestartsTicker(t *testing.T) {
	s := newTestStore(t)

	sched := NewCleanupScheduler(s, CleanupConfig{Interval: time.Hour})
	sched.Start()
	defer sched.Stop()

	sched.UpdateConfig(CleanupConfig{Interval: 30 * time.Minute})

	// Stop/Start again must not panic or deadlock after a restart.
	sched.Stop()
	sched.Start()
}

func TestCleanupSchedulerStopBeforeStartIsNoOp(t *testing.T) {
	s := newTestStore(t)
	sched := NewCleanupScheduler(s, CleanupConfig{Interval: time.Hour})
	sched.Stop()
}
