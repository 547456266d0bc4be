package main

import (
	"bytes"
	"path/filepath"
	"testing"
)

// setTestEnv points every directory-valued env var at a fresh temp dir so
// newApp's component construction (session store, cache) never touches a
// real home directory, and resets the package-level cobra state shared
// across commands in the same process.
func setTestEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LESCA_SESSIONS_DIR", filepath.Join(dir, "sessions"))
	t.Setenv("LESCA_CACHE_DIR", filepath.Join(dir, "cache"))
	t.Setenv("LESCA_BATCH_PROGRESS_FILE", filepath.Join(dir, "progress.json"))
	t.Setenv("LESCA_ENCRYPTION_KEY", "")

	flagConfigFile = ""
	flagLogLevel = ""
	flagSessionsDir = ""
	flagBaseURL = ""
	cfg = nil
	theApp = nil
}

func TestRootInitWritesConfigWithoutBuildingApp(t *testing.T) {
	setTestEnv(t)
	dir := t.TempDir()
	outPath := filepath.Join(dir, "lesca.yaml")

	root := newRootCmd()
	root.SetArgs([]string{"init", "--out", outPath})
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)

	if err := root.Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if theApp != nil {
		t.Fatalf("init should not construct an app, got %+v", theApp)
	}
}

func TestRootInitRefusesToOverwriteWithoutForce(t *testing.T) {
	setTestEnv(t)
	dir := t.TempDir()
	outPath := filepath.Join(dir, "lesca.yaml")

	first := newRootCmd()
	first.SetArgs([]string{"init", "--out", outPath})
	if err := first.Execute(); err != nil {
		t.Fatalf("first init: %v", err)
	}

	second := newRootCmd()
	second.SetArgs([]string{"init", "--out", outPath})
	err := second.Execute()
	if err == nil {
		t.Fatal("expected an error re-running init without --force")
	}
	if exitCodeFor(err) != exitUsage {
		t.Fatalf("exitCodeFor(second init) = %d, want %d (usage error)", exitCodeFor(err), exitUsage)
	}
}

func TestRootSessionListBuildsAppAndRuns(t *testing.T) {
	setTestEnv(t)

	root := newRootCmd()
	root.SetArgs([]string{"session", "list"})
	var stdout bytes.Buffer
	root.SetOut(&stdout)

	if err := root.Execute(); err != nil {
		t.Fatalf("session list: %v", err)
	}
	if theApp == nil {
		t.Fatal("session list should have constructed an app")
	}
}

func TestRootSessionMergeUnknownStrategyIsUsageError(t *testing.T) {
	setTestEnv(t)

	root := newRootCmd()
	root.SetArgs([]string{"session", "merge", "target", "source", "--strategy", "not-a-real-strategy"})

	err := root.Execute()
	if err == nil {
		t.Fatal("expected an error for an unknown merge strategy")
	}
	if exitCodeFor(err) != exitUsage {
		t.Fatalf("exitCodeFor(unknown strategy) = %d, want %d", exitCodeFor(err), exitUsage)
	}
}

func TestRootSessionDeleteMissingSessionIsUsageError(t *testing.T) {
	setTestEnv(t)

	root := newRootCmd()
	root.SetArgs([]string{"session", "delete", "does-not-exist"})

	err := root.Execute()
	if err == nil {
		t.Fatal("expected an error deleting a session that was never created")
	}
	if exitCodeFor(err) != exitUsage {
		t.Fatalf("exitCodeFor(missing session) = %d, want %d", exitCodeFor(err), exitUsage)
	}
}

func TestRootMetricsExportUnknownFormatIsUsageError(t *testing.T) {
	setTestEnv(t)

	root := newRootCmd()
	root.SetArgs([]string{"metrics", "export", "--format", "xml"})

	err := root.Execute()
	if err == nil {
		t.Fatal("expected an error for an unsupported export format")
	}
	if exitCodeFor(err) != exitUsage {
		t.Fatalf("exitCodeFor(unknown format) = %d, want %d", exitCodeFor(err), exitUsage)
	}
}

func TestRootBaseURLFlagOverridesEnv(t *testing.T) {
	setTestEnv(t)
	t.Setenv("LESCA_BASE_URL", "https://from-env.example")

	root := newRootCmd()
	root.SetArgs([]string{"--base-url", "https://from-flag.example", "session", "list"})
	var stdout bytes.Buffer
	root.SetOut(&stdout)

	if err := root.Execute(); err != nil {
		t.Fatalf("session list: %v", err)
	}
	if cfg.BaseURL != "https://from-flag.example" {
		t.Fatalf("cfg.BaseURL = %q, want the --base-url override", cfg.BaseURL)
	}
}
