// README: Config loading tests for defaults, YAML overlay and env precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("FREIGHT_CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Matching.FanOut != 20 {
		t.Fatalf("expected default fan-out 20, got %d", cfg.Matching.FanOut)
	}
	w := cfg.Scoring.Weights
	if sum := w.Location + w.Vehicle + w.Experience + w.Reliability + w.Budget; sum < 0.999 || sum > 1.001 {
		t.Fatalf("default weights should sum to 1, got %f", sum)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "freight.yaml")
	content := `
http:
  addr: ":9090"
matching:
  fan_out: 5
  lock_wait: 750ms
  dispatch_mode: local
scoring:
  weights:
    budget: 0.2
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FREIGHT_CONFIG_FILE", path)
	t.Setenv("FREIGHT_HTTP_ADDR", ":7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":7070" {
		t.Fatalf("env should override file, got %s", cfg.HTTP.Addr)
	}
	if cfg.Matching.FanOut != 5 {
		t.Fatalf("expected fan-out from file, got %d", cfg.Matching.FanOut)
	}
	if cfg.Matching.LockWait != 750*time.Millisecond {
		t.Fatalf("expected lock wait 750ms, got %s", cfg.Matching.LockWait)
	}
	if cfg.Matching.DispatchMode != DispatchLocal {
		t.Fatalf("expected local dispatch, got %s", cfg.Matching.DispatchMode)
	}
	if cfg.Scoring.Weights.Budget != 0.2 || cfg.Scoring.Weights.Location != 0.35 {
		t.Fatalf("unexpected weights: %+v", cfg.Scoring.Weights)
	}
	if cfg.Matching.PoolLimit != 200 {
		t.Fatalf("fields absent from file should keep defaults, got pool limit %d", cfg.Matching.PoolLimit)
	}
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.Matching.FanOut = 0
	cfg.Matching.DispatchMode = "kafka"
	cfg.Scoring.Weights.Budget = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"fan_out", "dispatch_mode", "weights.budget"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %q", want, err.Error())
		}
	}
}

func TestEnvOrDefaultDuration_IgnoresGarbage(t *testing.T) {
	t.Setenv("FREIGHT_TEST_DURATION", "soon")
	if got := envOrDefaultDuration("FREIGHT_TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("expected fallback, got %s", got)
	}
}
