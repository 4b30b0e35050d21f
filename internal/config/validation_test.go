package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Engine: EngineConfig{
			RefreshInterval:            30 * time.Second,
			MaxRetries:                 3,
			BatchSize:                  10,
			ConflictResolutionStrategy: "server-wins",
			FetchTimeout:               10 * time.Second,
		},
		API: APIConfig{RatePerSecond: 10},
		Transforms: []TransformConfig{
			{Name: "slim", Pick: []string{"id"}},
		},
		Watches: []WatchConfig{
			{DataType: "users", Priority: "critical", Rules: []string{"slim"}},
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected no error for valid config, got: %v", err)
	}
}

func TestValidate_InvalidStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.ConflictResolutionStrategy = "newest"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid strategy")
	}
	if !strings.Contains(err.Error(), `"newest"`) {
		t.Errorf("error should mention the strategy, got: %v", err)
	}
}

func TestValidate_InvalidIntervalPriority(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.Intervals = map[string]time.Duration{"urgent": time.Second}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for unknown interval priority")
	}
	if !strings.Contains(err.Error(), "urgent=1s") {
		t.Errorf("error should mention urgent=1s, got: %v", err)
	}
	if !strings.Contains(err.Error(), "Valid priorities: critical, important, normal, low") {
		t.Errorf("error should list valid priorities, got: %v", err)
	}
}

func TestValidate_WatchReferencesUndeclaredRule(t *testing.T) {
	cfg := validConfig()
	cfg.Watches = append(cfg.Watches, WatchConfig{DataType: "orders", Rules: []string{"missing"}})

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for undeclared rule")
	}
	if !strings.Contains(err.Error(), `watches[1]: rule "missing"`) {
		t.Errorf("error should point at watches[1], got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.BatchSize = 0
	cfg.Push = PushConfig{Enabled: true}
	cfg.Transforms = append(cfg.Transforms, TransformConfig{Name: "empty"})
	cfg.Watches = []WatchConfig{{Priority: "sometimes"}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for multiple issues")
	}

	errs, ok := err.(*ValidationErrors)
	if !ok {
		t.Fatalf("expected *ValidationErrors, got %T", err)
	}
	if len(errs.Problems) != 2 {
		t.Errorf("expected batch size and push url problems, got: %v", errs.Problems)
	}
	if len(errs.InvalidTransforms) != 1 {
		t.Errorf("expected one invalid transform, got: %v", errs.InvalidTransforms)
	}
	if len(errs.InvalidWatches) != 2 {
		t.Errorf("expected missing data_type and unknown priority, got: %v", errs.InvalidWatches)
	}
}
