package config

import (
	"fmt"
	"strings"

	"github.com/dgnsrekt/refreshd/internal/refresh"
)

// InvalidWatch represents a watch entry that cannot be subscribed
type InvalidWatch struct {
	Index  int
	Reason string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Problems          []string
	InvalidPriorities []string
	InvalidTransforms []string
	InvalidWatches    []InvalidWatch
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Problems) > 0 || len(e.InvalidPriorities) > 0 ||
		len(e.InvalidTransforms) > 0 || len(e.InvalidWatches) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	for _, p := range e.Problems {
		sb.WriteString(fmt.Sprintf("  - %s\n", p))
	}

	if len(e.InvalidPriorities) > 0 {
		sb.WriteString("\nInvalid priorities in engine.intervals:\n")
		for _, p := range e.InvalidPriorities {
			sb.WriteString(fmt.Sprintf("  - %s\n", p))
		}
		sb.WriteString(fmt.Sprintf("\nValid priorities: %s\n", strings.Join(ValidPriorities, ", ")))
	}

	if len(e.InvalidTransforms) > 0 {
		sb.WriteString("\nInvalid transforms:\n")
		for _, t := range e.InvalidTransforms {
			sb.WriteString(fmt.Sprintf("  - %s\n", t))
		}
	}

	if len(e.InvalidWatches) > 0 {
		sb.WriteString("\nInvalid watches:\n")
		for _, w := range e.InvalidWatches {
			sb.WriteString(fmt.Sprintf("  - watches[%d]: %s\n", w.Index, w.Reason))
		}
	}

	return sb.String()
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if c.API.BaseURL != "" && c.API.APIKey == "" {
		errs.Problems = append(errs.Problems, "api_key is required when api.base_url is set (set REFRESHD_API_KEY env var)")
	}
	if c.API.RatePerSecond < 1 {
		errs.Problems = append(errs.Problems, "api.rate_per_second must be >= 1")
	}
	if c.Engine.BatchSize < 1 {
		errs.Problems = append(errs.Problems, "engine.batch_size must be >= 1")
	}
	if c.Engine.MaxRetries < 0 {
		errs.Problems = append(errs.Problems, "engine.max_retries must be >= 0")
	}
	if c.Engine.RefreshInterval <= 0 {
		errs.Problems = append(errs.Problems, "engine.refresh_interval must be positive")
	}
	if c.Engine.FetchTimeout <= 0 {
		errs.Problems = append(errs.Problems, "engine.fetch_timeout must be positive")
	}
	if _, err := refresh.ParseStrategy(c.Engine.ConflictResolutionStrategy); err != nil {
		errs.Problems = append(errs.Problems, err.Error())
	}
	if c.Push.Enabled && c.Push.URL == "" {
		errs.Problems = append(errs.Problems, "push.url is required when push.enabled is true")
	}

	for name, d := range c.Engine.Intervals {
		if !refresh.Priority(strings.ToLower(name)).Known() || d <= 0 {
			errs.InvalidPriorities = append(errs.InvalidPriorities, fmt.Sprintf("%s=%s", name, d))
		}
	}

	transforms := make(map[string]bool, len(c.Transforms))
	for _, t := range c.Transforms {
		switch {
		case t.Name == "":
			errs.InvalidTransforms = append(errs.InvalidTransforms, "transform without a name")
		case transforms[t.Name]:
			errs.InvalidTransforms = append(errs.InvalidTransforms, fmt.Sprintf("%s: declared twice", t.Name))
		case len(t.Rename) == 0 && len(t.Pick) == 0 && len(t.Omit) == 0:
			errs.InvalidTransforms = append(errs.InvalidTransforms, fmt.Sprintf("%s: needs rename, pick or omit", t.Name))
		}
		transforms[t.Name] = true
	}

	for i, w := range c.Watches {
		if w.DataType == "" {
			errs.InvalidWatches = append(errs.InvalidWatches, InvalidWatch{Index: i, Reason: "data_type is required"})
		}
		if w.Priority != "" && !refresh.Priority(w.Priority).Known() {
			errs.InvalidWatches = append(errs.InvalidWatches, InvalidWatch{
				Index:  i,
				Reason: fmt.Sprintf("unknown priority %q (valid: %s)", w.Priority, strings.Join(ValidPriorities, ", ")),
			})
		}
		for _, r := range w.Rules {
			if !transforms[r] {
				errs.InvalidWatches = append(errs.InvalidWatches, InvalidWatch{
					Index:  i,
					Reason: fmt.Sprintf("rule %q is not declared under transforms", r),
				})
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
