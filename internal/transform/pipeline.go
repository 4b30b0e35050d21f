// Package transform holds the named transformation rules applied to fetched
// data before it is delivered to subscribers.
package transform

import (
	"context"
	"sort"
	"sync"

	"github.com/dgnsrekt/refreshd/internal/errors"
)

var (
	ErrRuleNotFound     = errors.New("transformation rule not found")
	ErrUnsupportedShape = errors.New("unsupported data shape")
)

// Context describes who the data is being shaped for.
type Context struct {
	DataType  string
	UserID    string
	SessionID string
}

// Rule reshapes data. Rules must not mutate their input: the same value may
// be held by the cache and by other subscribers.
type Rule func(ctx context.Context, data any, rc Context) (any, error)

// Pipeline is a registry of rules keyed by name.
type Pipeline struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

func NewPipeline() *Pipeline {
	return &Pipeline{rules: make(map[string]Rule)}
}

// Register adds or replaces a rule.
func (p *Pipeline) Register(name string, rule Rule) error {
	if name == "" {
		return errors.Wrap(errors.ErrInvalidRequest, "rule name required")
	}
	if rule == nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "rule %q is nil", name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules[name] = rule
	return nil
}

// Apply runs the named rule against data.
func (p *Pipeline) Apply(ctx context.Context, name string, data any, rc Context) (any, error) {
	p.mu.RLock()
	rule, ok := p.rules[name]
	p.mu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(ErrRuleNotFound, "rule %q", name)
	}
	out, err := rule(ctx, data, rc)
	if err != nil {
		return nil, errors.Wrapf(err, "rule %q", name)
	}
	return out, nil
}

// Has reports whether a rule is registered under name.
func (p *Pipeline) Has(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.rules[name]
	return ok
}

// Names returns registered rule names in sorted order.
func (p *Pipeline) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.rules))
	for name := range p.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
