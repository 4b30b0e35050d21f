package transform

import (
	"context"

	"github.com/dgnsrekt/refreshd/internal/errors"
)

// Definition is a declarative rule, typically read from config.
// Operations run in the order omit, rename, pick.
type Definition struct {
	Name   string
	Rename map[string]string
	Pick   []string
	Omit   []string
}

// Rule builds the rule described by d.
func (d Definition) Rule() (Rule, error) {
	var steps []Rule
	if len(d.Omit) > 0 {
		steps = append(steps, OmitFields(d.Omit...))
	}
	if len(d.Rename) > 0 {
		steps = append(steps, RenameFields(d.Rename))
	}
	if len(d.Pick) > 0 {
		steps = append(steps, PickFields(d.Pick...))
	}
	if len(steps) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "rule %q has no operations", d.Name)
	}
	return Chain(steps...), nil
}

// RegisterDefinitions registers every definition, stopping at the first
// invalid one.
func (p *Pipeline) RegisterDefinitions(defs []Definition) error {
	for _, d := range defs {
		rule, err := d.Rule()
		if err != nil {
			return err
		}
		if err := p.Register(d.Name, rule); err != nil {
			return err
		}
	}
	return nil
}

// RenameFields renames top-level keys of each record.
func RenameFields(mapping map[string]string) Rule {
	return recordRule(func(in map[string]any) map[string]any {
		out := make(map[string]any, len(in))
		for k, v := range in {
			if renamed, ok := mapping[k]; ok {
				out[renamed] = v
				continue
			}
			out[k] = v
		}
		return out
	})
}

// PickFields keeps only the listed keys of each record.
func PickFields(fields ...string) Rule {
	return recordRule(func(in map[string]any) map[string]any {
		out := make(map[string]any, len(fields))
		for _, f := range fields {
			if v, ok := in[f]; ok {
				out[f] = v
			}
		}
		return out
	})
}

// OmitFields drops the listed keys of each record.
func OmitFields(fields ...string) Rule {
	drop := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		drop[f] = struct{}{}
	}
	return recordRule(func(in map[string]any) map[string]any {
		out := make(map[string]any, len(in))
		for k, v := range in {
			if _, skip := drop[k]; !skip {
				out[k] = v
			}
		}
		return out
	})
}

// Chain runs rules in order, feeding each the previous output.
func Chain(rules ...Rule) Rule {
	return func(ctx context.Context, data any, rc Context) (any, error) {
		var err error
		for i, r := range rules {
			data, err = r(ctx, data, rc)
			if err != nil {
				return nil, errors.Wrapf(err, "step %d", i)
			}
		}
		return data, nil
	}
}

// recordRule lifts a per-record function to a Rule that accepts a single
// object or a list of objects. Non-object list elements pass through.
func recordRule(fn func(map[string]any) map[string]any) Rule {
	return func(_ context.Context, data any, _ Context) (any, error) {
		switch v := data.(type) {
		case map[string]any:
			return fn(v), nil
		case []any:
			out := make([]any, len(v))
			for i, item := range v {
				if rec, ok := item.(map[string]any); ok {
					out[i] = fn(rec)
					continue
				}
				out[i] = item
			}
			return out, nil
		case []map[string]any:
			out := make([]any, len(v))
			for i, rec := range v {
				out[i] = fn(rec)
			}
			return out, nil
		default:
			return nil, errors.Wrapf(ErrUnsupportedShape, "%T", data)
		}
	}
}
