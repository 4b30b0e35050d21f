package config

import "github.com/dgnsrekt/refreshd/internal/refresh"

// TransformConfig declares a field-reshaping rule by name.
type TransformConfig struct {
	Name   string            `mapstructure:"name"`
	Rename map[string]string `mapstructure:"rename"`
	Pick   []string          `mapstructure:"pick"`
	Omit   []string          `mapstructure:"omit"`
}

// WatchConfig is a subscription the daemon opens at startup.
type WatchConfig struct {
	DataType  string   `mapstructure:"data_type"`
	Priority  string   `mapstructure:"priority"`
	Rules     []string `mapstructure:"rules"`
	UserID    string   `mapstructure:"user_id"`
	SessionID string   `mapstructure:"session_id"`
}

// Options converts the watch into subscription options.
func (w WatchConfig) Options() refresh.SubscribeOptions {
	return refresh.SubscribeOptions{
		Priority:       refresh.Priority(w.Priority),
		TransformRules: w.Rules,
		UserID:         w.UserID,
		SessionID:      w.SessionID,
	}
}

// ValidPriorities lists the priority tier names, in cadence order.
var ValidPriorities = []string{
	string(refresh.PriorityCritical),
	string(refresh.PriorityImportant),
	string(refresh.PriorityNormal),
	string(refresh.PriorityLow),
}
