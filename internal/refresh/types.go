package refresh

import (
	"time"

	"github.com/dgnsrekt/refreshd/internal/errors"
)

// Priority selects how often a subscription is refreshed.
type Priority string

const (
	PriorityCritical  Priority = "critical"
	PriorityImportant Priority = "important"
	PriorityNormal    Priority = "normal"
	PriorityLow       Priority = "low"
)

// DefaultIntervals is the refresh cadence per priority tier. It is a fixed
// policy, not derived from load.
var DefaultIntervals = map[Priority]time.Duration{
	PriorityCritical:  5 * time.Second,
	PriorityImportant: 15 * time.Second,
	PriorityNormal:    30 * time.Second,
	PriorityLow:       60 * time.Second,
}

// Known reports whether p is one of the four tiers.
func (p Priority) Known() bool {
	_, ok := DefaultIntervals[p]
	return ok
}

// Source identifies what triggered a delivery.
type Source string

const (
	SourceServerPush        Source = "server-push"
	SourcePolling           Source = "polling"
	SourceBackgroundRefresh Source = "background-refresh"
	SourceManual            Source = "manual"
)

// ChangeType describes how delivered data relates to the previous delivery.
type ChangeType string

const (
	ChangeAdded       ChangeType = "added"
	ChangeModified    ChangeType = "modified"
	ChangeRemoved     ChangeType = "removed"
	ChangeFullRefresh ChangeType = "full-refresh"
)

// Resolution records which side of a conflict was kept.
type Resolution string

const (
	ResolutionAccepted Resolution = "accepted" // server value kept
	ResolutionRejected Resolution = "rejected" // client value kept
	ResolutionMerged   Resolution = "merged"
)

// Strategy reconciles optimistic client data with server data.
type Strategy string

const (
	StrategyServerWins Strategy = "server-wins"
	StrategyClientWins Strategy = "client-wins"
	StrategyMerge      Strategy = "merge"
	StrategyTimestamp  Strategy = "timestamp"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case StrategyServerWins, StrategyClientWins, StrategyMerge, StrategyTimestamp:
		return st, nil
	default:
		return "", errors.Newf("invalid conflict resolution strategy %q (valid: server-wins, client-wins, merge, timestamp)", s)
	}
}

// Performance holds timings for one delivery.
type Performance struct {
	RefreshTime        time.Duration `json:"refreshTime"`
	TransformationTime time.Duration `json:"transformationTime"`
	TotalTime          time.Duration `json:"totalTime"`
}

// ConflictTimestamps are the write times of each side of a conflict.
type ConflictTimestamps struct {
	Server time.Time `json:"server"`
	Client time.Time `json:"client"`
}

// ConflictInfo describes one field where optimistic and server data diverged.
type ConflictInfo struct {
	Path        string             `json:"path"`
	ServerValue any                `json:"serverValue"`
	ClientValue any                `json:"clientValue"`
	Timestamp   ConflictTimestamps `json:"timestamp"`
	Resolution  Resolution         `json:"resolution"`
}

// Metadata accompanies every delivery. It is built once and never modified.
type Metadata struct {
	Source      Source         `json:"source"`
	Timestamp   time.Time      `json:"timestamp"`
	Version     string         `json:"version"`
	ChangeType  ChangeType     `json:"changeType"`
	Conflicts   []ConflictInfo `json:"conflicts,omitempty"`
	Performance Performance    `json:"performance"`
}

// Callback receives refreshed data. Callbacks for one subscription never run
// concurrently. A callback must not unsubscribe its own subscription
// synchronously.
type Callback func(data any, md Metadata)

// SubscribeOptions are the optional parts of a subscription.
type SubscribeOptions struct {
	Priority       Priority
	TransformRules []string
	UserID         string
	SessionID      string
}

// SubscriptionInfo is a read-only snapshot of a subscription.
type SubscriptionInfo struct {
	ID             string        `json:"id"`
	DataType       string        `json:"dataType"`
	Priority       Priority      `json:"priority"`
	Interval       time.Duration `json:"interval"`
	TransformRules []string      `json:"transformRules,omitempty"`
	UserID         string        `json:"userId,omitempty"`
	SessionID      string        `json:"sessionId,omitempty"`
	LastUpdate     time.Time     `json:"lastUpdate"`
	IsActive       bool          `json:"isActive"`
}

// OptimisticUpdate is a speculative client write awaiting confirmation.
type OptimisticUpdate struct {
	ID                  string         `json:"id"`
	DataType            string         `json:"dataType"`
	Data                map[string]any `json:"data"`
	Timestamp           time.Time      `json:"timestamp"`
	UserID              string         `json:"userId,omitempty"`
	IsConfirmed         bool           `json:"isConfirmed"`
	ConfirmationTimeout time.Duration  `json:"confirmationTimeout"`
}

// Reconciliation is the outcome of confirming an optimistic update.
type Reconciliation struct {
	UpdateID  string         `json:"updateId"`
	DataType  string         `json:"dataType"`
	Data      map[string]any `json:"data"`
	Conflicts []ConflictInfo `json:"conflicts"`
}

// PushUpdate is data the server sent without being asked.
type PushUpdate struct {
	DataType   string
	UserID     string
	Version    string
	ChangeType ChangeType
	Data       any
}

// QueueResult settles a queued delivery.
type QueueResult struct {
	Data any
	Err  error
}
