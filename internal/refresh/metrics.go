package refresh

import (
	"sort"
	"sync"
	"time"
)

// PerformanceMetrics accumulates for the life of the process.
//
// AverageTimeMs is a running mean over every attempt and never decays, so an
// early slowdown stays in the figure. SuccessRate and ConflictRate are
// cumulative ratios, not instantaneous rates.
type PerformanceMetrics struct {
	DataType       string    `json:"dataType"`
	TotalRefreshes uint64    `json:"totalRefreshes"`
	Successes      uint64    `json:"successes"`
	Failures       uint64    `json:"failures"`
	AverageTimeMs  float64   `json:"averageTimeMs"`
	SuccessRate    float64   `json:"successRate"`
	Confirmations  uint64    `json:"confirmations"`
	Conflicted     uint64    `json:"conflicted"`
	ConflictRate   float64   `json:"conflictRate"`
	LastRefresh    time.Time `json:"lastRefresh"`
}

// Metrics collects per-data-type refresh counters.
type Metrics struct {
	mu     sync.RWMutex
	byType map[string]*PerformanceMetrics
	now    func() time.Time
}

func NewMetrics(now func() time.Time) *Metrics {
	if now == nil {
		now = time.Now
	}
	return &Metrics{
		byType: make(map[string]*PerformanceMetrics),
		now:    now,
	}
}

// Record adds one refresh attempt.
func (m *Metrics) Record(dataType string, elapsed time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pm := m.entry(dataType)
	pm.TotalRefreshes++
	if success {
		pm.Successes++
	} else {
		pm.Failures++
	}

	n := float64(pm.TotalRefreshes)
	ms := float64(elapsed) / float64(time.Millisecond)
	pm.AverageTimeMs = (pm.AverageTimeMs*(n-1) + ms) / n
	pm.SuccessRate = float64(pm.Successes) / n
	pm.LastRefresh = m.now()
}

// RecordConfirmation adds one optimistic confirmation.
func (m *Metrics) RecordConfirmation(dataType string, hadConflicts bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pm := m.entry(dataType)
	pm.Confirmations++
	if hadConflicts {
		pm.Conflicted++
	}
	pm.ConflictRate = float64(pm.Conflicted) / float64(pm.Confirmations)
}

// Get returns a copy of the metrics for dataType.
func (m *Metrics) Get(dataType string) (PerformanceMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pm, ok := m.byType[dataType]
	if !ok {
		return PerformanceMetrics{DataType: dataType}, false
	}
	return *pm, true
}

// All returns a copy of every data type's metrics, sorted by data type.
func (m *Metrics) All() []PerformanceMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]PerformanceMetrics, 0, len(m.byType))
	for _, pm := range m.byType {
		out = append(out, *pm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DataType < out[j].DataType })
	return out
}

// Totals aggregates every data type into one figure. The average is weighted
// by attempt count.
func (m *Metrics) Totals() PerformanceMetrics {
	total := PerformanceMetrics{DataType: "*"}
	var weighted float64

	for _, pm := range m.All() {
		total.TotalRefreshes += pm.TotalRefreshes
		total.Successes += pm.Successes
		total.Failures += pm.Failures
		total.Confirmations += pm.Confirmations
		total.Conflicted += pm.Conflicted
		weighted += pm.AverageTimeMs * float64(pm.TotalRefreshes)
		if pm.LastRefresh.After(total.LastRefresh) {
			total.LastRefresh = pm.LastRefresh
		}
	}

	if total.TotalRefreshes > 0 {
		total.AverageTimeMs = weighted / float64(total.TotalRefreshes)
		total.SuccessRate = float64(total.Successes) / float64(total.TotalRefreshes)
	}
	if total.Confirmations > 0 {
		total.ConflictRate = float64(total.Conflicted) / float64(total.Confirmations)
	}
	return total
}

func (m *Metrics) entry(dataType string) *PerformanceMetrics {
	pm, ok := m.byType[dataType]
	if !ok {
		pm = &PerformanceMetrics{DataType: dataType}
		m.byType[dataType] = pm
	}
	return pm
}
