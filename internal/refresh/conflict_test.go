package refresh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dgnsrekt/refreshd/internal/errors"
)

func TestReconcile_Strategies(t *testing.T) {
	clientAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	update := OptimisticUpdate{
		ID:        "u1",
		DataType:  "profile",
		Data:      map[string]any{"name": "client", "theme": "dark", "draft": true},
		Timestamp: clientAt,
	}
	server := map[string]any{"name": "server", "theme": "dark", "version": 2}

	tests := []struct {
		name       string
		strategy   Strategy
		serverTime time.Time
		want       map[string]any
		resolution Resolution
	}{
		{
			name:       "server wins",
			strategy:   StrategyServerWins,
			serverTime: clientAt,
			want:       map[string]any{"name": "server", "theme": "dark", "version": 2},
			resolution: ResolutionAccepted,
		},
		{
			name:       "client wins",
			strategy:   StrategyClientWins,
			serverTime: clientAt,
			want:       map[string]any{"name": "client", "theme": "dark", "version": 2, "draft": true},
			resolution: ResolutionRejected,
		},
		{
			name:       "merge overlays server on client",
			strategy:   StrategyMerge,
			serverTime: clientAt,
			want:       map[string]any{"name": "server", "theme": "dark", "version": 2, "draft": true},
			resolution: ResolutionMerged,
		},
		{
			name:       "timestamp with newer server",
			strategy:   StrategyTimestamp,
			serverTime: clientAt.Add(time.Second),
			want:       map[string]any{"name": "server", "theme": "dark", "version": 2},
			resolution: ResolutionAccepted,
		},
		{
			name:       "timestamp with newer client",
			strategy:   StrategyTimestamp,
			serverTime: clientAt.Add(-time.Second),
			want:       map[string]any{"name": "client", "theme": "dark", "version": 2, "draft": true},
			resolution: ResolutionRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := reconcile(tt.strategy, update, server, tt.serverTime)
			assert.Equal(t, tt.want, rec.Data)

			require.Len(t, rec.Conflicts, 1)
			c := rec.Conflicts[0]
			assert.Equal(t, "name", c.Path)
			assert.Equal(t, "server", c.ServerValue)
			assert.Equal(t, "client", c.ClientValue)
			assert.Equal(t, tt.resolution, c.Resolution)
			assert.Equal(t, clientAt, c.Timestamp.Client)
			assert.Equal(t, tt.serverTime, c.Timestamp.Server)
		})
	}
}

func TestReconcile_NestedValuesCompareDeeply(t *testing.T) {
	update := OptimisticUpdate{Data: map[string]any{
		"tags":  []any{"a", "b"},
		"prefs": map[string]any{"x": 1},
	}}
	server := map[string]any{
		"tags":  []any{"a", "b"},
		"prefs": map[string]any{"x": 2},
	}

	rec := reconcile(StrategyServerWins, update, server, time.Now())
	require.Len(t, rec.Conflicts, 1)
	assert.Equal(t, "prefs", rec.Conflicts[0].Path)
}

func TestLedger_ConfirmHoldsConflictsForNextDelivery(t *testing.T) {
	metrics := NewMetrics(nil)
	l := NewLedger(StrategyServerWins, true, metrics, nil, zaptest.NewLogger(t))
	defer l.Close()

	input := map[string]any{"a": 1, "b": 2}
	id, err := l.Apply("items", input, "u1", time.Minute)
	require.NoError(t, err)
	input["a"] = 99

	pending, ok := l.Get(id)
	require.True(t, ok)
	assert.Equal(t, 1, pending.Data["a"])
	assert.False(t, pending.IsConfirmed)

	rec, err := l.Confirm(id, map[string]any{"a": 1, "b": 3})
	require.NoError(t, err)
	assert.Equal(t, id, rec.UpdateID)
	assert.Equal(t, "items", rec.DataType)
	require.Len(t, rec.Conflicts, 1)

	assert.Zero(t, l.Len())
	assert.Len(t, l.TakeConflicts("items"), 1)
	assert.Empty(t, l.TakeConflicts("items"))

	pm, _ := metrics.Get("items")
	assert.Equal(t, uint64(1), pm.Confirmations)
	assert.Equal(t, uint64(1), pm.Conflicted)
}

func TestLedger_ResolutionDisabled(t *testing.T) {
	l := NewLedger(StrategyClientWins, false, nil, nil, zaptest.NewLogger(t))
	defer l.Close()

	id, err := l.Apply("items", map[string]any{"a": 1}, "", time.Minute)
	require.NoError(t, err)

	rec, err := l.Confirm(id, map[string]any{"a": 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 2}, rec.Data)
	assert.Empty(t, rec.Conflicts)
	assert.Empty(t, l.TakeConflicts("items"))
}

func TestLedger_ExpiresAfterTimeout(t *testing.T) {
	l := NewLedger(StrategyServerWins, true, nil, nil, zaptest.NewLogger(t))
	defer l.Close()

	id, err := l.Apply("items", map[string]any{"a": 1}, "", 20*time.Millisecond)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok := l.Get(id)
		return !ok
	}, time.Second, 5*time.Millisecond)

	_, err = l.Confirm(id, map[string]any{})
	assert.True(t, errors.Is(err, ErrUpdateNotFound))
}

func TestLedger_ApplyValidation(t *testing.T) {
	l := NewLedger(StrategyServerWins, true, nil, nil, zaptest.NewLogger(t))
	defer l.Close()

	_, err := l.Apply("", map[string]any{}, "", time.Second)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = l.Apply("items", map[string]any{}, "", -time.Second)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []string{"server-wins", "client-wins", "merge", "timestamp"} {
		got, err := ParseStrategy(s)
		require.NoError(t, err)
		assert.Equal(t, Strategy(s), got)
	}

	_, err := ParseStrategy("newest")
	assert.ErrorContains(t, err, "invalid conflict resolution strategy")
}

func TestLedger_MergeKeepsServerValue(t *testing.T) {
	l := NewLedger(StrategyMerge, true, nil, nil, zaptest.NewLogger(t))
	defer l.Close()

	id, err := l.Apply("items", map[string]any{"a": 1, "b": 2}, "", time.Minute)
	require.NoError(t, err)

	rec, err := l.Confirm(id, map[string]any{"a": 1, "b": 9})
	require.NoError(t, err)
	require.Len(t, rec.Conflicts, 1)
	assert.Equal(t, "b", rec.Conflicts[0].Path)
	assert.Equal(t, ResolutionMerged, rec.Conflicts[0].Resolution)
	assert.Equal(t, 9, rec.Data["b"])
}
