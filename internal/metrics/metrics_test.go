// ABOUTME: Tests for metrics snapshots and status classification.

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSource map[string]Snapshot

func (m mapSource) Snapshot(target string) (Snapshot, bool) {
	s, ok := m[target]
	return s, ok
}

func (m mapSource) SnapshotAll() map[string]Snapshot { return m }

func TestPoolStats_Snapshot(t *testing.T) {
	var stats PoolStats
	stats.Hits.Add(3)
	stats.Misses.Add(1)
	stats.Fallbacks.Add(2)
	stats.CurrentSize.Store(4)
	stats.InUse.Store(2)

	snap := stats.Snapshot()
	assert.Equal(t, int64(3), snap.Hits)
	assert.Equal(t, int64(1), snap.Misses)
	assert.Equal(t, int64(2), snap.Fallbacks)
	assert.Equal(t, int64(4), snap.CurrentSize)
	assert.Equal(t, int64(2), snap.InUse)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		want Status
	}{
		{
			name: "nominal pool",
			snap: Snapshot{Hits: 100, MaxSize: 10, InUse: 3, BreakerState: "closed"},
			want: StatusHealthy,
		},
		{
			name: "breaker open",
			snap: Snapshot{BreakerState: "open"},
			want: StatusCritical,
		},
		{
			name: "breaker half-open",
			snap: Snapshot{BreakerState: "half-open"},
			want: StatusCritical,
		},
		{
			name: "near capacity",
			snap: Snapshot{MaxSize: 10, InUse: 10, BreakerState: "closed"},
			want: StatusWarning,
		},
		{
			name: "elevated error rate",
			snap: Snapshot{Hits: 8, ConnectionErrors: 2, MaxSize: 10, BreakerState: "closed"},
			want: StatusWarning,
		},
		{
			name: "no traffic yet",
			snap: Snapshot{MaxSize: 10, BreakerState: "closed"},
			want: StatusHealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.snap))
		})
	}
}

func TestCollector_Status_WorstOf(t *testing.T) {
	src := mapSource{
		"a": {Hits: 10, MaxSize: 10, InUse: 1, BreakerState: "closed"},
		"b": {MaxSize: 10, InUse: 10, BreakerState: "closed"},
	}
	c := NewCollector(src, nil)
	assert.Equal(t, StatusWarning, c.Status())

	src["c"] = Snapshot{BreakerState: "open"}
	assert.Equal(t, StatusCritical, c.Status())
}

func TestCollector_Status_AllHealthy(t *testing.T) {
	src := mapSource{
		"a": {Hits: 10, MaxSize: 10, InUse: 1, BreakerState: "closed"},
	}
	c := NewCollector(src, nil)
	assert.Equal(t, StatusHealthy, c.Status())
}

func TestCollector_Snapshot_PassThrough(t *testing.T) {
	src := mapSource{"a": {Hits: 7, BreakerState: "closed"}}
	c := NewCollector(src, nil)

	snap, ok := c.Snapshot("a")
	require.True(t, ok)
	assert.Equal(t, int64(7), snap.Hits)

	_, ok = c.Snapshot("missing")
	assert.False(t, ok)

	all := c.SnapshotAll()
	assert.Len(t, all, 1)
}
