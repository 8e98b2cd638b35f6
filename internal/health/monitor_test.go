// ABOUTME: Tests for the health monitor loop: cycles, panic containment, stop.

package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPool struct {
	mu       sync.Mutex
	reaps    int
	probes   int
	probeErr error
	panics   int
}

func (s *stubPool) Name() string { return "stub" }

func (s *stubPool) ReapExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reaps++
	if s.panics > 0 {
		s.panics--
		panic("reap exploded")
	}
	return 1
}

func (s *stubPool) ProbeIdle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes++
	return s.probeErr
}

func (s *stubPool) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reaps, s.probes
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMonitor_RunsCycles(t *testing.T) {
	pool := &stubPool{}
	m := NewMonitor(pool, 10*time.Millisecond, testLogger())
	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool {
		reaps, probes := pool.counts()
		return reaps >= 2 && probes >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_ProbeFailureDoesNotStopLoop(t *testing.T) {
	pool := &stubPool{probeErr: errors.New("probe failed")}
	m := NewMonitor(pool, 10*time.Millisecond, testLogger())
	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool {
		_, probes := pool.counts()
		return probes >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_RecoversFromPanic(t *testing.T) {
	pool := &stubPool{panics: 1}
	m := NewMonitor(pool, 10*time.Millisecond, testLogger())
	m.Start()
	defer m.Stop()

	// The first cycle panics in ReapExpired; later cycles still probe.
	require.Eventually(t, func() bool {
		_, probes := pool.counts()
		return probes >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_Stop_Idempotent(t *testing.T) {
	pool := &stubPool{}
	m := NewMonitor(pool, 10*time.Millisecond, testLogger())
	m.Start()

	m.Stop()
	m.Stop()

	reaps, _ := pool.counts()
	time.Sleep(30 * time.Millisecond)
	after, _ := pool.counts()
	assert.Equal(t, reaps, after, "no cycles after Stop")
}
