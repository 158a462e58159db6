package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLock struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	released int
}

func (f *fakeLock) TryAcquire(_ context.Context, name string) (func(), bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	if f.held[name] {
		return nil, false, nil
	}
	f.held[name] = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.held[name] = false
		f.released++
	}, true, nil
}

func TestNewScheduler_ValidatesJobs(t *testing.T) {
	run := func(context.Context) error { return nil }
	tests := []struct {
		name string
		jobs []Job
	}{
		{"zero interval", []Job{{Name: "btc", Run: run}}},
		{"missing run", []Job{{Name: "btc", Interval: time.Second}}},
		{"duplicate", []Job{{Name: "btc", Interval: time.Second, Run: run}, {Name: "btc", Interval: time.Second, Run: run}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScheduler(SchedulerConfig{Logger: zap.NewNop(), Jobs: tt.jobs})
			assert.Error(t, err)
		})
	}
}

func TestScheduler_RunsImmediatelyAndOnInterval(t *testing.T) {
	var runs atomic.Int32
	s, err := NewScheduler(SchedulerConfig{
		Logger: zap.NewNop(),
		Jobs: []Job{{Name: "btc", Interval: 20 * time.Millisecond, Run: func(context.Context) error {
			runs.Add(1)
			return errors.New("ignored")
		}}},
	})
	require.NoError(t, err)

	stop := s.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	stop()

	after := runs.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestScheduler_TicksNeverOverlap(t *testing.T) {
	var active, maxActive atomic.Int32
	release := make(chan struct{})
	s, err := NewScheduler(SchedulerConfig{
		Logger: zap.NewNop(),
		Jobs: []Job{{Name: "eth", Interval: time.Millisecond, Run: func(ctx context.Context) error {
			n := active.Add(1)
			defer active.Add(-1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		}}},
	})
	require.NoError(t, err)

	stop := s.Start()
	require.Eventually(t, func() bool { return active.Load() == 1 }, time.Second, time.Millisecond)
	assert.False(t, s.RunNow("eth"))
	time.Sleep(20 * time.Millisecond)
	close(release)
	stop()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestScheduler_StopWaitsForInflightTick(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	s, err := NewScheduler(SchedulerConfig{
		Logger: zap.NewNop(),
		Jobs: []Job{{Name: "btc", Interval: time.Hour, Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			finished.Store(true)
			return ctx.Err()
		}}},
	})
	require.NoError(t, err)

	stop := s.Start()
	<-started
	stop()
	assert.True(t, finished.Load())
}

func TestScheduler_RunNow(t *testing.T) {
	var runs atomic.Int32
	s, err := NewScheduler(SchedulerConfig{
		Logger: zap.NewNop(),
		Jobs: []Job{{Name: "btc", Interval: time.Hour, Run: func(context.Context) error {
			runs.Add(1)
			return nil
		}}},
	})
	require.NoError(t, err)

	assert.True(t, s.RunNow("btc"))
	assert.False(t, s.RunNow("doge"))
	assert.Equal(t, int32(1), runs.Load())
}

func TestScheduler_DistributedLock(t *testing.T) {
	var runs atomic.Int32
	job := Job{Name: "btc", Interval: time.Hour, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}

	t.Run("held elsewhere skips", func(t *testing.T) {
		runs.Store(0)
		lock := &fakeLock{held: map[string]bool{"btc": true}}
		s, err := NewScheduler(SchedulerConfig{Logger: zap.NewNop(), Jobs: []Job{job}, Lock: lock})
		require.NoError(t, err)
		assert.False(t, s.RunNow("btc"))
		assert.Zero(t, runs.Load())
	})

	t.Run("acquired runs and releases", func(t *testing.T) {
		runs.Store(0)
		lock := &fakeLock{held: map[string]bool{}}
		s, err := NewScheduler(SchedulerConfig{Logger: zap.NewNop(), Jobs: []Job{job}, Lock: lock})
		require.NoError(t, err)
		assert.True(t, s.RunNow("btc"))
		assert.Equal(t, int32(1), runs.Load())
		assert.Equal(t, 1, lock.released)
		assert.False(t, lock.held["btc"])
	})

	t.Run("lock error skips", func(t *testing.T) {
		runs.Store(0)
		lock := &fakeLock{held: map[string]bool{}, err: errors.New("redis down")}
		s, err := NewScheduler(SchedulerConfig{Logger: zap.NewNop(), Jobs: []Job{job}, Lock: lock})
		require.NoError(t, err)
		assert.False(t, s.RunNow("btc"))
		assert.Zero(t, runs.Load())
	})
}
