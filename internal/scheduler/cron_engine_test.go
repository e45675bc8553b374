package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context) error { return nil }

func TestCronEngine_AddJob(t *testing.T) {
	engine := NewCronEngine(nil, logr.Discard())
	assert.Equal(t, time.UTC, engine.location)

	require.NoError(t, engine.AddJob(Job{ID: "digest", Name: "Digest", Schedule: "0 18 * * *", Run: noop}))
	assert.Len(t, engine.cron.Entries(), 1)

	status := engine.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "Digest", status[0].Name)
	assert.Equal(t, 18, status[0].NextRun.Hour())
	assert.True(t, status[0].LastRun.IsZero())

	err := engine.AddJob(Job{ID: "digest", Schedule: "@every 1m", Run: noop})
	assert.ErrorContains(t, err, "already exists")
}

func TestCronEngine_AddJob_Invalid(t *testing.T) {
	engine := NewCronEngine(nil, logr.Discard())

	tests := []struct {
		name string
		job  Job
	}{
		{"empty schedule", Job{ID: "a", Run: noop}},
		{"prose schedule", Job{ID: "b", Schedule: "every minute", Run: noop}},
		{"minute out of range", Job{ID: "c", Schedule: "60 * * * *", Run: noop}},
		{"four fields", Job{ID: "d", Schedule: "* * * *", Run: noop}},
		{"no id", Job{Schedule: "@every 1m", Run: noop}},
		{"no run func", Job{ID: "e", Schedule: "@every 1m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, engine.AddJob(tt.job))
		})
	}
	assert.Empty(t, engine.Status())
}

func TestCronEngine_RunNowRetries(t *testing.T) {
	engine := NewCronEngine(nil, logr.Discard())

	var calls int32
	require.NoError(t, engine.AddJob(Job{
		ID:       "reindex",
		Schedule: "@every 1h",
		Retries:  2,
		Backoff:  time.Millisecond,
		Run: func(ctx context.Context) error {
			if n := atomic.AddInt32(&calls, 1); n < 3 {
				return fmt.Errorf("embedding API timeout on attempt %d", n)
			}
			return nil
		},
	}))

	require.NoError(t, engine.RunNow("reindex"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	st := engine.Status()[0]
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, 0, st.Failures)
	assert.Empty(t, st.LastError)
	assert.False(t, st.LastRun.IsZero())

	assert.ErrorContains(t, engine.RunNow("missing"), "not found")
}

func TestCronEngine_RunNowGivesUp(t *testing.T) {
	engine := NewCronEngine(nil, logr.Discard())
	boom := errors.New("redis unavailable")

	var calls int32
	require.NoError(t, engine.AddJob(Job{
		ID:       "reaper",
		Schedule: "@every 1m",
		Retries:  1,
		Backoff:  time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return boom
		},
	}))

	assert.ErrorIs(t, engine.RunNow("reaper"), boom)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	st := engine.Status()[0]
	assert.Equal(t, 1, st.Failures)
	assert.Equal(t, "redis unavailable", st.LastError)
}

func TestCronEngine_StopCancelsJobs(t *testing.T) {
	engine := NewCronEngine(nil, logr.Discard())

	started := make(chan struct{})
	var once sync.Once
	require.NoError(t, engine.AddJob(Job{
		ID:       "slow",
		Schedule: "@every 1s",
		Run: func(ctx context.Context) error {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return ctx.Err()
		},
	}))
	engine.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}

	done := make(chan struct{})
	go func() {
		engine.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return after cancelling the running job")
	}
}

func TestCronEngine_StatusOrdered(t *testing.T) {
	engine := NewCronEngine(nil, logr.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, engine.AddJob(Job{ID: fmt.Sprintf("job-%02d", i), Schedule: "@every 1m", Run: noop}))
		}(i)
	}
	wg.Wait()

	status := engine.Status()
	require.Len(t, status, 20)
	for i, st := range status {
		assert.Equal(t, fmt.Sprintf("job-%02d", i), st.ID)
	}
}

func TestParseCronExpression(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 18 * * *", false},
		{"@every 1m", false},
		{"@daily", false},
		{"*/15 * * * *", false},
		{"", true},
		{"every minute", true},
		{"0 25 * * *", true},
	}

	for _, tt := range tests {
		err := ParseCronExpression(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCronExpression(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}
