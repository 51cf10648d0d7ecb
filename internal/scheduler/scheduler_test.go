package scheduler

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestSchedulerLifecycle(t *testing.T) {
	s := New(testLog())
	require.NoError(t, s.AddJob("noop", "@every 1h", func() {}))

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	next, ok := s.NextRun("noop")
	require.True(t, ok)
	assert.True(t, next.After(time.Now()))

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestSchedulerStartWithoutJobs(t *testing.T) {
	s := New(testLog())
	assert.Error(t, s.Start())
}

func TestSchedulerDoubleStart(t *testing.T) {
	s := New(testLog())
	require.NoError(t, s.AddJob("noop", "@every 1h", func() {}))
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Error(t, s.Start())
}

func TestSchedulerRejectsDuplicateJob(t *testing.T) {
	s := New(testLog())
	require.NoError(t, s.AddJob("sweep", "@every 60s", func() {}))
	assert.Error(t, s.AddJob("sweep", "@every 90s", func() {}))
}

func TestSchedulerRejectsJobWhileRunning(t *testing.T) {
	s := New(testLog())
	require.NoError(t, s.AddJob("noop", "@every 1h", func() {}))
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Error(t, s.AddJob("late", "@every 1h", func() {}))
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := New(testLog())
	assert.Error(t, s.AddJob("bad", "every minute or so", func() {}))
}

func TestSchedulerStopWhenNotRunning(t *testing.T) {
	s := New(testLog())
	assert.NoError(t, s.Stop())
}

func TestSchedulerEntries(t *testing.T) {
	s := New(testLog())
	require.NoError(t, s.AddJob("sweep", "@every 60s", func() {}))
	require.NoError(t, s.AddJob("retention", "0 10 * * *", func() {}))

	entries := s.Entries()
	assert.Len(t, entries, 2)
	assert.Contains(t, entries, "sweep")
	assert.Contains(t, entries, "retention")

	_, ok := s.NextRun("nobody")
	assert.False(t, ok)
}

func TestSchedulerRunsJob(t *testing.T) {
	s := New(testLog())
	fired := make(chan struct{}, 1)
	require.NoError(t, s.AddJob("tick", "@every 10ms", func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}))

	require.NoError(t, s.Start())
	defer s.Stop()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled job never fired")
	}
}
