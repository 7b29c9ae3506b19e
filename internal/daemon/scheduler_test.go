package daemon

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RejectsNonPositiveInterval(t *testing.T) {
	s, err := NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	_, err = s.ScheduleEvery("sync", 0, func() {})
	require.Error(t, err)
	_, err = s.ScheduleEvery("sync", -time.Second, func() {})
	require.Error(t, err)
}

func TestScheduler_StartsImmediately(t *testing.T) {
	s, err := NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	var calls atomic.Int32
	id, err := s.ScheduleEvery("sync", time.Hour, func() { calls.Add(1) })
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	s.Start()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	next, ok := s.NextRun("sync")
	require.True(t, ok)
	assert.True(t, next.After(time.Now()))
}

func TestScheduler_ReschedulingReplacesJob(t *testing.T) {
	s, err := NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	first, err := s.ScheduleEvery("sync", time.Hour, func() {})
	require.NoError(t, err)
	second, err := s.ScheduleEvery("sync", 2*time.Hour, func() {})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Len(t, s.scheduler.Jobs(), 1)

	_, ok := s.NextRun("other")
	assert.False(t, ok)
}
