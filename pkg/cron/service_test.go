package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddJobRejectsBadSchedule(t *testing.T) {
	s := NewService()
	_, err := s.AddJob("sweep", "not a schedule", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Empty(t, s.ListJobs())
}

func TestRunNowRecordsState(t *testing.T) {
	s := NewService()
	calls := 0
	fn := func(context.Context) error {
		calls++
		if calls == 2 {
			return errors.New("boom")
		}
		return nil
	}
	job, err := s.AddJob("sweep", "@every 10m", fn)
	require.NoError(t, err)

	s.RunNow(job.ID, fn)
	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "ok", jobs[0].State.LastStatus)
	assert.Equal(t, 1, jobs[0].State.Runs)

	s.RunNow(job.ID, fn)
	jobs = s.ListJobs()
	assert.Equal(t, "error", jobs[0].State.LastStatus)
	assert.Equal(t, "boom", jobs[0].State.LastError)
	assert.Equal(t, 2, jobs[0].State.Runs)
}

func TestRunNowRecoversPanic(t *testing.T) {
	s := NewService()
	fn := func(context.Context) error { panic("bad job") }
	job, err := s.AddJob("sweep", "@hourly", fn)
	require.NoError(t, err)

	assert.NotPanics(t, func() { s.RunNow(job.ID, fn) })
	assert.Equal(t, "panic: bad job", s.ListJobs()[0].State.LastError)
}

func TestRemoveJob(t *testing.T) {
	s := NewService()
	job, err := s.AddJob("sweep", "*/5 * * * *", func(context.Context) error { return nil })
	require.NoError(t, err)

	assert.True(t, s.RemoveJob(job.ID))
	assert.False(t, s.RemoveJob(job.ID))
	assert.Empty(t, s.ListJobs())
}

func TestStartStop(t *testing.T) {
	s := NewService()
	_, err := s.AddJob("sweep", "@every 1h", func(context.Context) error { return nil })
	require.NoError(t, err)

	s.Start()
	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].State.NextRunAt.IsZero())
	s.Stop(context.Background())
}
