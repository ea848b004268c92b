package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingJob struct {
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestCronSchedulerRunsAndObserves(t *testing.T) {
	var (
		mu   sync.Mutex
		errs []error
	)
	s := NewCronScheduler(WithObserver(func(job string, elapsed time.Duration, err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}))
	boom := errors.New("boom")
	job := &countingJob{err: boom}
	require.NoError(t, s.AddJob(job, "@every 1s"))
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return job.runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) >= 1 && errors.Is(errs[0], boom)
	}, time.Second, 10*time.Millisecond)
}

func TestCronSchedulerRejectsBadSpec(t *testing.T) {
	s := NewCronScheduler()
	require.Error(t, s.AddJob(&countingJob{}, "not a spec"))
}

func TestWrapSkipsOverlappingRuns(t *testing.T) {
	s := NewCronScheduler()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	job := &blockingJob{started: started, release: release}
	run := s.wrap(job, "manual")

	done := make(chan struct{})
	go func() {
		run()
		close(done)
	}()
	<-started
	run()
	close(release)
	<-done
	require.Equal(t, int32(1), job.runs.Load())
}

type blockingJob struct {
	runs    atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (j *blockingJob) Name() string { return "blocking" }

func (j *blockingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	j.started <- struct{}{}
	<-j.release
	return nil
}
