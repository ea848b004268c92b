package schedule

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Observer is told about every finished job run.
type Observer func(job string, elapsed time.Duration, err error)

type Scheduler interface {
	AddJob(job Job, spec string) error
	Start(ctx context.Context)
	Stop()
}

type CronScheduler struct {
	cron     *cron.Cron
	entries  map[string]cron.EntryID
	observer Observer
	ctx      context.Context
}

type Option func(*CronScheduler)

func WithObserver(o Observer) Option {
	return func(c *CronScheduler) {
		c.observer = o
	}
}

func NewCronScheduler(opts ...Option) *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := &CronScheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CronScheduler) AddJob(job Job, spec string) error {
	name := job.Name()
	logger := logutil.GetLogger(context.Background()).With(zap.String("job", name), zap.String("spec", spec))
	if old, ok := c.entries[name]; ok {
		c.cron.Remove(old)
	}
	entryID, err := c.cron.AddFunc(spec, c.wrap(job, spec))
	if err != nil {
		logger.Error("schedule job failed", zap.Error(err))
		return err
	}
	c.entries[name] = entryID
	logger.Info("job scheduled")
	return nil
}

func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx = ctx
	c.cron.Start()
}

// Stop waits for running jobs to return.
func (c *CronScheduler) Stop() {
	<-c.cron.Stop().Done()
}

func (c *CronScheduler) wrap(job Job, spec string) func() {
	var running atomic.Bool
	return func() {
		if !running.CompareAndSwap(false, true) {
			logutil.GetLogger(context.Background()).Info("job skipped: still running",
				zap.String("job", job.Name()), zap.String("spec", spec))
			return
		}
		defer running.Store(false)
		c.runOnce(job, spec)
	}
}

func (c *CronScheduler) runOnce(job Job, spec string) {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logutil.GetLogger(ctx).With(zap.String("job", job.Name()), zap.String("spec", spec))
	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)
	if c.observer != nil {
		c.observer(job.Name(), elapsed, err)
	}
	if err != nil {
		logger.Error("job failed", zap.Error(err), zap.Duration("duration", elapsed))
		return
	}
	logger.Debug("job finished", zap.Duration("duration", elapsed))
}
