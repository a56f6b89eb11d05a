package schedule

import (
	"context"
	"fmt"
	"sync"
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

type Scheduler interface {
	AddJob(job Job, spec string) error
	Start(ctx context.Context)
	Stop()
}

// CronScheduler runs maintenance jobs on five-field cron specs. A job whose
// previous run is still going is skipped, never stacked.
type CronScheduler struct {
	cron *cron.Cron

	mu   sync.Mutex
	ctx  context.Context
	jobs map[string]*entry
}

type entry struct {
	job     Job
	spec    string
	running atomic.Bool
}

func NewCronScheduler() *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &CronScheduler{
		cron: cron.New(cron.WithParser(parser)),
		ctx:  context.Background(),
		jobs: make(map[string]*entry),
	}
}

func (c *CronScheduler) AddJob(job Job, spec string) error {
	logger := logutil.GetLogger(context.Background()).With(zap.String("job", job.Name()), zap.String("spec", spec))
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[job.Name()]; ok {
		return fmt.Errorf("job %s already scheduled", job.Name())
	}
	e := &entry{job: job, spec: spec}
	if _, err := c.cron.AddFunc(spec, func() { c.run(e) }); err != nil {
		logger.Error("schedule job failed", zap.Error(err))
		return err
	}
	c.jobs[job.Name()] = e
	logger.Info("job scheduled")
	return nil
}

func (c *CronScheduler) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	c.cron.Start()
}

func (c *CronScheduler) Stop() {
	<-c.cron.Stop().Done()
}

// RunNow triggers a scheduled job outside its spec and reports whether it
// actually ran.
func (c *CronScheduler) RunNow(name string) (bool, error) {
	c.mu.Lock()
	e, ok := c.jobs[name]
	c.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("job %s not scheduled", name)
	}
	return c.run(e)
}

func (c *CronScheduler) run(e *entry) (bool, error) {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	logger := logutil.GetLogger(ctx).With(zap.String("job", e.job.Name()), zap.String("spec", e.spec))
	if !e.running.CompareAndSwap(false, true) {
		logger.Info("job skipped: still running")
		return false, nil
	}
	defer e.running.Store(false)

	start := time.Now()
	logger.Info("job started")
	err := e.job.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("job finished", zap.Error(err), zap.Duration("duration", elapsed))
		return true, err
	}
	logger.Info("job finished", zap.Duration("duration", elapsed))
	return true, nil
}
