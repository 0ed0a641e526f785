// Package scheduler runs periodic maintenance tasks on cron expressions.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is a unit of periodic work. The context carries the task timeout.
type Task func(ctx context.Context) error

// Scheduler wraps a cron runner that skips overlapping runs.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration
}

// New constructs a scheduler. Each run is bounded by timeout.
func New(logger *zap.Logger, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 4 * time.Minute
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger:  logger,
		timeout: timeout,
	}
}

// Register schedules task under name using a standard cron spec or a
// descriptor such as "@hourly".
func (s *Scheduler) Register(name, spec string, task Task) error {
	_, err := s.cron.AddFunc(spec, func() { s.run(name, task) })
	if err != nil {
		return err
	}
	s.logger.Info("scheduler: task registered", zap.String("task", name), zap.String("spec", spec))
	return nil
}

func (s *Scheduler) run(name string, task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	if err := task(ctx); err != nil {
		s.logger.Error("scheduler: task failed", zap.String("task", name), zap.Error(err))
		return
	}
	s.logger.Debug("scheduler: task completed", zap.String("task", name), zap.Duration("took", time.Since(start)))
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running ones until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
