// Package sched runs the in-process scheduled trigger. It is an alternative
// to an external cron hitting the /v1/cron/process endpoint and is disabled
// by default.
package sched

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"novelkeeper/internal/novel"
)

// QueueProcessor is the slice of the batch processor the scheduler drives.
type QueueProcessor interface {
	ProcessQueue(ctx context.Context, maxTasks, maxChapters int, taskIDs []string) novel.QueueSummary
}

// Config bounds each scheduled invocation.
type Config struct {
	Interval    time.Duration
	MaxTasks    int
	MaxChapters int
}

// Scheduler invokes the processor on a fixed interval until stopped.
type Scheduler struct {
	processor QueueProcessor
	logger    *zap.Logger
	cfg       Config

	stop    context.CancelFunc
	done    chan struct{}
	startMu sync.Mutex
	started bool
}

// New builds a Scheduler.
func New(processor QueueProcessor, logger *zap.Logger, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{processor: processor, logger: logger, cfg: cfg}
}

// Start launches the ticker loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.stop = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("max_tasks", s.cfg.MaxTasks),
		zap.Int("max_chapters", s.cfg.MaxChapters),
	)
}

// Stop cancels the loop and waits for the in-flight invocation to finish.
func (s *Scheduler) Stop() {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if !s.started {
		return
	}
	s.stop()
	<-s.done
	s.started = false
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary := s.processor.ProcessQueue(ctx, s.cfg.MaxTasks, s.cfg.MaxChapters, nil)
			if summary.ProcessedTasks > 0 {
				s.logger.Info("scheduled batch finished",
					zap.Int("processed_tasks", summary.ProcessedTasks),
					zap.Int("successful_chapters", summary.SuccessfulChapters),
					zap.Int("failed_chapters", summary.FailedChapters),
					zap.Int("pending_tasks", summary.TotalPendingTasks),
				)
			}
		}
	}
}
