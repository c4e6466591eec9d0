package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"novelkeeper/internal/novel"
)

type countingProcessor struct {
	calls atomic.Int64
}

func (p *countingProcessor) ProcessQueue(context.Context, int, int, []string) novel.QueueSummary {
	p.calls.Add(1)
	return novel.QueueSummary{ProcessedTasks: 1}
}

func TestSchedulerInvokesProcessor(t *testing.T) {
	t.Parallel()

	proc := &countingProcessor{}
	s := New(proc, nil, Config{Interval: 10 * time.Millisecond, MaxTasks: 2, MaxChapters: 5})

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		return proc.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)
	s.Stop()

	after := proc.calls.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, after, proc.calls.Load())
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	t.Parallel()

	proc := &countingProcessor{}
	s := New(proc, nil, Config{Interval: time.Hour})

	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}
