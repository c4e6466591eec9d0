package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"novelkeeper/internal/progress"
)

// PrometheusSink exports import-pipeline metrics. It owns the collectors for
// task lifecycle counts and per-chapter fetch outcomes.
type PrometheusSink struct {
	tasksStarted   prometheus.Counter
	tasksCompleted *prometheus.CounterVec
	tasksRunning   prometheus.Gauge
	taskRuntime    *prometheus.HistogramVec

	chapters        *prometheus.CounterVec
	chapterDuration prometheus.Histogram
	chapterRetries  prometheus.Counter
	queueRefills    prometheus.Counter

	tracker *taskTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "import_tasks_started_total",
			Help: "Total import tasks that have started processing.",
		}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "import_tasks_completed_total",
			Help: "Total import tasks completed partitioned by result.",
		}, []string{"result"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "import_tasks_running",
			Help: "Current number of in-progress import tasks.",
		}),
		taskRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "import_task_runtime_seconds",
			Help:    "Wall time per finished import task.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		chapters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "import_chapters_total",
			Help: "Chapter imports partitioned by outcome.",
		}, []string{"outcome"}),
		chapterDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "import_chapter_duration_seconds",
			Help:    "Fetch-extract-store duration per chapter.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		chapterRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "import_chapter_retries_total",
			Help: "Chapter fetch retries.",
		}),
		queueRefills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "import_queue_refills_total",
			Help: "Queue refills from stored index pages.",
		}),
		tracker: newTaskTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksStarted,
		s.tasksCompleted,
		s.tasksRunning,
		s.taskRuntime,
		s.chapters,
		s.chapterDuration,
		s.chapterRetries,
		s.queueRefills,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch. It is safe for
// concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageTaskStart:
		s.tasksStarted.Inc()
		if s.tracker.start(evt.TaskID) {
			s.tasksRunning.Inc()
		}
	case progress.StageTaskDone:
		s.finishTask(evt, "success")
	case progress.StageTaskError:
		s.finishTask(evt, "error")
	case progress.StageChapterDone:
		s.chapters.WithLabelValues("imported").Inc()
		if evt.Dur > 0 {
			s.chapterDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageChapterError:
		s.chapters.WithLabelValues("failed").Inc()
	case progress.StageChapterRetry:
		s.chapterRetries.Inc()
	case progress.StageQueueRefill:
		s.queueRefills.Inc()
	}
}

func (s *PrometheusSink) finishTask(evt progress.Event, result string) {
	s.tasksCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.taskRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.TaskID) {
		s.tasksRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type taskTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newTaskTracker() *taskTracker {
	return &taskTracker{running: make(map[string]struct{})}
}

func (t *taskTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *taskTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
