package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task outcomes recorded by AsynqMetricsMiddleware.
const (
	TaskSucceeded = "succeeded"
	TaskRetrying  = "retrying"
	TaskFailed    = "failed"
)

var (
	taskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvtor",
			Subsystem: "worker",
			Name:      "task_runs_total",
			Help:      "Task executions by type and outcome.",
		},
		[]string{"task_type", "outcome"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cvtor",
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "Task execution time including browser startup.",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"task_type"},
	)

	tasksRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cvtor",
			Subsystem: "worker",
			Name:      "tasks_running",
			Help:      "Tasks currently executing.",
		},
		[]string{"task_type"},
	)
)

// AsynqMetricsMiddleware times each task and tells a retried failure apart from a final one.
func AsynqMetricsMiddleware() asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			running := tasksRunning.WithLabelValues(task.Type())
			running.Inc()
			defer running.Dec()

			started := time.Now()
			err := next.ProcessTask(ctx, task)
			taskDuration.WithLabelValues(task.Type()).Observe(time.Since(started).Seconds())
			taskRuns.WithLabelValues(task.Type(), taskOutcome(ctx, err)).Inc()
			return err
		})
	}
}

func taskOutcome(ctx context.Context, err error) string {
	if err == nil {
		return TaskSucceeded
	}
	if errors.Is(err, asynq.SkipRetry) {
		return TaskFailed
	}
	retried, okRetried := asynq.GetRetryCount(ctx)
	limit, okLimit := asynq.GetMaxRetry(ctx)
	if okRetried && okLimit && retried >= limit {
		return TaskFailed
	}
	return TaskRetrying
}
