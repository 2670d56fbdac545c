// Package metrics exposes dispatcher and transport metrics to Prometheus.
//
// The Collector owns a private registry. It is fed through hooks: wrap the
// SubmitFunc with Track, subscribe QueueListener to the dispatcher, pass
// OnRetry and OnCall to the remote client and chain Monitor into the
// dispatcher's monitoring sink.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/bridgeq/internal/dispatch"
	"github.com/mattjoyce/bridgeq/internal/remote"
	"github.com/mattjoyce/bridgeq/internal/retry"
)

const namespace = "bridgeq"

var queueStatuses = []dispatch.Status{
	dispatch.StatusPending,
	dispatch.StatusSubmitting,
	dispatch.StatusSubmitted,
	dispatch.StatusFailed,
	dispatch.StatusCancelled,
}

// Collector holds every bridgeq metric.
type Collector struct {
	registry *prometheus.Registry

	enqueued      *prometheus.CounterVec
	submissions   *prometheus.CounterVec
	submitLatency prometheus.Histogram
	retries       prometheus.Counter
	apiCalls      *prometheus.CounterVec
	apiLatency    *prometheus.HistogramVec
	taskOutcomes  *prometheus.CounterVec
	taskStarts    prometheus.Counter
	queueItems    *prometheus.GaugeVec
}

// NewCollector creates a Collector with Go runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueued_total",
			Help:      "Enqueue requests by priority class and result.",
		}, []string{"class", "result"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submit attempts against the remote queue by outcome.",
		}, []string{"outcome"}),
		submitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submit_duration_seconds",
			Help:      "Duration of submit attempts including transport retries.",
			Buckets:   prometheus.DefBuckets,
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_retries_total",
			Help:      "HTTP retries performed by the remote client.",
		}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_calls_total",
			Help:      "Remote procedure calls by procedure and result code.",
		}, []string{"procedure", "code"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_call_duration_seconds",
			Help:      "Remote procedure call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"procedure"}),
		taskOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_status_total",
			Help:      "Terminal task statuses reported to the dispatcher.",
		}, []string{"status"}),
		taskStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_starts_total",
			Help:      "Highest-priority tasks that started on a bridge.",
		}),
		queueItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_items",
			Help:      "Local queue items by status.",
		}, []string{"status"}),
	}

	c.registry.MustRegister(
		c.enqueued,
		c.submissions,
		c.submitLatency,
		c.retries,
		c.apiCalls,
		c.apiLatency,
		c.taskOutcomes,
		c.taskStarts,
		c.queueItems,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, s := range queueStatuses {
		c.queueItems.WithLabelValues(string(s)).Set(0)
	}
	return c
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ActiveTaskSource reports the current active tasks.
type ActiveTaskSource interface {
	ActiveTasks() []dispatch.ActiveTask
}

// WatchActive registers a gauge that reads the active task count on scrape.
func (c *Collector) WatchActive(src ActiveTaskSource) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_tasks",
		Help:      "Highest-priority tasks currently holding a bridge.",
	}, func() float64 {
		return float64(len(src.ActiveTasks()))
	}))
}

// Enqueued counts one Enqueue call.
func (c *Collector) Enqueued(priority int, err error) {
	class := "normal"
	if priority == dispatch.HighestPriority {
		class = "highest"
	}
	result := "accepted"
	switch {
	case errors.Is(err, dispatch.ErrPriorityConflict):
		result = "conflict"
	case err != nil:
		result = "error"
	}
	c.enqueued.WithLabelValues(class, result).Inc()
}

// Track wraps next to count and time every submit attempt.
func (c *Collector) Track(next dispatch.SubmitFunc) dispatch.SubmitFunc {
	return func(ctx context.Context, data dispatch.Data) (dispatch.SubmitResult, error) {
		start := time.Now()
		res, err := next(ctx, data)
		c.submitLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			c.submissions.WithLabelValues("failed").Inc()
		} else {
			c.submissions.WithLabelValues("submitted").Inc()
		}
		return res, err
	}
}

// OnRetry counts transport retries.
func (c *Collector) OnRetry() retry.Notify {
	return func(int, time.Duration, error) {
		c.retries.Inc()
	}
}

// OnCall records one remote procedure call.
func (c *Collector) OnCall() remote.Observer {
	return func(procedure string, code remote.Code, elapsed time.Duration) {
		label := string(code)
		if label == "" {
			label = "OK"
		}
		c.apiCalls.WithLabelValues(procedure, label).Inc()
		c.apiLatency.WithLabelValues(procedure).Observe(elapsed.Seconds())
	}
}

// QueueListener keeps the per-status queue gauges current.
func (c *Collector) QueueListener() dispatch.Listener {
	return func(items []dispatch.Item) {
		s := dispatch.StatsOf(items)
		counts := map[dispatch.Status]int{
			dispatch.StatusPending:    s.Pending,
			dispatch.StatusSubmitting: s.Submitting,
			dispatch.StatusSubmitted:  s.Submitted,
			dispatch.StatusFailed:     s.Failed,
			dispatch.StatusCancelled:  s.Cancelled,
		}
		for status, n := range counts {
			c.queueItems.WithLabelValues(string(status)).Set(float64(n))
		}
	}
}

// Monitor counts task starts and terminal statuses.
func (c *Collector) Monitor() dispatch.Monitor {
	return dispatch.MonitorFunc(func(ev dispatch.MonitorEvent) {
		switch ev.Type {
		case dispatch.EventTaskStart:
			c.taskStarts.Inc()
		case dispatch.EventTaskStatus:
			c.taskOutcomes.WithLabelValues(string(ev.Status)).Inc()
		}
	})
}
