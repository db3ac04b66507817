package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LiveStats provides the metrics collector access to live orchestration state.
type LiveStats interface {
	ActiveSessionCount() int
	RunningJobCount() int
	SubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats LiveStats

	activeSessions *prometheus.Desc
	runningJobs    *prometheus.Desc
	sseSubscribers *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// stats may be nil (gauges report 0).
func NewCollector(stats LiveStats) *Collector {
	return &Collector{
		stats: stats,
		activeSessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sessions_active"),
			"Current number of live inference sessions.",
			nil, nil,
		),
		runningJobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "transcription_jobs_running"),
			"Transcription jobs currently in progress.",
			nil, nil,
		),
		sseSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sse_subscribers_active"),
			"Current number of SSE subscribers.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessions
	ch <- c.runningJobs
	ch <- c.sseSubscribers
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats == nil {
		ch <- prometheus.MustNewConstMetric(c.activeSessions, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.runningJobs, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.activeSessions, prometheus.GaugeValue, float64(c.stats.ActiveSessionCount()))
	ch <- prometheus.MustNewConstMetric(c.runningJobs, prometheus.GaugeValue, float64(c.stats.RunningJobCount()))
	ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, float64(c.stats.SubscriberCount()))
}
