package prometheus

import (
	"context"
	"strconv"
	"time"
)

// AppMetrics holds every application metric.
type AppMetrics struct {
	// HTTP layer
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec

	// Extraction pipeline
	ExtractionsTotal   CounterVec
	ExtractionDuration HistogramVec
	ExtractionMentions HistogramVec
	ExtractionAudited  CounterVec

	// Scheduling
	SweepsTotal    CounterVec
	SweepDuration  HistogramVec
	SweepFired     CounterVec
	SweepMissed    CounterVec
	SweepsDegraded CounterVec
	LeasesLost     CounterVec
	PartitionsHeld GaugeVec

	// Notification dispatch
	DispatchTotal CounterVec
	OutboxDepth   GaugeVec

	// Infrastructure
	DBQueryDuration HistogramVec
	CacheHitsTotal  CounterVec
	CacheMissTotal  CounterVec
	ErrorsTotal     CounterVec
}

var (
	defaultHTTPDurationBuckets  = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}
	defaultSweepDurationBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 15, 30}
	defaultMentionCountBuckets  = []float64{0, 1, 2, 3, 5, 8, 13, 21}
	defaultDBDurationBuckets    = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1}
)

// NewAppMetrics registers every metric on the collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", defaultHTTPDurationBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "In-flight HTTP requests", "method")

	m.ExtractionsTotal = collector.RegisterCounter("extractions_total", "Prescription extraction runs", "outcome")
	m.ExtractionDuration = collector.RegisterHistogram("extraction_duration_seconds", "Extraction pipeline duration", defaultHTTPDurationBuckets)
	m.ExtractionMentions = collector.RegisterHistogram("extraction_mentions", "Medication mentions per prescription", defaultMentionCountBuckets)
	m.ExtractionAudited = collector.RegisterCounter("extraction_audited_total", "Extracted fields flagged for review")

	m.SweepsTotal = collector.RegisterCounter("scheduler_sweeps_total", "Partition sweeps", "partition")
	m.SweepDuration = collector.RegisterHistogram("scheduler_sweep_duration_seconds", "Partition sweep duration", defaultSweepDurationBuckets, "partition")
	m.SweepFired = collector.RegisterCounter("scheduler_events_fired_total", "Dose events fired", "partition")
	m.SweepMissed = collector.RegisterCounter("scheduler_events_missed_total", "Dose events expired to missed", "partition")
	m.SweepsDegraded = collector.RegisterCounter("scheduler_sweeps_degraded_total", "Sweeps that ran longer than half the tick interval", "partition")
	m.LeasesLost = collector.RegisterCounter("scheduler_leases_lost_total", "Partition leases lost mid-sweep", "partition")
	m.PartitionsHeld = collector.RegisterGauge("scheduler_partitions_held", "Partitions currently leased by this instance", "instance")

	m.DispatchTotal = collector.RegisterCounter("reminder_dispatch_total", "Reminder delivery attempts", "outcome")
	m.OutboxDepth = collector.RegisterGauge("reminder_outbox_depth", "Outbox rows by status", "status")

	m.DBQueryDuration = collector.RegisterHistogram("db_query_duration_seconds", "Database query duration", defaultDBDurationBuckets, "operation")
	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits", "cache")
	m.CacheMissTotal = collector.RegisterCounter("cache_misses_total", "Cache misses", "cache")
	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Errors by component", "component", "code")

	return m
}

// RecordHTTPRequest observes one completed request.
func (m *AppMetrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCacheAccess counts a hit or miss for one cache.
func (m *AppMetrics) RecordCacheAccess(cache string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissTotal.WithLabelValues(cache).Inc()
	}
}

// RecordError counts one error by component and code.
func (m *AppMetrics) RecordError(component, code string) {
	m.ErrorsTotal.WithLabelValues(component, code).Inc()
}

// ─────────────────────────────────────────────────────────────────────────────
// Domain metric adapters
// ─────────────────────────────────────────────────────────────────────────────

// ExtractionMetrics feeds the extraction pipeline's counters.
type ExtractionMetrics struct{ app *AppMetrics }

func NewExtractionMetrics(app *AppMetrics) *ExtractionMetrics {
	return &ExtractionMetrics{app: app}
}

func (m *ExtractionMetrics) RecordExtraction(_ context.Context, mentions, audited int, durationMs float64) {
	outcome := "extracted"
	if mentions == 0 {
		outcome = "empty"
	}
	m.app.ExtractionsTotal.WithLabelValues(outcome).Inc()
	m.app.ExtractionDuration.WithLabelValues().Observe(durationMs / 1000)
	m.app.ExtractionMentions.WithLabelValues().Observe(float64(mentions))
	m.app.ExtractionAudited.WithLabelValues().Add(float64(audited))
}

// SchedulerMetrics feeds the sweep loop's counters.
type SchedulerMetrics struct{ app *AppMetrics }

func NewSchedulerMetrics(app *AppMetrics) *SchedulerMetrics {
	return &SchedulerMetrics{app: app}
}

func (m *SchedulerMetrics) RecordSweep(partition int, fired, missed int, duration time.Duration) {
	p := strconv.Itoa(partition)
	m.app.SweepsTotal.WithLabelValues(p).Inc()
	m.app.SweepDuration.WithLabelValues(p).Observe(duration.Seconds())
	m.app.SweepFired.WithLabelValues(p).Add(float64(fired))
	m.app.SweepMissed.WithLabelValues(p).Add(float64(missed))
}

func (m *SchedulerMetrics) RecordSweepDegraded(partition int) {
	m.app.SweepsDegraded.WithLabelValues(strconv.Itoa(partition)).Inc()
}

func (m *SchedulerMetrics) RecordLeaseLost(partition int) {
	m.app.LeasesLost.WithLabelValues(strconv.Itoa(partition)).Inc()
}

// DispatchMetrics feeds the outbox dispatcher's counters.
type DispatchMetrics struct{ app *AppMetrics }

func NewDispatchMetrics(app *AppMetrics) *DispatchMetrics {
	return &DispatchMetrics{app: app}
}

func (m *DispatchMetrics) RecordDispatch(outcome string) {
	m.app.DispatchTotal.WithLabelValues(outcome).Inc()
}
