// Package metrics provides the Prometheus metrics exported by the sentinel.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains every sentinel metric. All methods are safe on a nil
// receiver so components can run without a registry.
type Metrics struct {
	DetectionsAdmitted prometheus.Counter
	DetectionsRejected *prometheus.CounterVec
	EventsPersisted    prometheus.Counter
	EventsQueued       prometheus.Counter
	QueueDepth         prometheus.Gauge
	QueueCorrupt       prometheus.Counter
	DrainRuns          *prometheus.CounterVec
	DrainRecords       *prometheus.CounterVec
	UploadLatency      prometheus.Histogram
	UploadFailures     prometheus.Counter
	ActuationDuration  prometheus.Histogram
	ActuationFailures  prometheus.Counter
	ActuationBusy      prometheus.Gauge
	ConnectivityOnline prometheus.Gauge
	SerialReads        *prometheus.CounterVec
	Notifications      *prometheus.CounterVec
}

// New creates the metrics and registers them with registry
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register sentinel metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.DetectionsAdmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_detections_admitted_total",
		Help: "Detections admitted by the gate",
	})
	m.DetectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_detections_rejected_total",
		Help: "Detections rejected by the gate, by reason",
	}, []string{"reason"})
	m.EventsPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_events_persisted_total",
		Help: "Events accepted by the remote store",
	})
	m.EventsQueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_events_queued_total",
		Help: "Events written to the local queue file",
	})
	m.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_queue_depth",
		Help: "Records currently held in the queue file",
	})
	m.QueueCorrupt = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_queue_corrupt_total",
		Help: "Times the queue file could not be decoded and was treated as empty",
	})
	m.DrainRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_queue_drains_total",
		Help: "Queue drain cycles, by result",
	}, []string{"result"})
	m.DrainRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_queue_drained_records_total",
		Help: "Records leaving the queue during a drain, by outcome",
	}, []string{"outcome"})
	m.UploadLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_upload_latency_seconds",
		Help:    "Latency of remote store uploads",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	})
	m.UploadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_upload_failures_total",
		Help: "Remote store uploads that failed",
	})
	m.ActuationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_actuation_duration_seconds",
		Help:    "Duration of response sequences",
		Buckets: prometheus.LinearBuckets(5, 5, 8),
	})
	m.ActuationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_actuation_failures_total",
		Help: "Response sequences that ended in an actuator failure",
	})
	m.ActuationBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_actuation_busy",
		Help: "1 while a response sequence is running",
	})
	m.ConnectivityOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_connectivity_online",
		Help: "Result of the last reachability probe (1 online, 0 offline)",
	})
	m.SerialReads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_serial_reads_total",
		Help: "Sensor snapshot reads, by result",
	}, []string{"result"})
	m.Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_notifications_total",
		Help: "Detection announcements, by result",
	}, []string{"result"})
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.DetectionsAdmitted, m.DetectionsRejected, m.EventsPersisted, m.EventsQueued,
		m.QueueDepth, m.QueueCorrupt, m.DrainRuns, m.DrainRecords,
		m.UploadLatency, m.UploadFailures,
		m.ActuationDuration, m.ActuationFailures, m.ActuationBusy,
		m.ConnectivityOnline, m.SerialReads, m.Notifications,
	}
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordAdmitted counts an admitted detection
func (m *Metrics) RecordAdmitted() {
	if m == nil {
		return
	}
	m.DetectionsAdmitted.Inc()
}

// RecordRejected counts a rejected detection
func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.DetectionsRejected.WithLabelValues(reason).Inc()
}

// RecordUpload records one upload attempt
func (m *Metrics) RecordUpload(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.UploadLatency.Observe(d.Seconds())
	if err != nil {
		m.UploadFailures.Inc()
		return
	}
	m.EventsPersisted.Inc()
}

// RecordQueued counts an event written to the queue
func (m *Metrics) RecordQueued() {
	if m == nil {
		return
	}
	m.EventsQueued.Inc()
}

// SetQueueDepth sets the current queue depth
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordCorruptQueue counts a queue file that failed to decode
func (m *Metrics) RecordCorruptQueue() {
	if m == nil {
		return
	}
	m.QueueCorrupt.Inc()
}

// RecordDrain records the outcome of a drain cycle
func (m *Metrics) RecordDrain(uploaded, skipped int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "aborted"
	}
	m.DrainRuns.WithLabelValues(result).Inc()
	m.DrainRecords.WithLabelValues("uploaded").Add(float64(uploaded))
	m.DrainRecords.WithLabelValues("skipped").Add(float64(skipped))
}

// SetActuationBusy flags whether a sequence is running
func (m *Metrics) SetActuationBusy(busy bool) {
	if m == nil {
		return
	}
	if busy {
		m.ActuationBusy.Set(1)
	} else {
		m.ActuationBusy.Set(0)
	}
}

// RecordActuation records a finished response sequence
func (m *Metrics) RecordActuation(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ActuationDuration.Observe(d.Seconds())
	if err != nil {
		m.ActuationFailures.Inc()
	}
}

// SetOnline records the last probe result
func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.ConnectivityOnline.Set(1)
	} else {
		m.ConnectivityOnline.Set(0)
	}
}

// RecordSerialRead counts a sensor read by result
func (m *Metrics) RecordSerialRead(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SerialReads.WithLabelValues("unavailable").Inc()
		return
	}
	m.SerialReads.WithLabelValues("ok").Inc()
}

// RecordNotification counts a detection announcement by result
func (m *Metrics) RecordNotification(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Notifications.WithLabelValues("error").Inc()
		return
	}
	m.Notifications.WithLabelValues("ok").Inc()
}
