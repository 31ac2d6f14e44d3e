package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for Herald
type Metrics struct {
	// Dispatch counters
	ContactsSentTotal    *prometheus.CounterVec
	ContactsFailedTotal  *prometheus.CounterVec
	ContactsSkippedTotal *prometheus.CounterVec
	FallbacksTotal       *prometheus.CounterVec

	// Campaign gauges and counters
	CampaignsRunning    prometheus.Gauge
	CampaignsTotal      *prometheus.CounterVec
	CampaignPausesTotal *prometheus.CounterVec
	QueueRemaining      *prometheus.GaugeVec

	// Throttle
	ThrottleWaitsTotal *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ContactsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_contacts_sent_total",
				Help: "Total number of successfully delivered contacts",
			},
			[]string{"channel"},
		),
		ContactsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_contacts_failed_total",
				Help: "Total number of failed contacts",
			},
			[]string{"channel"},
		),
		ContactsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_contacts_skipped_total",
				Help: "Total number of skipped contacts",
			},
			[]string{"reason"},
		),
		FallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_channel_fallbacks_total",
				Help: "Total number of universal-campaign channel fallbacks",
			},
			[]string{"from"},
		),

		CampaignsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_campaigns_running",
				Help: "Number of campaigns currently running",
			},
		),
		CampaignsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_campaigns_total",
				Help: "Total number of campaign runs by final status",
			},
			[]string{"status"},
		),
		CampaignPausesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_campaign_pauses_total",
				Help: "Total number of automatic campaign pauses",
			},
			[]string{"reason"},
		),
		QueueRemaining: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "herald_queue_remaining",
				Help: "Remaining work items per running campaign",
			},
			[]string{"campaign_id"},
		),

		ThrottleWaitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_throttle_waits_total",
				Help: "Total number of dispatch waits caused by throttle caps",
			},
			[]string{"profile_id"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "herald_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.ContactsSentTotal,
		m.ContactsFailedTotal,
		m.ContactsSkippedTotal,
		m.FallbacksTotal,
		m.CampaignsRunning,
		m.CampaignsTotal,
		m.CampaignPausesTotal,
		m.QueueRemaining,
		m.ThrottleWaitsTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncContactsSent increments the delivered contact counter
func IncContactsSent(channel string) {
	m := Global()
	if m != nil {
		m.ContactsSentTotal.WithLabelValues(channel).Inc()
	}
}

// IncContactsFailed increments the failed contact counter
func IncContactsFailed(channel string) {
	m := Global()
	if m != nil {
		m.ContactsFailedTotal.WithLabelValues(channel).Inc()
	}
}

// IncContactsSkipped increments the skipped contact counter
func IncContactsSkipped(reason string) {
	m := Global()
	if m != nil {
		m.ContactsSkippedTotal.WithLabelValues(reason).Inc()
	}
}

// AddContactsSkipped adds a batch of selection-time skips
func AddContactsSkipped(reason string, n float64) {
	m := Global()
	if m != nil {
		m.ContactsSkippedTotal.WithLabelValues(reason).Add(n)
	}
}

// IncFallbacks counts a universal-campaign channel fallback
func IncFallbacks(from string) {
	m := Global()
	if m != nil {
		m.FallbacksTotal.WithLabelValues(from).Inc()
	}
}

// AddCampaignsRunning adjusts the running campaign gauge
func AddCampaignsRunning(delta float64) {
	m := Global()
	if m != nil {
		m.CampaignsRunning.Add(delta)
	}
}

// IncCampaignsTotal counts a finished campaign run
func IncCampaignsTotal(status string) {
	m := Global()
	if m != nil {
		m.CampaignsTotal.WithLabelValues(status).Inc()
	}
}

// IncCampaignPauses counts an automatic pause
func IncCampaignPauses(reason string) {
	m := Global()
	if m != nil {
		m.CampaignPausesTotal.WithLabelValues(reason).Inc()
	}
}

// SetQueueRemaining reports remaining items for a campaign
func SetQueueRemaining(campaignID string, n float64) {
	m := Global()
	if m != nil {
		m.QueueRemaining.WithLabelValues(campaignID).Set(n)
	}
}

// DeleteQueueRemaining drops the gauge for a finished campaign
func DeleteQueueRemaining(campaignID string) {
	m := Global()
	if m != nil {
		m.QueueRemaining.DeleteLabelValues(campaignID)
	}
}

// IncThrottleWaits counts one throttle-induced wait
func IncThrottleWaits(profileID string) {
	m := Global()
	if m != nil {
		m.ThrottleWaitsTotal.WithLabelValues(profileID).Inc()
	}
}

// IncAPIErrors increments the API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
