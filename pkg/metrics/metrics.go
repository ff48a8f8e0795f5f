// Package metrics provides Prometheus instrumentation for the activation and
// signature subsystem.
//
// All recorder methods are nil-safe: a nil *Metrics records nothing with zero
// overhead, so callers never need to guard call sites.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of the trustd server.
type Metrics struct {
	registry *prometheus.Registry

	signatureVerifications *prometheus.CounterVec
	signatureDuration      prometheus.Histogram
	activationTransitions  *prometheus.CounterVec
	activationsExpired     prometheus.Counter
	vaultUnlocks           *prometheus.CounterVec
	callbackDeliveries     *prometheus.CounterVec
	httpRequests           *prometheus.CounterVec
	httpDuration           *prometheus.HistogramVec
}

// New creates a registry with process and Go runtime collectors plus the
// trustd collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry: reg,
		signatureVerifications: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustd_signature_verifications_total",
				Help: "Total signature verification attempts by type and result",
			},
			[]string{"signature_type", "result"}, // result: "valid", "invalid"
		),
		signatureDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trustd_signature_verification_duration_seconds",
				Help:    "Duration of signature verification including the counter window search",
				Buckets: prometheus.DefBuckets,
			},
		),
		activationTransitions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustd_activation_transitions_total",
				Help: "Total activation status transitions by target status",
			},
			[]string{"status"},
		),
		activationsExpired: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "trustd_activations_expired_total",
				Help: "Total pending activations removed by the expiration sweep",
			},
		),
		vaultUnlocks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustd_vault_unlocks_total",
				Help: "Total vault unlock attempts by result",
			},
			[]string{"result"}, // "granted", "denied"
		),
		callbackDeliveries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustd_callback_deliveries_total",
				Help: "Total callback delivery attempts by result",
			},
			[]string{"result"}, // "delivered", "failed", "dropped"
		),
		httpRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustd_http_requests_total",
				Help: "Total HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		httpDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trustd_http_request_duration_seconds",
				Help:    "HTTP request duration by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSignatureVerification records one verification attempt.
func (m *Metrics) RecordSignatureVerification(signatureType string, valid bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.signatureVerifications.WithLabelValues(signatureType, result).Inc()
	m.signatureDuration.Observe(duration.Seconds())
}

// RecordActivationTransition records a status transition of an activation.
func (m *Metrics) RecordActivationTransition(status string) {
	if m == nil {
		return
	}
	m.activationTransitions.WithLabelValues(status).Inc()
}

// RecordActivationsExpired records pending activations removed by the sweep.
func (m *Metrics) RecordActivationsExpired(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.activationsExpired.Add(float64(count))
}

// RecordVaultUnlock records one vault unlock attempt.
func (m *Metrics) RecordVaultUnlock(granted bool) {
	if m == nil {
		return
	}
	result := "denied"
	if granted {
		result = "granted"
	}
	m.vaultUnlocks.WithLabelValues(result).Inc()
}

// RecordCallbackDelivery records the outcome of one callback delivery.
func (m *Metrics) RecordCallbackDelivery(result string) {
	if m == nil {
		return
	}
	m.callbackDeliveries.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}
