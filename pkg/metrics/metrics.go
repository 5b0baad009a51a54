package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvitesCreated counts invites persisted by the generate flow.
	InvitesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inviteqr_invites_created_total",
			Help: "Total number of invites created",
		},
	)

	// Validations counts validation requests by outcome
	// (no_symbol|not_found|validated|already_validated).
	Validations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inviteqr_validations_total",
			Help: "Total number of invite validation attempts",
		},
		[]string{"outcome"},
	)

	// Invites tracks stored invites by state (created|validated).
	Invites = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inviteqr_invites",
			Help: "Number of stored invites by state",
		},
		[]string{"state"},
	)

	// QRCodeEncode measures symbol rendering time.
	QRCodeEncode = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inviteqr_qrcode_encode_seconds",
			Help:    "Time spent rendering QR code images",
			Buckets: prometheus.DefBuckets,
		},
	)

	// QRCodeDecode measures symbol detection time.
	QRCodeDecode = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inviteqr_qrcode_decode_seconds",
			Help:    "Time spent detecting QR codes in images",
			Buckets: prometheus.DefBuckets,
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inviteqr_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// MaintenanceRuns counts background job executions by job and result (success|failure).
var MaintenanceRuns = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "inviteqr_maintenance_runs_total",
		Help: "Total number of maintenance job runs",
	},
	[]string{"job", "result"},
)
