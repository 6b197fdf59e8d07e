package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RecordsSkipped reasons.
const (
	SkipLevel     = "level"
	SkipMalformed = "malformed"
	SkipCommit    = "commit"
)

var (
	// Ingest metrics
	RecordsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logmail_records_received_total",
		Help: "Total number of log records read from a source",
	}, []string{"source"})
	RecordsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logmail_records_skipped_total",
		Help: "Total number of log records not forwarded, by reason (" + SkipLevel + ", " + SkipMalformed + ", " + SkipCommit + ")",
	}, []string{"source", "reason"})

	// Mail metrics
	MailSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logmail_mail_sent_total",
		Help: "Total number of notifications delivered by the transport",
	}, []string{"transport"})
	MailFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logmail_mail_failed_total",
		Help: "Total number of notifications the transport failed to deliver",
	}, []string{"transport"})
	WritesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logmail_writes_rejected_total",
		Help: "Total number of records rejected because the stream was ending or closed",
	}, []string{"transport"})
	MailPending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "logmail_mail_pending",
		Help: "Number of sends currently in flight",
	}, []string{"transport"})
	MailSendDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "logmail_mail_send_duration_seconds",
		Help:    "Time spent in a single transport send",
		Buckets: prometheus.DefBuckets,
	}, []string{"transport"})
)

func init() {
	prometheus.MustRegister(RecordsReceived)
	prometheus.MustRegister(RecordsSkipped)
	prometheus.MustRegister(MailSent)
	prometheus.MustRegister(MailFailed)
	prometheus.MustRegister(WritesRejected)
	prometheus.MustRegister(MailPending)
	prometheus.MustRegister(MailSendDuration)
}

// Handler returns an http.Handler exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
