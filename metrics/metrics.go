// Package metrics exposes client-side Prometheus counters for the messaging
// core. Collectors register with the default registry on import.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorchat_messages_sent_total",
			Help: "Messages transmitted by the local user",
		},
		[]string{"kind"},
	)

	messagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorchat_messages_received_total",
			Help: "Inbound messages merged into the active transcript",
		},
		[]string{"kind"},
	)

	messagesDiscardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorchat_messages_discarded_total",
			Help: "Inbound events dropped during reconciliation",
		},
		[]string{"reason"},
	)

	connectionStatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorchat_connection_state_transitions_total",
			Help: "Connection state transitions by target state",
		},
		[]string{"state"},
	)

	reconnectAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tutorchat_reconnect_attempts_total",
			Help: "Reconnect dials after a dropped connection",
		},
	)

	readCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorchat_read_commits_total",
			Help: "Mark-read batches sent to the server",
		},
		[]string{"result"},
	)

	messagesMarkedReadTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tutorchat_messages_marked_read_total",
			Help: "Messages flipped to read after a confirmed commit",
		},
	)

	attachmentRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorchat_attachment_rejections_total",
			Help: "Attachments refused before transmission",
		},
		[]string{"reason"},
	)

	attachmentBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tutorchat_attachment_bytes",
			Help:    "Size of encoded attachments",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordSent(kind string) {
	messagesSentTotal.WithLabelValues(kind).Inc()
}

func RecordReceived(kind string) {
	messagesReceivedTotal.WithLabelValues(kind).Inc()
}

func RecordDiscarded(reason string) {
	messagesDiscardedTotal.WithLabelValues(reason).Inc()
}

func RecordConnectionState(state string) {
	connectionStatesTotal.WithLabelValues(state).Inc()
}

func RecordReconnectAttempt() {
	reconnectAttemptsTotal.Inc()
}

// RecordReadCommit counts one mark-read batch and, on success, the number of
// messages it flipped.
func RecordReadCommit(ok bool, flipped int) {
	if !ok {
		readCommitsTotal.WithLabelValues("failed").Inc()
		return
	}
	readCommitsTotal.WithLabelValues("ok").Inc()
	if flipped > 0 {
		messagesMarkedReadTotal.Add(float64(flipped))
	}
}

func RecordAttachmentRejected(reason string) {
	attachmentRejectionsTotal.WithLabelValues(reason).Inc()
}

func RecordAttachmentEncoded(size int64) {
	attachmentBytes.Observe(float64(size))
}
