// Package metrics — Prometheus-метрики сервиса чата (/metrics).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat"

var (
	// WSConnections — живые соединения по ролям.
	WSConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Live websocket connections by channel-space.",
	}, []string{"role"})

	OnlineParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "online_participants",
		Help:      "Participants with at least one live connection.",
	})

	WSEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_events_total",
		Help:      "Inbound websocket events by type and outcome.",
	}, []string{"type", "outcome"})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Messages persisted by sender role.",
	}, []string{"role"})

	ConversationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversations_created_total",
		Help:      "Direct conversations created on first contact.",
	})

	DroppedSends = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_dropped_sends_total",
		Help:      "Outbound frames dropped because the client buffer was full or closed.",
	})

	HTTPPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_panics_total",
		Help:      "Handler panics recovered by the HTTP middleware.",
	})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
