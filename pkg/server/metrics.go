package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatd_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatd_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method"},
	)

	socketsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatd_push_sockets_open",
			Help: "Push sockets currently open",
		},
	)

	messagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatd_messages_posted_total",
			Help: "Total messages posted",
		},
		[]string{"kind"}, // "user" or "system"
	)

	pushesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatd_pushes_delivered_total",
			Help: "Message frames queued to push sockets",
		},
	)

	pushesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatd_pushes_dropped_total",
			Help: "Message frames dropped because a socket was not keeping up",
		},
	)
)
