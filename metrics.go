// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package autorpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	callsSent      *prometheus.CounterVec
	callsReceived  prometheus.Counter
	callFailures   *prometheus.CounterVec
	remoteErrors   *prometheus.CounterVec
	advertisements *prometheus.CounterVec
	cachePurges    prometheus.Counter
}

// newMetrics registers the engine counters with reg. A nil reg keeps them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		callsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autorpc",
				Name:      "calls_sent_total",
				Help:      "Call messages sent, by function identifier form",
			},
			[]string{"form"},
		),
		callsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: "autorpc",
			Name:      "calls_received_total",
			Help:      "Call messages received",
		}),
		callFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autorpc",
				Name:      "call_failures_total",
				Help:      "Received calls rejected locally, by error code",
			},
			[]string{"code"},
		),
		remoteErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autorpc",
				Name:      "remote_errors_total",
				Help:      "Error messages received from peers, by error code",
			},
			[]string{"code"},
		),
		advertisements: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autorpc",
				Name:      "index_advertisements_total",
				Help:      "Index advertisements, by direction",
			},
			[]string{"direction"},
		),
		cachePurges: f.NewCounter(prometheus.CounterOpts{
			Namespace: "autorpc",
			Name:      "cache_purges_total",
			Help:      "Remote index caches dropped on disconnect",
		}),
	}
}
