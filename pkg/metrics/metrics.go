// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

// Package metrics holds the process-wide Prometheus collectors shared
// across the TCP, UDP, and HTTP surfaces.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// MessagesTotal counts every control or voice message the server
	// sends or receives, labeled by protocol (tcp/udp), direction
	// (input/output), and message kind.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zumble_messages_total",
		Help: "Total number of messages processed, by protocol/direction/kind.",
	}, []string{"protocol", "direction", "kind"})

	// MessagesBytes counts bytes moved by the same dimensions as
	// MessagesTotal.
	MessagesBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zumble_messages_bytes",
		Help: "Total bytes of messages processed, by protocol/direction/kind.",
	}, []string{"protocol", "direction", "kind"})

	// ClientsTotal is the current number of connected clients.
	ClientsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zumble_clients_total",
		Help: "Number of clients currently connected.",
	})
)

func init() {
	prometheus.MustRegister(MessagesTotal, MessagesBytes, ClientsTotal)
}

// Bump records one message of length n bytes in the given direction.
func Bump(protocol, direction, kind string, n int) {
	MessagesTotal.WithLabelValues(protocol, direction, kind).Inc()
	MessagesBytes.WithLabelValues(protocol, direction, kind).Add(float64(n))
}
