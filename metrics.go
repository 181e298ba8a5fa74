// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by the components of one
// process. All methods accept a nil receiver.
type Metrics struct {
	requests        *prometheus.CounterVec
	clientAttempts  prometheus.Counter
	clientTimeouts  prometheus.Counter
	clientAbandoned prometheus.Counter
	publishes       prometheus.Counter
	fragments       prometheus.Counter
	received        prometheus.Counter
}

// NewMetrics creates and registers the collectors. A nil registerer returns
// nil metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pointbus",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Requests handled by op and reply status",
		}, []string{"op", "status"}),
		clientAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pointbus",
			Subsystem: "client",
			Name:      "attempts_total",
			Help:      "Requests sent including resends",
		}),
		clientTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pointbus",
			Subsystem: "client",
			Name:      "timeouts_total",
			Help:      "Attempts that received no reply in time",
		}),
		clientAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pointbus",
			Subsystem: "client",
			Name:      "abandoned_total",
			Help:      "Requests abandoned after exhausting retries",
		}),
		publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pointbus",
			Subsystem: "publisher",
			Name:      "publishes_total",
			Help:      "Logical publish calls",
		}),
		fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pointbus",
			Subsystem: "publisher",
			Name:      "fragments_total",
			Help:      "Datagrams sent by publishers",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pointbus",
			Subsystem: "subscriber",
			Name:      "messages_total",
			Help:      "Messages delivered to subscriber handlers",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.requests, m.clientAttempts, m.clientTimeouts, m.clientAbandoned,
		m.publishes, m.fragments, m.received,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) request(op, reply string) {
	if m == nil {
		return
	}
	op = strings.ToUpper(op)
	switch op {
	case OpQuery, OpRead, OpWrite:
	default:
		op = "UNKNOWN"
	}
	status, _, _ := strings.Cut(reply, opSep)
	m.requests.WithLabelValues(op, status).Inc()
}

func (m *Metrics) attempt() {
	if m != nil {
		m.clientAttempts.Inc()
	}
}

func (m *Metrics) timeout() {
	if m != nil {
		m.clientTimeouts.Inc()
	}
}

func (m *Metrics) abandoned() {
	if m != nil {
		m.clientAbandoned.Inc()
	}
}

func (m *Metrics) published(fragments int) {
	if m == nil {
		return
	}
	m.publishes.Inc()
	m.fragments.Add(float64(fragments))
}

func (m *Metrics) delivered() {
	if m != nil {
		m.received.Inc()
	}
}
