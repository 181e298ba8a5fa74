// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

import (
	"time"

	"go.uber.org/zap"
)

// Lazy Pirate defaults.
const (
	DefaultTimeout = 5000 * time.Millisecond
	DefaultRetries = 3
	DefaultPacing  = 500 * time.Millisecond
)

// MTU is the largest publish payload sent as a single datagram.
const MTU = 1500

// Option configures contexts and components.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *Metrics
	timeout time.Duration
	retries int
	pacing  time.Duration
	mtu     int
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:  zap.NewNop(),
		timeout: DefaultTimeout,
		retries: DefaultRetries,
		pacing:  DefaultPacing,
		mtu:     MTU,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics sink. A nil value disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTimeout sets how long a Client polls for a reply per attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetries sets how many attempts a Client makes before abandoning.
func WithRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.retries = n
		}
	}
}

// WithPacing sets the delay between sending a request and polling for it.
func WithPacing(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.pacing = d
		}
	}
}

// WithMTU overrides the publish fragment limit.
func WithMTU(n int) Option {
	return func(o *options) {
		if n > 1 {
			o.mtu = n
		}
	}
}
