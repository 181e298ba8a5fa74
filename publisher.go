// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Publisher sends frames to the group derived from its endpoint. Frames
// longer than the MTU are split on field boundaries; receivers get each
// fragment as a separate message.
type Publisher struct {
	sock     Radio
	endpoint Endpoint
	group    string
	opts     *options
	logger   *zap.Logger
}

// NewPublisher connects a radio socket to ep.
func NewPublisher(tctx *Context, ep Endpoint, opts ...Option) (*Publisher, error) {
	o := newOptions(opts)
	sock, err := tctx.Radio(ep)
	if err != nil {
		return nil, fmt.Errorf("publisher connect: %w", err)
	}
	group := ep.Group()
	return &Publisher{
		sock:     sock,
		endpoint: ep,
		group:    group,
		opts:     o,
		logger: o.logger.Named("publisher").With(
			zap.String("endpoint", ep.Address),
			zap.String("group", group)),
	}, nil
}

// Group is the group every message is tagged with.
func (p *Publisher) Group() string {
	return p.group
}

// Publish sends message, fragmenting it when it exceeds the MTU.
func (p *Publisher) Publish(ctx context.Context, message string) error {
	if len(message) <= p.opts.mtu {
		if err := p.sock.Send(ctx, p.group, terminate(message)); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		p.opts.metrics.published(1)
		return nil
	}

	fragments := fragment(message, p.opts.mtu)
	for i, f := range fragments {
		if len(f) >= p.opts.mtu {
			p.logger.Warn("field does not fit in one fragment", zap.Int("size", len(f)))
		}
		if err := p.sock.Send(ctx, p.group, terminate(f)); err != nil {
			return fmt.Errorf("publish fragment %d/%d: %w", i+1, len(fragments), err)
		}
	}
	p.logger.Debug("published fragmented frame",
		zap.Int("size", len(message)),
		zap.Int("fragments", len(fragments)))
	p.opts.metrics.published(len(fragments))
	return nil
}

// Close closes the socket.
func (p *Publisher) Close() error {
	return p.sock.Close()
}

// fragment packs comma-terminated fields greedily into chunks shorter than
// mtu. A field that cannot fit on its own becomes a chunk by itself.
func fragment(message string, mtu int) []string {
	var (
		out []string
		acc strings.Builder
	)
	for _, field := range strings.Split(message, fieldSep) {
		if field == "" {
			continue
		}
		if acc.Len() > 0 && acc.Len()+len(field)+len(fieldSep) >= mtu {
			out = append(out, acc.String())
			acc.Reset()
		}
		acc.WriteString(field)
		acc.WriteString(fieldSep)
	}
	if acc.Len() > 0 {
		out = append(out, acc.String())
	}
	return out
}
